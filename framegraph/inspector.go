package framegraph

import "time"

// PassRecord is one pass observed by a Recorder.
type PassRecord struct {
	Name     string
	Duration time.Duration
	Err      error
}

// Recorder is an Inspector that keeps the name, CPU time and result of
// every pass it sees.
type Recorder struct {
	Passes []PassRecord

	start time.Time
}

// BeforePass implements Inspector.
func (r *Recorder) BeforePass(string, int) {
	r.start = time.Now()
}

// AfterPass implements Inspector.
func (r *Recorder) AfterPass(name string, _ int, err error) {
	r.Passes = append(r.Passes, PassRecord{Name: name, Duration: time.Since(r.start), Err: err})
}

// Names returns the recorded pass names in order.
func (r *Recorder) Names() []string {
	out := make([]string, len(r.Passes))
	for i, p := range r.Passes {
		out[i] = p.Name
	}
	return out
}

// Reset clears the recorded passes.
func (r *Recorder) Reset() {
	r.Passes = r.Passes[:0]
}
