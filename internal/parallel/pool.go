// Package parallel runs section bake jobs on a fixed set of goroutines.
package parallel

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/gogpu/voxelframe/internal/logging"
)

// Job is one unit of background work.
type Job func()

// Pool is a work-stealing pool of goroutines.
//
// Every worker owns a bounded queue. An idle worker steals from the other
// queues before blocking on its own, so one slow bake does not leave the
// rest of its queue waiting.
//
// Pool is safe for concurrent use.
type Pool struct {
	workers int
	queues  []chan Job
	done    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool

	// inflight counts jobs accepted but not yet finished.
	inflight atomic.Int64
	panics   atomic.Int64
}

// NewPool starts a pool with the given number of workers.
// If workers is 0 or negative, GOMAXPROCS is used. queueDepth bounds each
// worker's queue; values below 8 are raised to 8.
func NewPool(workers, queueDepth int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if queueDepth < 8 {
		queueDepth = 8
	}

	p := &Pool{
		workers: workers,
		queues:  make([]chan Job, workers),
		done:    make(chan struct{}),
	}
	for i := range workers {
		p.queues[i] = make(chan Job, queueDepth)
	}
	p.running.Store(true)

	p.wg.Add(workers)
	for i := range workers {
		go p.worker(i)
	}
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	own := p.queues[id]
	for {
		select {
		case <-p.done:
			p.drain(own)
			return
		case job := <-own:
			p.run(job)
		default:
			if job := p.steal(id); job != nil {
				p.run(job)
				continue
			}
			select {
			case <-p.done:
				p.drain(own)
				return
			case job := <-own:
				p.run(job)
			}
		}
	}
}

// run executes job and keeps the worker alive if it panics.
func (p *Pool) run(job Job) {
	defer p.inflight.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			logging.Logger().Error("parallel: job panicked", slog.Any("panic", r))
		}
	}()
	job()
}

func (p *Pool) drain(q chan Job) {
	for {
		select {
		case job := <-q:
			p.run(job)
		default:
			return
		}
	}
}

func (p *Pool) steal(self int) Job {
	for i := range p.workers {
		if i == self {
			continue
		}
		select {
		case job := <-p.queues[i]:
			return job
		default:
		}
	}
	return nil
}

// TrySubmit queues job on the least loaded worker without blocking.
// It reports false when the pool is closed or every queue is full; the
// caller is expected to retry later.
func (p *Pool) TrySubmit(job Job) bool {
	if job == nil || !p.running.Load() {
		return false
	}

	start := p.shortestQueue()
	for n := range p.workers {
		q := p.queues[(start+n)%p.workers]
		p.inflight.Add(1)
		select {
		case q <- job:
			return true
		default:
			p.inflight.Add(-1)
		}
	}
	return false
}

func (p *Pool) shortestQueue() int {
	idx, shortest := 0, len(p.queues[0])
	for i := 1; i < p.workers; i++ {
		if n := len(p.queues[i]); n < shortest {
			idx, shortest = i, n
		}
	}
	return idx
}

// Close stops accepting work, finishes everything already queued and
// stops the workers. Close is safe to call multiple times.
func (p *Pool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
}

// Workers returns the number of workers.
func (p *Pool) Workers() int { return p.workers }

// Running reports whether the pool accepts work.
func (p *Pool) Running() bool { return p.running.Load() }

// Inflight returns the number of accepted jobs that have not finished.
func (p *Pool) Inflight() int { return int(p.inflight.Load()) }

// Panics returns the number of jobs that panicked.
func (p *Pool) Panics() int { return int(p.panics.Load()) }
