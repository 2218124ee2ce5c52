package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestNopHandler(t *testing.T) {
	h := nopHandler{}
	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
		if h.Enabled(context.Background(), level) {
			t.Errorf("nopHandler.Enabled(%v) = true, want false", level)
		}
	}
	if err := h.Handle(context.Background(), slog.Record{}); err != nil {
		t.Errorf("nopHandler.Handle() = %v, want nil", err)
	}
	if _, ok := h.WithAttrs([]slog.Attr{slog.String("key", "val")}).(nopHandler); !ok {
		t.Error("WithAttrs did not return a nopHandler")
	}
	if _, ok := h.WithGroup("group").(nopHandler); !ok {
		t.Error("WithGroup did not return a nopHandler")
	}
}

func TestSetAndEnabled(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { Set(orig) })

	Set(nil)
	if Enabled(slog.LevelError) {
		t.Error("silent logger reports Error enabled")
	}

	var buf bytes.Buffer
	Set(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	if Enabled(slog.LevelDebug) {
		t.Error("Debug enabled on an Info logger")
	}
	if !Enabled(slog.LevelWarn) {
		t.Error("Warn disabled on an Info logger")
	}
	Logger().Info("arena grew", "to", 8)
	if !strings.Contains(buf.String(), "arena grew") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestLoggerConcurrentAccess(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { Set(orig) })

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			Logger().Debug("concurrent read")
		}()
		go func() {
			defer wg.Done()
			Set(slog.Default())
			Set(nil)
		}()
	}
	wg.Wait()
}
