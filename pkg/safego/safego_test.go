package safego

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestGo_RecoversPanic(t *testing.T) {
	done := make(chan struct{})
	Go(zap.NewNop(), "panicky", func() {
		defer close(done)
		panic("boom")
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}

func TestInline_RunsSynchronously(t *testing.T) {
	ran := false
	Inline(zap.NewNop())("inline", func() { ran = true })
	if !ran {
		t.Error("inline runner should execute before returning")
	}

	// A panic in inline work must not escape.
	Inline(zap.NewNop())("inline-panic", func() { panic("boom") })
}
