package safego

import (
	"go.uber.org/zap"
)

// Go launches a goroutine with panic recovery.
// A panic is logged with its stack and the goroutine exits without taking
// the console down with it.
//
//	safego.Go(logger, "mark-read", func() {
//	    _ = api.MarkRead(ctx, id)
//	})
func Go(logger *zap.Logger, name string, fn func()) {
	go Run(logger, name, fn)
}

// Run calls fn on the current goroutine with the same recovery as Go.
func Run(logger *zap.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Goroutine panicked",
				zap.String("goroutine", name),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()
	fn()
}

// Runner schedules fire-and-forget work. Components take a Runner instead of
// calling Go directly so tests can run the work inline.
type Runner func(name string, fn func())

// Background returns a Runner that uses Go.
func Background(logger *zap.Logger) Runner {
	return func(name string, fn func()) {
		Go(logger, name, fn)
	}
}

// Inline returns a Runner that executes work synchronously.
func Inline(logger *zap.Logger) Runner {
	return func(name string, fn func()) {
		Run(logger, name, fn)
	}
}
