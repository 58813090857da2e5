package safe

import (
	"ChatRelay/logger"
	"ChatRelay/tools/errs"

	"go.uber.org/zap"
)

// SafeGo starts a new goroutine that recovers from panic,
// so that panics don't crash the entire program.
func SafeGo(name string, f func()) {
	go func() {
		defer Recover(name)
		f()
	}()
}

// Recover logs a recovered panic; use as `defer safe.Recover("name")`.
func Recover(name string) {
	if r := recover(); r != nil {
		logger.Error("[SafeGo] panic recovered", zap.String("name", name), zap.Error(errs.ErrPanic(r)))
	}
}
