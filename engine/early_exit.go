package engine

import (
	"context"
	"sync/atomic"
)

// EarlyExit is a process-wide stop request shared by engines.
//
// Engines check it at loop, batch and per-input granularity. Records
// already appended to shard files stay valid after an early exit.
type EarlyExit struct {
	requested atomic.Bool
	code      atomic.Int32
}

// Request asks every engine to stop. The first caller's code wins.
func (e *EarlyExit) Request(code int) {
	if e.requested.CompareAndSwap(false, true) {
		e.code.Store(int32(code))
	}
}

// Requested reports whether a stop was requested.
func (e *EarlyExit) Requested() bool {
	return e.requested.Load()
}

// Code returns the exit code passed to the first Request.
func (e *EarlyExit) Code() int {
	return int(e.code.Load())
}

// shouldStop reports whether work must stop, either because ctx is done or
// because an early exit was requested.
func (e *Engine) shouldStop(ctx context.Context) bool {
	return ctx.Err() != nil || e.earlyExit.Requested()
}
