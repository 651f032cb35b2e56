package syncer

import (
	"context"
	"sync/atomic"
)

// loopSignal is the result of a cooperative checkpoint, checked only at page
// boundaries. Callers must not assume sub-page latency for pause or stop.
type loopSignal int

const (
	signalNone loopSignal = iota
	signalPause
	signalStop
)

// jobControl carries the cooperative pause flag and stop cancellation for one
// job's processing loop. A fresh control is created per run; resume after pause
// builds a new one.
type jobControl struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	pause  atomic.Bool

	// dispatched marks that a loop goroutine owns this control.
	// Guarded by the runner's mutex.
	dispatched bool
}

func newJobControl(parent context.Context, id string) *jobControl {
	ctx, cancel := context.WithCancel(parent)
	return &jobControl{id: id, ctx: ctx, cancel: cancel}
}

// checkpoint reports the strongest pending signal. Stop wins over pause.
func (c *jobControl) checkpoint() loopSignal {
	select {
	case <-c.ctx.Done():
		return signalStop
	default:
	}
	if c.pause.Load() {
		return signalPause
	}
	return signalNone
}

func (c *jobControl) stopped() bool {
	return c.ctx.Err() != nil
}
