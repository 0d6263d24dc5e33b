package health

import (
	"context"
	"errors"
	"sync"
)

var ErrNoHealthyProbe = errors.New("no healthy probes")

type Probe interface {
	Check(ctx context.Context) error
}

type CheckFunc func(ctx context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Fixed always passes, or always fails with reason ("unhealthy" if empty).
func Fixed(ok bool, reason string) CheckFunc {
	if ok {
		return func(context.Context) error { return nil }
	}
	if reason == "" {
		reason = "unhealthy"
	}
	err := errors.New(reason)
	return func(context.Context) error { return err }
}

// All passes when every probe passes and returns the first failure. nil
// probes are ignored.
func All(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// Any passes when one probe passes. With none passing it returns the last
// failure, or ErrNoHealthyProbe when there was nothing to check.
func Any(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		var last error
		for _, p := range ps {
			if p == nil {
				continue
			}
			err := p.Check(ctx)
			if err == nil {
				return nil
			}
			last = err
		}
		if last == nil {
			return ErrNoHealthyProbe
		}
		return last
	}
}

// ShutdownGate is open until Close. The zero value is ready to use.
type ShutdownGate struct {
	mu     sync.RWMutex
	closed bool
	reason string
}

func (g *ShutdownGate) Close(reason string) {
	if reason == "" {
		reason = "draining"
	}
	g.mu.Lock()
	g.closed, g.reason = true, reason
	g.mu.Unlock()
}

func (g *ShutdownGate) Open() {
	g.mu.Lock()
	g.closed, g.reason = false, ""
	g.mu.Unlock()
}

func (g *ShutdownGate) Check(context.Context) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		return errors.New(g.reason)
	}
	return nil
}
