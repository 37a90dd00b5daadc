package gateway

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Fallback feeds the gateway from a SimulatedSource while the primary feed
// is unavailable, so readers never see a frozen state. Set toggles the feed
// and may be called from any goroutine; Run bounds its lifetime.
type Fallback struct {
	gw     *Gateway
	period time.Duration
	seed   int64
	log    *zap.Logger

	mu     sync.Mutex
	parent context.Context
	want   bool
	cancel context.CancelFunc
	starts int64
	wg     sync.WaitGroup
}

func NewFallback(g *Gateway, period time.Duration, seed int64, logger *zap.Logger) *Fallback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fallback{gw: g, period: period, seed: seed, log: logger.Named("fallback")}
}

// Set starts the simulated feed when active is true and stops it otherwise.
// A request made before Run is applied once Run starts. Set never blocks on
// the feed shutting down.
func (f *Fallback) Set(active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.want = active
	f.sync()
}

// Active reports whether the simulated feed is running.
func (f *Fallback) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancel != nil
}

// Run serves Set requests until ctx is done, then stops the feed and waits
// for it.
func (f *Fallback) Run(ctx context.Context) error {
	f.mu.Lock()
	f.parent = ctx
	f.sync()
	f.mu.Unlock()

	<-ctx.Done()

	f.mu.Lock()
	f.parent = nil
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	f.mu.Unlock()
	f.wg.Wait()
	return nil
}

// sync reconciles the running feed with the requested one. f.mu is held.
func (f *Fallback) sync() {
	switch {
	case f.want && f.cancel == nil && f.parent != nil:
		ctx, cancel := context.WithCancel(f.parent)
		f.cancel = cancel
		f.starts++
		src := NewSimulatedSource(f.gw.Tags(), f.period, f.seed+f.starts)
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			if err := Pump(ctx, f.gw, src, f.log); err != nil {
				f.log.Warn("Simulated feed stopped", zap.Error(err))
			}
		}()
		f.log.Info("Simulated fallback feed started")
	case !f.want && f.cancel != nil:
		f.cancel()
		f.cancel = nil
		f.log.Info("Simulated fallback feed stopped")
	}
}
