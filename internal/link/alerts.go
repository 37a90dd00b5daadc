package link

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"hydropulse/internal/model"
)

// Alert dispositions reported to metrics.
const (
	dispositionDelivered = "delivered"
	dispositionQueued    = "queued"
	dispositionDropped   = "dropped"
	dispositionFiltered  = "filtered"
)

// Emit routes an alert to the journal, honouring the bandwidth profile and
// blackout buffering.
func (l *Link) Emit(a model.Alert) {
	l.mu.Lock()
	l.emitLocked(a)
	l.mu.Unlock()
	l.drainOutbox()
}

func (l *Link) emitLocked(a model.Alert) {
	switch {
	case !l.profile.Allows(a.Severity):
		l.metrics.ObserveAlert(a.Severity, dispositionFiltered)
	case l.blackout && a.Severity.HighPriority():
		l.queue = append(l.queue, a)
		l.metrics.ObserveAlert(a.Severity, dispositionQueued)
		l.metrics.SetBlackoutQueue(len(l.queue))
	case l.blackout:
		l.log.Debug("Dropping low-priority alert during blackout", zap.String("message", a.Message))
		l.metrics.ObserveAlert(a.Severity, dispositionDropped)
	default:
		l.outbox = append(l.outbox, a)
		l.metrics.ObserveAlert(a.Severity, dispositionDelivered)
	}
}

// drainOutbox writes pending alerts in the order they were accepted. Must be
// called without l.mu held.
func (l *Link) drainOutbox() {
	l.deliverMu.Lock()
	defer l.deliverMu.Unlock()
	for {
		l.mu.Lock()
		batch := l.outbox
		l.outbox = nil
		l.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, a := range batch {
			ctx, cancel := context.WithTimeout(context.Background(), l.timing.Heartbeat)
			if err := l.journal.Record(ctx, a); err != nil {
				l.metrics.ObserveStoreError("journal")
				l.log.Error("Alert journal write failed", zap.String("alert_id", a.ID), zap.Error(err))
			}
			cancel()
		}
	}
}

// SignalReceived marks live data as observed now. Leaving a blackout flushes
// the queued alerts in timestamp order.
func (l *Link) SignalReceived() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.signalLocked(l.clock.Now())
	l.mu.Unlock()
	l.drainOutbox()
}

func (l *Link) signalLocked(now time.Time) {
	l.lastSignal = now
	if l.blackout {
		l.blackout = false
		sort.SliceStable(l.queue, func(i, j int) bool { return l.queue[i].TimestampMs < l.queue[j].TimestampMs })
		l.log.Info("Signal resumed, flushing blackout queue", zap.Int("alerts", len(l.queue)))
		l.outbox = append(l.outbox, l.queue...)
		l.queue = nil
		l.metrics.SetBlackoutQueue(0)
	}
	if l.blackoutTimer != nil {
		l.blackoutTimer.Stop()
	}
	l.blackoutGen++
	gen := l.blackoutGen
	l.blackoutTimer = l.clock.AfterFunc(l.timing.Blackout, func() { l.enterBlackout(gen) })
}

func (l *Link) enterBlackout(gen uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.blackoutGen || l.closed || l.blackout {
		return
	}
	l.blackout = true
	l.log.Warn("No signal beyond blackout threshold",
		zap.Duration("threshold", l.timing.Blackout),
		zap.Time("last_signal", l.lastSignal))
}

func (l *Link) InBlackout() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blackout
}

func (l *Link) QueuedAlerts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

func (l *Link) LastSignal() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSignal
}

// SetProfile switches bandwidth profile and restarts frame counting.
func (l *Link) SetProfile(p Profile) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p.ThrottleRatio < 1 {
		p.ThrottleRatio = 1
	}
	l.profile = p
	l.frames = 0
	l.log.Info("Bandwidth profile selected", zap.String("profile", p.Name))
}

func (l *Link) Profile() Profile {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.profile
}

// ShouldForward drops frames to honour the profile's throttle ratio.
func (l *Link) ShouldForward() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frames++
	r := uint64(l.profile.ThrottleRatio)
	if r <= 1 {
		return true
	}
	return l.frames%r == 0
}
