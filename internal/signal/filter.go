package signal

import (
	"fmt"
	"sync"

	"hydropulse/internal/model"
)

const (
	DefaultSMAWindow = 5
	DefaultEMAAlpha  = 0.3
)

// Filter smooths a single signal. Implementations are not safe for
// concurrent use; Bank serializes access per signal.
type Filter interface {
	Update(raw float64, timestampMs int64) model.FilteredSignal
	IsWarmedUp() bool
	Reset()
}

// SMA is a simple moving average over the last Window samples.
// Output lags the raw signal by roughly Window/2 samples.
type SMA struct {
	window []float64
	size   int
	next   int
	count  int
	sum    float64
}

func NewSMA(window int) *SMA {
	if window <= 0 {
		window = DefaultSMAWindow
	}
	return &SMA{window: make([]float64, window), size: window}
}

func (f *SMA) Update(raw float64, timestampMs int64) model.FilteredSignal {
	if f.count == f.size {
		f.sum -= f.window[f.next]
	} else {
		f.count++
	}
	f.window[f.next] = raw
	f.sum += raw
	f.next = (f.next + 1) % f.size
	return model.FilteredSignal{Raw: raw, Smooth: f.sum / float64(f.count), TimestampMs: timestampMs}
}

func (f *SMA) IsWarmedUp() bool { return f.count == f.size }

func (f *SMA) Reset() {
	for i := range f.window {
		f.window[i] = 0
	}
	f.next, f.count, f.sum = 0, 0, 0
}

// EMA is an exponential moving average: smooth = alpha*raw + (1-alpha)*prev.
type EMA struct {
	alpha  float64
	smooth float64
	seen   bool
}

func NewEMA(alpha float64) *EMA {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultEMAAlpha
	}
	return &EMA{alpha: alpha}
}

func (f *EMA) Update(raw float64, timestampMs int64) model.FilteredSignal {
	if !f.seen {
		f.smooth = raw
		f.seen = true
	} else {
		f.smooth = f.alpha*raw + (1-f.alpha)*f.smooth
	}
	return model.FilteredSignal{Raw: raw, Smooth: f.smooth, TimestampMs: timestampMs}
}

func (f *EMA) IsWarmedUp() bool { return f.seen }

func (f *EMA) Reset() {
	f.smooth = 0
	f.seen = false
}

// Kind selects a smoothing strategy by name.
type Kind string

const (
	KindSMA Kind = "sma"
	KindEMA Kind = "ema"
)

// Options configure the filters a Bank creates.
type Options struct {
	Kind      Kind
	SMAWindow int
	EMAAlpha  float64
}

func DefaultOptions() Options {
	return Options{Kind: KindSMA, SMAWindow: DefaultSMAWindow, EMAAlpha: DefaultEMAAlpha}
}

func (o Options) newFilter() (Filter, error) {
	switch o.Kind {
	case KindSMA, "":
		return NewSMA(o.SMAWindow), nil
	case KindEMA:
		return NewEMA(o.EMAAlpha), nil
	default:
		return nil, fmt.Errorf("unknown filter kind %q", o.Kind)
	}
}

// Bank owns one independent filter per signal id.
type Bank struct {
	mu      sync.Mutex
	opts    Options
	filters map[string]Filter
}

func NewBank(opts Options) (*Bank, error) {
	if _, err := opts.newFilter(); err != nil {
		return nil, err
	}
	return &Bank{opts: opts, filters: make(map[string]Filter)}, nil
}

// Filter runs raw through the signal's filter, creating it on first use.
func (b *Bank) Filter(signalID string, raw float64, timestampMs int64) model.FilteredSignal {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.filters[signalID]
	if !ok {
		// opts was validated in NewBank/SetStrategy.
		f, _ = b.opts.newFilter()
		b.filters[signalID] = f
	}
	return f.Update(raw, timestampMs)
}

func (b *Bank) IsWarmedUp(signalID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.filters[signalID]
	return ok && f.IsWarmedUp()
}

// SetStrategy swaps every signal onto a fresh filter of the new kind.
// New filters start cold and pass raw values through until warmed up.
func (b *Bank) SetStrategy(opts Options) error {
	if _, err := opts.newFilter(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opts = opts
	for id := range b.filters {
		b.filters[id], _ = opts.newFilter()
	}
	return nil
}

func (b *Bank) Strategy() Options {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opts
}
