package signal

import (
	"math"
	"sync"

	jsoniter "github.com/json-iterator/go"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Point is one timestamped entry of a Buffer.
type Point[T any] struct {
	TimestampMs int64 `json:"t"`
	Value       T     `json:"v"`
}

// Buffer is a fixed-capacity ring of points with strict FIFO eviction.
type Buffer[T any] struct {
	mu    sync.RWMutex
	items []Point[T]
	head  int // index of the oldest point
	size  int
}

func NewBuffer[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]Point[T], capacity)}
}

func (b *Buffer[T]) Cap() int { return len(b.items) }

func (b *Buffer[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

func (b *Buffer[T]) Push(timestampMs int64, v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.push(Point[T]{TimestampMs: timestampMs, Value: v})
}

func (b *Buffer[T]) push(p Point[T]) {
	c := len(b.items)
	if b.size < c {
		b.items[(b.head+b.size)%c] = p
		b.size++
		return
	}
	b.items[b.head] = p
	b.head = (b.head + 1) % c
}

// All returns the points oldest first.
func (b *Buffer[T]) All() []Point[T] {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastLocked(b.size)
}

// Last returns up to n most recent points, oldest first.
func (b *Buffer[T]) Last(n int) []Point[T] {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastLocked(n)
}

func (b *Buffer[T]) lastLocked(n int) []Point[T] {
	if n > b.size {
		n = b.size
	}
	if n <= 0 {
		return []Point[T]{}
	}
	c := len(b.items)
	out := make([]Point[T], n)
	start := b.head + b.size - n
	for i := 0; i < n; i++ {
		out[i] = b.items[(start+i)%c]
	}
	return out
}

// Values returns the payloads oldest first.
func (b *Buffer[T]) Values() []T {
	pts := b.All()
	out := make([]T, len(pts))
	for i, p := range pts {
		out[i] = p.Value
	}
	return out
}

func (b *Buffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	var zero Point[T]
	for i := range b.items {
		b.items[i] = zero
	}
	b.head, b.size = 0, 0
}

type snapshot[T any] struct {
	Capacity int        `json:"capacity"`
	Points   []Point[T] `json:"points"`
}

func (b *Buffer[T]) MarshalJSON() ([]byte, error) {
	return codec.Marshal(snapshot[T]{Capacity: b.Cap(), Points: b.All()})
}

// UnmarshalJSON restores a snapshot, keeping at most Cap() most recent points.
// A zero-value Buffer adopts the snapshot capacity.
func (b *Buffer[T]) UnmarshalJSON(data []byte) error {
	var s snapshot[T]
	if err := codec.Unmarshal(data, &s); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		c := s.Capacity
		if c <= 0 {
			c = len(s.Points)
		}
		if c <= 0 {
			c = 1
		}
		b.items = make([]Point[T], c)
	}
	b.head, b.size = 0, 0
	for _, p := range s.Points {
		b.push(p)
	}
	return nil
}

// Stats summarizes a numeric buffer.
type Stats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	Count int     `json:"count"`
}

// Number is the payload constraint for NumericStats.
type Number interface {
	~int | ~int32 | ~int64 | ~float32 | ~float64
}

// NumericStats computes min/max/avg; an empty buffer yields zero Stats.
func NumericStats[T Number](b *Buffer[T]) Stats {
	pts := b.All()
	if len(pts) == 0 {
		return Stats{}
	}
	s := Stats{Min: math.Inf(1), Max: math.Inf(-1), Count: len(pts)}
	sum := 0.0
	for _, p := range pts {
		v := float64(p.Value)
		sum += v
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	s.Avg = sum / float64(len(pts))
	return s
}
