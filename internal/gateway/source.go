package gateway

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"hydropulse/internal/model"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Source produces raw sample batches. Data and Errors are closed by
// Disconnect.
type Source interface {
	Connect(ctx context.Context) error
	Disconnect()
	Data() <-chan []model.RawSample
	Errors() <-chan error
}

// Pump connects src and feeds every batch into g until ctx is done or the
// source closes its data channel.
func Pump(ctx context.Context, g *Gateway, src Source, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := src.Connect(ctx); err != nil {
		return fmt.Errorf("connect source: %w", err)
	}
	defer src.Disconnect()
	data, errs := src.Data(), src.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-data:
			if !ok {
				return nil
			}
			g.Ingest(batch)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logger.Warn("Source error", zap.Error(err))
		}
	}
}

// nominal engineering values per metric for the simulated unit.
var nominal = map[string]float64{
	model.MetricTemperature:    55,
	model.MetricOilTemperature: 45,
	model.MetricVibration:      2.0,
	model.MetricRPM:            500,
	model.MetricHeadPressure:   120,
	model.MetricFlow:           60,
	model.MetricPower:          120,
	model.MetricCavitation:     0.3,
}

// SimulatedSource emits a slow sinusoid with noise around nominal values
// for every tag. Overrides pin a signal to a fixed engineering value.
type SimulatedSource struct {
	tags   []Tag
	period time.Duration
	rng    *rand.Rand

	mu        sync.Mutex
	overrides map[string]float64
	tick      int
	data      chan []model.RawSample
	errs      chan error
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewSimulatedSource(tags []Tag, period time.Duration, seed int64) *SimulatedSource {
	if period <= 0 {
		period = 100 * time.Millisecond
	}
	return &SimulatedSource{
		tags:      tags,
		period:    period,
		rng:       rand.New(rand.NewSource(seed)),
		overrides: make(map[string]float64),
	}
}

// Override pins signalID to eu until cleared with ClearOverride.
func (s *SimulatedSource) Override(signalID string, eu float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[signalID] = eu
}

func (s *SimulatedSource) ClearOverride(signalID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overrides, signalID)
}

// Next builds one batch. It is what the ticker loop emits.
func (s *SimulatedSource) Next(now time.Time) []model.RawSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tick++
	batch := make([]model.RawSample, 0, len(s.tags))
	for _, t := range s.tags {
		eu, ok := s.overrides[t.SignalID]
		if !ok {
			base := nominal[t.Metric]
			wave := math.Sin(float64(s.tick)/50) * 0.02 * base
			noise := (s.rng.Float64() - 0.5) * 0.01 * base
			eu = base + wave + noise
		}
		batch = append(batch, model.RawSample{
			TagID:       t.Address,
			Value:       t.Unscale(eu),
			TimestampMs: now.UnixMilli(),
		})
	}
	return batch
}

func (s *SimulatedSource) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return errors.New("simulated source already connected")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.data = make(chan []model.RawSample, 1)
	s.errs = make(chan error)
	data := s.data
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				select {
				case data <- s.Next(now):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return nil
}

func (s *SimulatedSource) Disconnect() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	close(s.data)
	close(s.errs)
}

func (s *SimulatedSource) Data() <-chan []model.RawSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

func (s *SimulatedSource) Errors() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errs
}

// WebSocketSource reads JSON arrays of raw samples from a remote
// WebSocket feed.
type WebSocketSource struct {
	url    string
	dialer *websocket.Dialer
	log    *zap.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	data   chan []model.RawSample
	errs   chan error
	wg     sync.WaitGroup
	closed chan struct{}
}

func NewWebSocketSource(url string, logger *zap.Logger) *WebSocketSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketSource{
		url:    url,
		dialer: websocket.DefaultDialer,
		log:    logger.Named("ws_source"),
	}
}

func (s *WebSocketSource) Connect(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}
	s.mu.Lock()
	s.conn = conn
	s.data = make(chan []model.RawSample, 16)
	s.errs = make(chan error, 16)
	s.closed = make(chan struct{})
	data, errs, closed := s.data, s.errs, s.closed
	s.mu.Unlock()
	s.log.Info("Connected to telemetry feed", zap.String("url", s.url))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				select {
				case <-closed:
				default:
					if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
						s.report(errs, fmt.Errorf("read feed: %w", err))
					}
				}
				return
			}
			var batch []model.RawSample
			if err := codec.Unmarshal(msg, &batch); err != nil {
				s.report(errs, fmt.Errorf("decode batch: %w", err))
				continue
			}
			select {
			case data <- batch:
			case <-closed:
				return
			}
		}
	}()
	return nil
}

func (s *WebSocketSource) report(errs chan error, err error) {
	select {
	case errs <- err:
	default:
		s.log.Warn("Dropping feed error", zap.Error(err))
	}
}

func (s *WebSocketSource) Disconnect() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return
	}
	close(s.closed)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = conn.Close()
	s.wg.Wait()
	close(s.data)
	close(s.errs)
}

func (s *WebSocketSource) Data() <-chan []model.RawSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

func (s *WebSocketSource) Errors() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errs
}
