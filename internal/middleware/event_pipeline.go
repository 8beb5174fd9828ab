package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"CoinPulse/internal/domain/models"
	domrepo "CoinPulse/internal/domain/repository"
	"CoinPulse/pkg/logger"
)

// EventHandler is the downstream of the pipeline.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev *models.CoinMetricEvent) error
}

// EventPipeline sits between event sources (Kafka, websocket) and the prediction service.
// It validates, throttles per coin and buffers events whose handling failed.
type EventPipeline struct {
	next        EventHandler
	metrics     domrepo.Metrics
	logger      *logger.Logger
	minInterval time.Duration
	bufSize     int
	bufCh       chan *models.CoinMetricEvent
	stopCh      chan struct{}
	done        chan struct{}
	started     bool
	mu          sync.Mutex
	lastSeen    map[string]time.Time // per-coin last accepted time
	now         func() time.Time
}

type PipelineOption func(*EventPipeline)

// WithMinInterval sets the minimum spacing of accepted events per coin.
func WithMinInterval(d time.Duration) PipelineOption {
	return func(p *EventPipeline) {
		if d >= 0 {
			p.minInterval = d
		}
	}
}

// WithBufferSize sets the retry buffer size.
func WithBufferSize(n int) PipelineOption {
	return func(p *EventPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

func WithPipelineLogger(l *logger.Logger) PipelineOption {
	return func(p *EventPipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

func NewEventPipeline(next EventHandler, metrics domrepo.Metrics, opts ...PipelineOption) *EventPipeline {
	p := &EventPipeline{
		next:        next,
		metrics:     metrics,
		logger:      logger.Nop(),
		minInterval: time.Second,
		bufSize:     1000,
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
		lastSeen:    make(map[string]time.Time),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.CoinMetricEvent, p.bufSize)
	return p
}

func (p *EventPipeline) Name() string { return "event-pipeline" }

// Start launches background retry of buffered events.
func (p *EventPipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	p.mu.Unlock()

	go p.flush(context.WithoutCancel(ctx))
	return nil
}

func (p *EventPipeline) flush(ctx context.Context) {
	defer close(p.done)
	backoff := 50 * time.Millisecond
	for {
		select {
		case <-p.stopCh:
			return
		case ev := <-p.bufCh:
			if err := p.next.HandleEvent(ctx, ev); err != nil {
				if backoff < 2*time.Second {
					backoff *= 2
				}
				p.metrics.RecordError("pipeline_flush")
				select {
				case <-time.After(backoff):
				case <-p.stopCh:
					return
				}
				select {
				case p.bufCh <- ev:
				default:
					p.metrics.RecordError("pipeline_buffer_drop")
				}
				continue
			}
			backoff = 50 * time.Millisecond
		}
	}
}

// Stop halts the retry loop. Events still buffered are dropped.
func (p *EventPipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
	select {
	case <-p.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if n := len(p.bufCh); n > 0 {
		p.logger.Warn("event pipeline stopped with buffered events", logger.Int("buffered", n))
	}
	return nil
}

// HandleEvent validates, throttles and forwards ev, buffering it when downstream fails.
func (p *EventPipeline) HandleEvent(ctx context.Context, ev *models.CoinMetricEvent) error {
	start := p.now()
	if err := validateEvent(ev); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if !p.allow(ev.CoinID, start) {
		p.metrics.RecordError("pipeline_throttle")
		return nil
	}

	if err := p.next.HandleEvent(ctx, ev); err != nil {
		p.metrics.RecordError("pipeline_process")
		select {
		case p.bufCh <- ev:
		default:
			p.metrics.RecordError("pipeline_buffer_full")
		}
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}

// Buffered is the number of events waiting for retry.
func (p *EventPipeline) Buffered() int { return len(p.bufCh) }

func validateEvent(ev *models.CoinMetricEvent) error {
	if ev == nil {
		return models.NewValidationError("event", "is nil")
	}
	if ev.CoinID == "" {
		return models.NewValidationError("coin_id", "is empty")
	}
	if ev.Timestamp.IsZero() {
		return models.NewValidationError("timestamp", "is missing")
	}
	if ev.PriceClose != nil && *ev.PriceClose < 0 {
		return models.NewValidationError("price_close", "is negative")
	}
	return nil
}

func (p *EventPipeline) allow(coin string, now time.Time) bool {
	if p.minInterval <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	last, ok := p.lastSeen[coin]
	if ok && now.Sub(last) < p.minInterval {
		return false
	}
	p.lastSeen[coin] = now
	return true
}
