package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"CoinPulse/internal/domain/models"
	drepo "CoinPulse/internal/domain/repository"
	mid "CoinPulse/internal/middleware"
	pkgkafka "CoinPulse/pkg/kafka"
	"CoinPulse/pkg/logger"
)

// MetricEventHandler consumes the coin-metrics topic and feeds the event pipeline.
type MetricEventHandler struct {
	topic   string
	next    mid.EventHandler
	metrics drepo.Metrics
}

func NewMetricEventHandler(topic string, next mid.EventHandler, metrics drepo.Metrics) *MetricEventHandler {
	if topic == "" {
		topic = "coin-metrics"
	}
	return &MetricEventHandler{topic: topic, next: next, metrics: metrics}
}

func (h *MetricEventHandler) Topic() string { return h.topic }

// Handle decodes {coin_id, timestamp, phase_id?, price_close?}. Malformed and invalid
// events are dropped rather than retried.
func (h *MetricEventHandler) Handle(ctx context.Context, b []byte) error {
	var ev models.CoinMetricEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return nil
	}
	if !ev.Timestamp.IsZero() {
		h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(ev.Timestamp).Seconds())
	}
	err := h.next.HandleEvent(ctx, &ev)
	if errors.Is(err, models.ErrValidation) {
		return nil
	}
	return err
}

var _ pkgkafka.MessageHandler = (*MetricEventHandler)(nil)

// StreamCollector reads the websocket feed and feeds the event pipeline, reconnecting
// whenever the stream fails.
type StreamCollector struct {
	stream  drepo.EventStream
	next    mid.EventHandler
	metrics drepo.Metrics
	logger  *logger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewStreamCollector(stream drepo.EventStream, next mid.EventHandler, metrics drepo.Metrics, lgr *logger.Logger) *StreamCollector {
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &StreamCollector{stream: stream, next: next, metrics: metrics, logger: lgr}
}

func (c *StreamCollector) Name() string { return "stream-collector" }

func (c *StreamCollector) IsConnected() bool { return c.stream.IsConnected() }

func (c *StreamCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx)
	}()
	return nil
}

func (c *StreamCollector) run(ctx context.Context) {
	for ctx.Err() == nil {
		events, errs := c.stream.Read(ctx)
		c.consume(ctx, events, errs)
		if ctx.Err() != nil {
			return
		}
		c.metrics.RecordError("stream")
		for ctx.Err() == nil {
			err := c.stream.Reconnect(ctx)
			if err == nil {
				break
			}
			c.logger.Warn("stream reconnect failed", logger.Error(err))
		}
	}
}

// consume drains one Read session.
func (c *StreamCollector) consume(ctx context.Context, events <-chan *models.CoinMetricEvent, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if ok && err != nil {
				c.logger.Warn("stream read failed", logger.Error(err))
				return
			}
			if !ok {
				errs = nil
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := c.next.HandleEvent(ctx, ev); err != nil && !errors.Is(err, models.ErrValidation) {
				c.logger.Debug("stream event deferred", logger.String("coin_id", ev.CoinID), logger.Error(err))
			}
		}
	}
}

func (c *StreamCollector) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	err := c.stream.Close()
	done := make(chan struct{})
	go func() { c.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}
