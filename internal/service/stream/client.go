package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"CoinPulse/internal/domain/models"
	drepo "CoinPulse/internal/domain/repository"
	"CoinPulse/pkg/logger"

	"github.com/gorilla/websocket"
)

// Client is an EventStream over a websocket feed of coin-metric events. Frames carry the
// same JSON as the Kafka topic, either one event or {"type":"metrics","data":[...]}.
type Client struct {
	url            string
	coinIDs        []string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	logger         *logger.Logger

	mu        sync.Mutex // guards conn writes and swaps
	conn      *websocket.Conn
	connected atomic.Bool
}

func New(url string, coinIDs []string, reconnectDelay, pingInterval time.Duration, lgr *logger.Logger) *Client {
	if lgr == nil {
		lgr = logger.Nop()
	}
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Client{
		url:            url,
		coinIDs:        coinIDs,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		logger:         lgr,
	}
}

// Connect dials the feed and subscribes to the configured coins, if any.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("stream connect: %w", err)
	}
	if len(c.coinIDs) > 0 {
		msg := map[string]any{"type": "subscribe", "coin_ids": c.coinIDs}
		if err := conn.WriteJSON(msg); err != nil {
			conn.Close()
			return fmt.Errorf("stream subscribe: %w", err)
		}
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)
	c.logger.Info("stream connected", logger.String("url", c.url), logger.Int("coins", len(c.coinIDs)))
	return nil
}

type frame struct {
	Type string                    `json:"type"`
	Data []*models.CoinMetricEvent `json:"data"`
}

// decodeFrame accepts a batch frame or a bare event. Other frames yield nothing.
func decodeFrame(b []byte) []*models.CoinMetricEvent {
	var f frame
	if err := json.Unmarshal(b, &f); err == nil && len(f.Data) > 0 {
		return f.Data
	}
	var ev models.CoinMetricEvent
	if err := json.Unmarshal(b, &ev); err != nil || ev.CoinID == "" {
		return nil
	}
	return []*models.CoinMetricEvent{&ev}
}

// Read streams events until the connection fails or ctx ends. Both channels are closed
// when the read loop exits.
func (c *Client) Read(ctx context.Context) (<-chan *models.CoinMetricEvent, <-chan error) {
	events := make(chan *models.CoinMetricEvent, 1024)
	errs := make(chan error, 1)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	readCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-readCtx.Done():
				return
			case <-ticker.C:
				c.mu.Lock()
				if c.conn == conn && conn != nil {
					_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				}
				c.mu.Unlock()
			}
		}
	}()

	go func() {
		defer cancel()
		defer close(events)
		defer close(errs)
		if conn == nil {
			errs <- fmt.Errorf("stream not connected")
			return
		}
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				c.connected.Store(false)
				if readCtx.Err() == nil {
					errs <- fmt.Errorf("stream read: %w", err)
				}
				return
			}
			for _, ev := range decodeFrame(b) {
				select {
				case events <- ev:
				case <-readCtx.Done():
					return
				default:
					// drop on backpressure
				}
			}
		}
	}()

	go func() {
		<-readCtx.Done()
		if ctx.Err() != nil && conn != nil {
			conn.Close()
		}
	}()
	return events, errs
}

// Reconnect closes the connection, waits the reconnect delay and dials again.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	select {
	case <-time.After(c.reconnectDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.Connect(ctx)
}

func (c *Client) Close() error {
	c.connected.Store(false)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) IsConnected() bool { return c.connected.Load() }

var _ drepo.EventStream = (*Client)(nil)
