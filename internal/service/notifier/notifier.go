package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"CoinPulse/internal/domain/models"
	domrepo "CoinPulse/internal/domain/repository"
	xhttp "CoinPulse/pkg/http"
	"CoinPulse/pkg/logger"
)

// Webhook POSTs the notification as JSON to the active model's webhook_url.
type Webhook struct {
	client *xhttp.Client
}

func NewWebhook(timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{client: xhttp.NewClient(xhttp.WithTimeout(timeout))}
}

func (w *Webhook) Notify(ctx context.Context, a *models.ActiveModel, n *models.Notification) error {
	if a.WebhookURL == "" {
		return fmt.Errorf("active model %d has no webhook url", a.ID)
	}
	err := w.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    a.WebhookURL,
		Body:   n,
	}, nil)
	if err != nil {
		return fmt.Errorf("webhook for active model %d: %w", a.ID, err)
	}
	return nil
}

// Kafka publishes the notification to the alerts topic keyed by coin.
type Kafka struct {
	producer domrepo.Producer
	topic    string
}

func NewKafka(p domrepo.Producer, topic string) *Kafka {
	if topic == "" {
		topic = "coin-alerts"
	}
	return &Kafka{producer: p, topic: topic}
}

func (k *Kafka) Notify(ctx context.Context, _ *models.ActiveModel, n *models.Notification) error {
	return k.producer.Publish(ctx, k.topic, []byte(n.CoinID), n)
}

// Multi delivers to every notifier. It succeeds when at least one delivery does.
type Multi struct {
	targets []named
	logger  *logger.Logger
}

type named struct {
	name string
	n    domrepo.Notifier
}

func NewMulti(lgr *logger.Logger) *Multi {
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &Multi{logger: lgr}
}

// Add registers a delivery target; nil notifiers are ignored.
func (m *Multi) Add(name string, n domrepo.Notifier) *Multi {
	if n != nil {
		m.targets = append(m.targets, named{name: name, n: n})
	}
	return m
}

func (m *Multi) Len() int { return len(m.targets) }

func (m *Multi) Notify(ctx context.Context, a *models.ActiveModel, n *models.Notification) error {
	if len(m.targets) == 0 {
		return errors.New("no notifier configured")
	}
	var errs []error
	for _, t := range m.targets {
		if err := t.n.Notify(ctx, a, n); err != nil {
			m.logger.Warn("notification delivery failed",
				logger.String("target", t.name),
				logger.Int64("active_model_id", a.ID),
				logger.String("coin_id", n.CoinID),
				logger.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", t.name, err))
		}
	}
	if len(errs) == len(m.targets) {
		return errors.Join(errs...)
	}
	return nil
}

var (
	_ domrepo.Notifier = (*Webhook)(nil)
	_ domrepo.Notifier = (*Kafka)(nil)
	_ domrepo.Notifier = (*Multi)(nil)
)
