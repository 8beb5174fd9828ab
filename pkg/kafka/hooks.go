package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// ConsumerHook observes message handling. Hooks must not block.
type ConsumerHook interface {
	AfterHandle(ctx context.Context, topic string, km kafka.Message, err error)
	OnError(ctx context.Context, topic string, km kafka.Message, err error)
}

type NoopHook struct{}

func (NoopHook) AfterHandle(context.Context, string, kafka.Message, error) {}
func (NoopHook) OnError(context.Context, string, kafka.Message, error) {}

// HookFuncs adapts plain functions; nil functions are no-ops.
type HookFuncs struct {
	After func(ctx context.Context, topic string, km kafka.Message, err error)
	Err   func(ctx context.Context, topic string, km kafka.Message, err error)
}

func (h HookFuncs) AfterHandle(ctx context.Context, topic string, km kafka.Message, err error) {
	if h.After != nil {
		h.After(ctx, topic, km, err)
	}
}

func (h HookFuncs) OnError(ctx context.Context, topic string, km kafka.Message, err error) {
	if h.Err != nil {
		h.Err(ctx, topic, km, err)
	}
}

// safeCall runs a hook and swallows its panic.
func safeCall(fn func()) {
	defer func() { _ = recover() }()
	fn()
}
