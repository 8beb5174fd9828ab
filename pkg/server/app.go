package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	xhttp "CoinPulse/pkg/http"
	applogger "CoinPulse/pkg/logger"
)

// Component is a long-running part of a service (worker, consumer, scheduler).
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type closer struct {
	name string
	fn   func() error
}

// App encapsulates one service's lifecycle: start components, serve HTTP,
// wait for a signal, then stop everything in reverse order.
type App struct {
	name            string
	log             *applogger.Logger
	httpServer      *xhttp.Server
	components      []Component
	closers         []closer
	shutdownTimeout time.Duration
}

type Option func(*App)

func WithComponent(c Component) Option {
	return func(a *App) {
		if c != nil {
			a.components = append(a.components, c)
		}
	}
}

// WithCloser registers infrastructure to close after components have stopped.
func WithCloser(name string, fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, closer{name, fn}) }
}

func WithShutdownTimeout(d time.Duration) Option {
	return func(a *App) { a.shutdownTimeout = d }
}

func New(name string, lgr *applogger.Logger, httpServer *xhttp.Server, opts ...Option) *App {
	a := &App{
		name:            name,
		log:             lgr,
		httpServer:      httpServer,
		shutdownTimeout: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Add appends options after construction.
func (a *App) Add(opts ...Option) {
	for _, opt := range opts {
		opt(a)
	}
}

// Run blocks until SIGINT/SIGTERM or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	started := 0
	for _, c := range a.components {
		if err := c.Start(ctx); err != nil {
			a.log.Error("component start failed", applogger.String("component", c.Name()), applogger.Error(err))
			a.stopComponents(a.components[:started])
			a.runClosers()
			return fmt.Errorf("start %s: %w", c.Name(), err)
		}
		started++
		a.log.Info("component started", applogger.String("component", c.Name()))
	}

	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			a.stopComponents(a.components)
			a.runClosers()
			return fmt.Errorf("http server: %w", err)
		}
	}
	a.log.Info("service running", applogger.String("service", a.name))

	<-ctx.Done()
	a.log.Info("shutdown signal received", applogger.String("service", a.name))
	return a.shutdown()
}

func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
		}
	}
	a.stopComponentsCtx(ctx, a.components)
	a.runClosers()
	a.log.Info("shutdown complete", applogger.String("service", a.name))
	return nil
}

func (a *App) stopComponents(cs []Component) {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()
	a.stopComponentsCtx(ctx, cs)
}

func (a *App) stopComponentsCtx(ctx context.Context, cs []Component) {
	for i := len(cs) - 1; i >= 0; i-- {
		if err := cs[i].Stop(ctx); err != nil {
			a.log.Warn("component stop error", applogger.String("component", cs[i].Name()), applogger.Error(err))
		}
	}
}

func (a *App) runClosers() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].fn(); err != nil {
			a.log.Warn("close error", applogger.String("resource", a.closers[i].name), applogger.Error(err))
		}
	}
}
