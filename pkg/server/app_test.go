package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	applogger "CoinPulse/pkg/logger"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

type fakeComponent struct {
	name     string
	rec      *recorder
	startErr error
}

func (f *fakeComponent) Name() string { return f.name }
func (f *fakeComponent) Start(context.Context) error {
	f.rec.add("start " + f.name)
	return f.startErr
}
func (f *fakeComponent) Stop(context.Context) error {
	f.rec.add("stop " + f.name)
	return nil
}

func TestRunStopsInReverseOrder(t *testing.T) {
	rec := &recorder{}
	app := New("test", applogger.Nop(), nil,
		WithComponent(&fakeComponent{name: "a", rec: rec}),
		WithComponent(&fakeComponent{name: "b", rec: rec}),
		WithCloser("db", func() error { rec.add("close db"); return nil }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not return")
	}

	want := []string{"start a", "start b", "stop b", "stop a", "close db"}
	if len(rec.events) != len(want) {
		t.Fatalf("events %v", rec.events)
	}
	for i := range want {
		if rec.events[i] != want[i] {
			t.Fatalf("events %v, want %v", rec.events, want)
		}
	}
}

func TestRunUnwindsOnStartFailure(t *testing.T) {
	rec := &recorder{}
	app := New("test", applogger.Nop(), nil,
		WithComponent(&fakeComponent{name: "a", rec: rec}),
		WithComponent(&fakeComponent{name: "b", rec: rec, startErr: errors.New("port in use")}),
	)
	if err := app.Run(context.Background()); err == nil {
		t.Fatalf("expected start error")
	}
	want := []string{"start a", "start b", "stop a"}
	for i := range want {
		if i >= len(rec.events) || rec.events[i] != want[i] {
			t.Fatalf("events %v, want %v", rec.events, want)
		}
	}
}
