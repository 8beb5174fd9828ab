package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"CoinPulse/pkg/logger"
)

type fakeStore struct {
	mu        sync.Mutex
	pending   []*Message
	progress  map[string]float64
	completed map[string]*Result
	failed    map[string]string
}

func newFakeStore(msgs ...*Message) *fakeStore {
	return &fakeStore{
		pending:   msgs,
		progress:  map[string]float64{},
		completed: map[string]*Result{},
		failed:    map[string]string{},
	}
}

func (s *fakeStore) Claim(context.Context) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil, nil
	}
	m := s.pending[0]
	s.pending = s.pending[1:]
	return m, nil
}

func (s *fakeStore) Progress(_ context.Context, id string, p float64, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[id] = p
	return nil
}

func (s *fakeStore) Complete(_ context.Context, id string, res *Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed[id] = res
	return nil
}

func (s *fakeStore) Fail(_ context.Context, id string, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[id] = msg
	return nil
}

type funcHandler struct {
	typ string
	fn  func(ctx context.Context, msg *Message, progress ProgressFunc) (*Result, error)
}

func (h funcHandler) Type() string { return h.typ }
func (h funcHandler) Handle(ctx context.Context, msg *Message, p ProgressFunc) (*Result, error) {
	return h.fn(ctx, msg, p)
}

func msg(id, typ string) *Message {
	return &Message{ID: id, Type: typ, Payload: json.RawMessage(`{"n":1}`)}
}

func TestWorkerRespectsConcurrency(t *testing.T) {
	store := newFakeStore(msg("a", "train"), msg("b", "train"), msg("c", "train"))
	release := make(chan struct{})
	w := NewWorker(store, logger.Nop(), WithConcurrency(2))
	w.Register(funcHandler{typ: "train", fn: func(ctx context.Context, m *Message, _ ProgressFunc) (*Result, error) {
		<-release
		return &Result{ModelID: m.ID}, nil
	}})

	ctx := context.Background()
	if n := w.Poll(ctx); n != 2 {
		t.Fatalf("expected 2 jobs started, got %d", n)
	}
	if n := w.Poll(ctx); n != 0 {
		t.Fatalf("no slot should be free, started %d", n)
	}
	if w.Running() != 2 {
		t.Fatalf("running = %d", w.Running())
	}
	close(release)
	w.Wait()
	if n := w.Poll(ctx); n != 1 {
		t.Fatalf("expected remaining job to start, got %d", n)
	}
	w.Wait()
	if len(store.completed) != 3 {
		t.Fatalf("completed = %d", len(store.completed))
	}
}

func TestWorkerIsolatesFailures(t *testing.T) {
	store := newFakeStore(msg("ok", "train"), msg("boom", "panic"), msg("err", "fail"), msg("x", "unknown"))
	w := NewWorker(store, logger.Nop(), WithConcurrency(4))
	w.Register(
		funcHandler{typ: "train", fn: func(ctx context.Context, m *Message, p ProgressFunc) (*Result, error) {
			p(ctx, 0.5, "fitting")
			return &Result{ModelID: "m1"}, nil
		}},
		funcHandler{typ: "panic", fn: func(context.Context, *Message, ProgressFunc) (*Result, error) {
			panic("bad input")
		}},
		funcHandler{typ: "fail", fn: func(context.Context, *Message, ProgressFunc) (*Result, error) {
			return nil, errors.New("no rows")
		}},
	)

	w.Poll(context.Background())
	w.Wait()

	if store.completed["ok"] == nil || store.completed["ok"].ModelID != "m1" {
		t.Fatalf("ok job not completed: %+v", store.completed)
	}
	if store.progress["ok"] != 0.5 {
		t.Fatalf("progress not recorded: %v", store.progress)
	}
	if store.failed["boom"] != "panic: bad input" {
		t.Fatalf("panic not recorded as failure: %q", store.failed["boom"])
	}
	if store.failed["err"] != "no rows" {
		t.Fatalf("error not recorded: %q", store.failed["err"])
	}
	if store.failed["x"] == "" {
		t.Fatalf("unknown type should fail")
	}
}

func TestWorkerStopWaitsForRunningJobs(t *testing.T) {
	store := newFakeStore(msg("slow", "train"))
	started := make(chan struct{})
	w := NewWorker(store, logger.Nop(), WithPollInterval(10*time.Millisecond))
	w.Register(funcHandler{typ: "train", fn: func(ctx context.Context, _ *Message, _ ProgressFunc) (*Result, error) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &Result{}, nil
	}})

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-started
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, ok := store.completed["slow"]; !ok {
		t.Fatalf("running job should finish after stop, failed=%v", store.failed)
	}
}

func TestParsePayload(t *testing.T) {
	type body struct {
		N int `json:"n"`
	}
	got, err := ParsePayload[body](json.RawMessage(`{"n":3}`))
	if err != nil || got.N != 3 {
		t.Fatalf("raw: %v %+v", err, got)
	}
	got, err = ParsePayload[body](map[string]interface{}{"n": 4})
	if err != nil || got.N != 4 {
		t.Fatalf("map: %v %+v", err, got)
	}
	if _, err := ParsePayload[body](42); err == nil {
		t.Fatalf("expected error for int payload")
	}
}
