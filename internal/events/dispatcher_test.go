package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/keystone-auth/internal/auth"
)

type recordingSink struct {
	mu     sync.Mutex
	events []auth.Event
}

func (s *recordingSink) Publish(_ context.Context, e auth.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type panickingSink struct{}

func (panickingSink) Publish(context.Context, auth.Event) { panic("boom") }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDispatcher_FansOut(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	d := NewDispatcher(8, nil, []Sink{{Name: "a", EventSink: a}, {Name: "b", EventSink: b}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Publish(ctx, auth.Event{Type: auth.EventRegistered, UserID: "usr-1"})
	d.Publish(ctx, auth.Event{Type: auth.EventLoginSucceeded, UserID: "usr-1"})

	waitFor(t, func() bool { return a.count() == 2 && b.count() == 2 })

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.events[0].Type != auth.EventRegistered || a.events[1].Type != auth.EventLoginSucceeded {
		t.Errorf("events delivered out of order: %+v", a.events)
	}
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	var hooked int
	d := NewDispatcher(2, nil, nil, WithDropHook(func() { hooked++ }))

	// Nothing is draining, so the third publish must not block.
	for range 3 {
		d.Publish(context.Background(), auth.Event{Type: auth.EventLoginFailed})
	}

	if got := d.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
	if hooked != 1 {
		t.Errorf("drop hook called %d times, want 1", hooked)
	}
}

func TestDispatcher_DrainsOnShutdown(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(16, nil, []Sink{{Name: "rec", EventSink: sink}})

	for range 5 {
		d.Publish(context.Background(), auth.Event{Type: auth.EventRefreshed})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx)

	select {
	case <-d.Done():
	default:
		t.Fatal("Done() not closed after Run returned")
	}
	if got := sink.count(); got != 5 {
		t.Errorf("delivered %d events, want 5", got)
	}
}

func TestDispatcher_PanickingSinkIsolated(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(4, nil, []Sink{
		{Name: "bad", EventSink: panickingSink{}},
		{Name: "rec", EventSink: sink},
	})

	d.Publish(context.Background(), auth.Event{Type: auth.EventTokenRejected})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx)

	if got := sink.count(); got != 1 {
		t.Errorf("delivered %d events after panic, want 1", got)
	}
}

func TestNewDispatcher_SkipsNilSinks(t *testing.T) {
	d := NewDispatcher(0, nil, []Sink{{Name: "mqtt"}, {Name: "rec", EventSink: &recordingSink{}}})

	if len(d.sinks) != 1 {
		t.Errorf("sinks = %d, want 1", len(d.sinks))
	}
	if cap(d.ch) != DefaultBufferSize {
		t.Errorf("buffer = %d, want %d", cap(d.ch), DefaultBufferSize)
	}
}
