package events

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nerrad567/keystone-auth/internal/auth"
	"github.com/nerrad567/keystone-auth/internal/infrastructure/logging"
)

const (
	// DefaultBufferSize is used when a non-positive size is configured.
	DefaultBufferSize = 256

	// deliveryTimeout bounds the time a single sink may spend on one event.
	deliveryTimeout = 5 * time.Second
)

// Sink is a named event consumer.
type Sink struct {
	Name string
	auth.EventSink
}

// Dispatcher buffers events and delivers them to sinks on one goroutine.
//
// Thread Safety: Publish is safe for concurrent use. Run must be called once.
type Dispatcher struct {
	ch      chan auth.Event
	sinks   []Sink
	logger  *logging.Logger
	onDrop  func()
	dropped atomic.Uint64
	done    chan struct{}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithDropHook registers fn to be called whenever an event is dropped.
func WithDropHook(fn func()) Option {
	return func(d *Dispatcher) { d.onDrop = fn }
}

// NewDispatcher creates a dispatcher delivering to sinks. Nil sinks are
// skipped so callers can pass optional consumers unconditionally.
func NewDispatcher(bufferSize int, logger *logging.Logger, sinks []Sink, opts ...Option) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = logging.Discard()
	}

	d := &Dispatcher{
		ch:     make(chan auth.Event, bufferSize),
		logger: logger,
		done:   make(chan struct{}),
	}
	for _, s := range sinks {
		if s.EventSink != nil {
			d.sinks = append(d.sinks, s)
		}
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Publish enqueues event without blocking. The request context is not used
// for delivery since the request has usually finished by then.
func (d *Dispatcher) Publish(_ context.Context, event auth.Event) {
	select {
	case d.ch <- event:
	default:
		d.dropped.Add(1)
		if d.onDrop != nil {
			d.onDrop()
		}
		d.logger.Warn("event buffer full, dropping event",
			"type", event.Type,
			"user_id", event.UserID,
		)
	}
}

// Dropped returns how many events have been dropped since start.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Run delivers events until ctx is cancelled, then drains what is already
// buffered and returns.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)

	for {
		select {
		case event := <-d.ch:
			d.deliver(event)
		case <-ctx.Done():
			for {
				select {
				case event := <-d.ch:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

// Done is closed when Run has returned.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) deliver(event auth.Event) {
	for _, s := range d.sinks {
		if err := d.deliverTo(s, event); err != nil {
			d.logger.Error("event sink failed",
				"sink", s.Name,
				"type", event.Type,
				"error", err,
			)
		}
	}
}

// deliverTo isolates one sink so a panic cannot stop delivery to the others.
func (d *Dispatcher) deliverTo(s Sink, event auth.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()
	s.Publish(ctx, event)
	return nil
}
