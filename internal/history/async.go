package history

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrClosed    = errors.New("history writer closed")
	ErrQueueFull = errors.New("history queue full")
)

const (
	DefaultQueueSize    = 256
	DefaultSendTimeout  = 2 * time.Second
	DefaultDrainTimeout = 5 * time.Second
)

// Async hands events to a background goroutine so callers never wait on the
// underlying sink. When the queue is full the event is dropped.
type Async struct {
	sink    Sink
	queue   chan Event
	done    chan struct{}
	log     *slog.Logger
	dropped atomic.Int64

	SendTimeout  time.Duration
	DrainTimeout time.Duration

	mu     sync.RWMutex
	closed bool
}

// NewAsync starts the writer goroutine. size <= 0 uses DefaultQueueSize.
func NewAsync(sink Sink, size int, log *slog.Logger) *Async {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if log == nil {
		log = slog.Default()
	}
	a := &Async{
		sink:         sink,
		queue:        make(chan Event, size),
		done:         make(chan struct{}),
		log:          log,
		SendTimeout:  DefaultSendTimeout,
		DrainTimeout: DefaultDrainTimeout,
	}
	go a.run()
	return a
}

// Send enqueues e and returns immediately.
func (a *Async) Send(_ context.Context, e Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- e:
		return nil
	default:
		a.dropped.Add(1)
		return ErrQueueFull
	}
}

// Dropped is the number of events discarded because the queue was full.
func (a *Async) Dropped() int64 { return a.dropped.Load() }

// Close stops accepting events and waits up to DrainTimeout for the queue to
// be written out. It does not close the underlying sink.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	t := time.NewTimer(a.DrainTimeout)
	defer t.Stop()
	select {
	case <-a.done:
		return nil
	case <-t.C:
		return errors.New("history queue not drained in time")
	}
}

func (a *Async) run() {
	defer close(a.done)
	for e := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.SendTimeout)
		if err := a.sink.Send(ctx, e); err != nil {
			a.log.Debug("history write failed", "event", e.Type, "session", e.SessionID, "error", err)
		}
		cancel()
	}
}
