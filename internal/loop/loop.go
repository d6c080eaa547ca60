// Package loop provides the single event-processing context. Everything that
// touches the resource cache or produces inbound item writes runs here, one
// piece of work at a time, in submission order.
package loop

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// ErrClosed is returned when the loop no longer accepts work.
var ErrClosed = errors.New("event loop closed")

// Work is a unit of work executed on the loop goroutine.
type Work func(ctx context.Context)

// Loop runs submitted work on a single goroutine.
type Loop struct {
	queue  chan Work
	logger zerolog.Logger

	// closing is closed to signal senders to stop; a channel in select is race-free
	closing   chan struct{}
	closeOnce sync.Once
}

// New creates a loop with the given queue capacity.
func New(size int, logger zerolog.Logger) *Loop {
	if size <= 0 {
		size = 100
	}
	return &Loop{
		queue:   make(chan Work, size),
		logger:  logger,
		closing: make(chan struct{}),
	}
}

// Close stops accepting work. Run drains what is already queued and returns.
// The queue channel is never closed, so concurrent senders cannot panic.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		close(l.closing)
	})
}

// isClosing reports whether Close was called. Senders check it before
// the send select, where a ready queue would otherwise compete with closing.
func (l *Loop) isClosing() bool {
	select {
	case <-l.closing:
		return true
	default:
		return false
	}
}

// Do queues work without blocking. Returns false if the loop is closing,
// the queue is full or ctx is cancelled.
func (l *Loop) Do(ctx context.Context, work Work) bool {
	if l.isClosing() {
		l.logger.Warn().Msg("Event loop closing, dropping work")
		return false
	}
	select {
	case <-l.closing:
		l.logger.Warn().Msg("Event loop closing, dropping work")
		return false
	case <-ctx.Done():
		l.logger.Warn().Msg("Context cancelled, dropping work")
		return false
	case l.queue <- work:
		return true
	default:
		l.logger.Warn().Msg("Event loop queue full, dropping work")
		return false
	}
}

// DoSync queues work, blocking until there is space.
func (l *Loop) DoSync(ctx context.Context, work Work) error {
	if l.isClosing() {
		return ErrClosed
	}
	select {
	case <-l.closing:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case l.queue <- work:
		return nil
	}
}

// DoSyncWithResult queues work and waits until it has run.
func (l *Loop) DoSyncWithResult(ctx context.Context, work func(context.Context) error) error {
	done := make(chan error, 1)
	wrapped := Work(func(c context.Context) {
		done <- work(c)
	})

	if l.isClosing() {
		return ErrClosed
	}
	select {
	case <-l.closing:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case l.queue <- wrapped:
	}

	select {
	case err := <-done:
		return err
	case <-l.closing:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes queued work until ctx is cancelled or the loop is closed.
// A panicking work item is logged and the loop keeps going.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.drain(ctx)
			return
		case <-l.closing:
			l.drain(ctx)
			return
		case work := <-l.queue:
			l.execute(ctx, work)
		}
	}
}

func (l *Loop) drain(ctx context.Context) {
	for {
		select {
		case work := <-l.queue:
			l.execute(ctx, work)
		default:
			return
		}
	}
}

func (l *Loop) execute(ctx context.Context, work Work) {
	defer func() {
		if rec := recover(); rec != nil {
			l.logger.Error().
				Interface("panic", rec).
				Msg("Event loop work panicked, continuing")
		}
	}()
	work(ctx)
}
