package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/utdesign/procurement-engine/procurement"
)

var (
	// ErrQueueFull is returned when the buffer is full and the notification was dropped.
	ErrQueueFull = errors.New("notification queue full")

	// ErrQueueClosed is returned after Close.
	ErrQueueClosed = errors.New("notification queue closed")
)

// Queue hands notifications to a worker goroutine so callers never wait on
// delivery. Start the worker with Run.
type Queue struct {
	next    procurement.Notifier
	log     zerolog.Logger
	timeout time.Duration

	mu     sync.RWMutex
	ch     chan procurement.Notification
	closed bool
}

// NewQueue buffers up to size notifications in front of next.
func NewQueue(next procurement.Notifier, size int, log zerolog.Logger) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{
		next:    next,
		log:     log.With().Str("component", "notify-queue").Logger(),
		timeout: 10 * time.Second,
		ch:      make(chan procurement.Notification, size),
	}
}

// Notify enqueues n without blocking.
func (q *Queue) Notify(_ context.Context, n procurement.Notification) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- n:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run delivers queued notifications until Close is called and the buffer is
// drained, or ctx is cancelled.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-q.ch:
			if !ok {
				return
			}
			q.deliver(ctx, n)
		}
	}
}

// Close stops accepting notifications. Run returns once the buffer is empty.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

func (q *Queue) deliver(ctx context.Context, n procurement.Notification) {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	if err := q.next.Notify(ctx, n); err != nil {
		q.log.Warn().Err(err).
			Str("operation", string(n.Operation)).
			Str("audience", string(n.Audience)).
			Int64("request_number", n.RequestNumber).
			Msg("notification delivery failed")
	}
}
