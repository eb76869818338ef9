// Package logsink writes request log records to a durable append-only
// destination without ever blocking the request path. Records flow through
// a multiple-producer/single-consumer queue drained by one background
// worker, in strict enqueue order.
package logsink

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/minivault/minivault/internal/domain"
	"github.com/minivault/minivault/internal/metrics"
)

// Appender persists one record to the destination. Implementations are
// called from a single goroutine.
type Appender interface {
	Append(rec domain.LogRecord) error
	Close() error
}

const (
	defaultQueueSize  = 1024
	defaultRetryDelay = time.Second
)

// Sink is the asynchronous record writer. Enqueue never blocks and never
// fails; a full queue drops the record (counted) rather than stalling a
// producer.
type Sink struct {
	appender   Appender
	queue      chan domain.LogRecord
	retryDelay time.Duration

	mu     sync.Mutex
	closed bool

	done chan struct{}
}

// SinkOption configures a Sink.
type SinkOption func(*Sink)

// WithQueueSize overrides the queue capacity.
func WithQueueSize(n int) SinkOption {
	return func(s *Sink) {
		s.queue = make(chan domain.LogRecord, n)
	}
}

// WithRetryDelay overrides the pause between write retries.
func WithRetryDelay(d time.Duration) SinkOption {
	return func(s *Sink) {
		s.retryDelay = d
	}
}

func New(appender Appender, opts ...SinkOption) *Sink {
	s := &Sink{
		appender:   appender,
		queue:      make(chan domain.LogRecord, defaultQueueSize),
		retryDelay: defaultRetryDelay,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background worker.
func (s *Sink) Start() {
	go s.drain()
}

// Enqueue hands a record to the background worker and returns immediately,
// regardless of destination write latency.
func (s *Sink) Enqueue(rec domain.LogRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	select {
	case s.queue <- rec:
		metrics.LogQueueDepth.Set(float64(len(s.queue)))
	default:
		metrics.LogRecordsDropped.Inc()
		slog.Warn("log queue full, dropping record", "request_id", rec.RequestID)
	}
}

// Stop closes the intake and waits for all queued records to flush, up to
// the context deadline. Records still queued past the deadline are lost.
func (s *Sink) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	select {
	case <-s.done:
		return s.appender.Close()
	case <-ctx.Done():
		return fmt.Errorf("log sink drain interrupted: %w", ctx.Err())
	}
}

// drain writes records in FIFO order. A failing destination is retried on
// the single pending record; producers are unaffected.
func (s *Sink) drain() {
	defer close(s.done)

	for rec := range s.queue {
		for {
			err := s.appender.Append(rec)
			if err == nil {
				break
			}
			slog.Error("log write failed, retrying",
				"error", err,
				"request_id", rec.RequestID,
				"retry_in", s.retryDelay,
			)
			time.Sleep(s.retryDelay)
		}
		metrics.LogQueueDepth.Set(float64(len(s.queue)))
	}
}
