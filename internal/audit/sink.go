// Package audit records every initiate/callback/refresh attempt. Recording
// is best-effort observability: a failed append must never block or fail the
// OAuth operation it describes.
package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlykso/vibe-tribe-backend-sub004/internal/domain/social"
	"github.com/charlykso/vibe-tribe-backend-sub004/internal/repository"
)

const (
	defaultBufferSize = 256
	insertTimeout     = 5 * time.Second
)

// Sink accepts audit events without blocking the caller.
type Sink interface {
	Record(event social.AuditEvent)
}

// AsyncSink buffers events on a channel and appends them from a single
// worker goroutine. A full buffer drops the event with a warning rather than
// applying backpressure to request handling.
type AsyncSink struct {
	repo   repository.AuditRepository
	logger *zap.Logger

	events chan social.AuditEvent
	done   chan struct{}
	once   sync.Once
}

var _ Sink = (*AsyncSink)(nil)

// NewAsyncSink constructs the sink. Call Start before recording.
func NewAsyncSink(repo repository.AuditRepository, logger *zap.Logger) *AsyncSink {
	if logger == nil {
		logger = zap.L()
	}
	return &AsyncSink{
		repo:   repo,
		logger: logger,
		events: make(chan social.AuditEvent, defaultBufferSize),
		done:   make(chan struct{}),
	}
}

// Start launches the append worker.
func (s *AsyncSink) Start() {
	go s.run()
}

// Stop drains buffered events and stops the worker.
func (s *AsyncSink) Stop(ctx context.Context) error {
	s.once.Do(func() {
		close(s.events)
	})
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Record enqueues the event, stamping creation time when absent. It never
// blocks: when the buffer is full the event is dropped and logged.
func (s *AsyncSink) Record(event social.AuditEvent) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	defer func() {
		// Recording after Stop would panic on the closed channel; audit is
		// best-effort, so swallow it.
		if recover() != nil {
			s.logger.Warn("audit sink closed, dropping event", zap.String("action", string(event.Action)))
		}
	}()
	select {
	case s.events <- event:
	default:
		s.logger.Warn("audit buffer full, dropping event",
			zap.String("action", string(event.Action)),
			zap.String("platform", string(event.Platform)),
		)
	}
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for event := range s.events {
		ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
		if err := s.repo.Insert(ctx, event); err != nil {
			s.logger.Warn("failed to append audit event",
				zap.String("action", string(event.Action)),
				zap.String("platform", string(event.Platform)),
				zap.Error(err),
			)
		}
		cancel()
	}
}
