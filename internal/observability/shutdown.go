package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ShutdownCoordinator runs cleanup handlers in LIFO order: the component
// registered last (a metrics server, a tracer) stops before the ones it
// depends on (the log file).
type ShutdownCoordinator struct {
	// Logger reports each step; nil means slog.Default. New sets it to the
	// service logger so shutdown lines carry the service attributes.
	Logger *slog.Logger

	mu       sync.Mutex
	handlers []namedHandler
	done     bool
}

type namedHandler struct {
	name string
	fn   func(context.Context) error
}

// Register adds a shutdown handler.
func (s *ShutdownCoordinator) Register(name string, fn func(context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, namedHandler{name: name, fn: fn})
}

// Shutdown runs every handler once, newest first, and joins their
// errors. Later calls are no-ops.
func (s *ShutdownCoordinator) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return nil
	}
	s.done = true
	handlers := s.handlers
	s.handlers = nil
	logger := s.Logger
	s.mu.Unlock()

	if logger == nil {
		logger = slog.Default()
	}

	var errs []error
	for i := len(handlers) - 1; i >= 0; i-- {
		h := handlers[i]
		start := time.Now()
		err := h.fn(ctx)
		if err != nil {
			// A log-file handler may have closed the logger's writer already.
			logger.ErrorContext(ctx, "shutdown failed", "component", h.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
			continue
		}
		logger.DebugContext(ctx, "component stopped", "component", h.name, "duration", time.Since(start))
	}
	return errors.Join(errs...)
}
