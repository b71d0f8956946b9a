// Package supervisor implements process lifecycle: startup validation,
// periodic heartbeat, and signal-driven graceful drain (spec.md
// §4.10), generalized from the teacher's cmd/server/main.go shutdown
// sequence into a reusable type shared by cmd/api and cmd/worker.
package supervisor

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const heartbeatInterval = 30 * time.Second

// Counters reports cumulative outcome counts for the heartbeat log.
// Implemented by *dispatcher.Dispatcher in the worker process; the API
// process passes nil.
type Counters func() (delivered, failed, dead, retried, skipped uint64)

// Supervisor owns the root context that shutdown signals cancel; the
// process's components watch that context to shut down gracefully.
type Supervisor struct {
	logger    *zap.Logger
	startedAt time.Time
	counters  Counters
}

// New builds a Supervisor. counters may be nil if the process has no
// cumulative delivery counters to report (e.g. the API process).
func New(logger *zap.Logger, counters Counters) *Supervisor {
	return &Supervisor{logger: logger, startedAt: time.Now(), counters: counters}
}

// ValidateConfig logs a warning for each string in warnings, per
// spec.md §4.10's "warn if batch_size > 100 or poll_interval < 100ms".
func (s *Supervisor) ValidateConfig(warnings []string) {
	for _, w := range warnings {
		s.logger.Warn("configuration warning", zap.String("detail", w))
	}
}

// Context returns a context cancelled on SIGTERM or SIGINT, and a
// cancel func callers should defer.
func (s *Supervisor) Context() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		s.logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	return ctx, cancel
}

// RunHeartbeat blocks, logging uptime and cumulative counters every 30
// seconds until ctx is cancelled.
func (s *Supervisor) RunHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.logHeartbeat()
		}
	}
}

func (s *Supervisor) logHeartbeat() {
	uptime := time.Since(s.startedAt)
	if s.counters == nil {
		s.logger.Info("heartbeat", zap.Duration("uptime", uptime))
		return
	}

	delivered, failed, dead, retried, skipped := s.counters()
	s.logger.Info("heartbeat",
		zap.Duration("uptime", uptime),
		zap.Uint64("delivered", delivered),
		zap.Uint64("failed", failed),
		zap.Uint64("dead", dead),
		zap.Uint64("retried", retried),
		zap.Uint64("skipped", skipped),
	)
}

// DrainWorker waits up to maxWait for inFlight to finish after ctx has
// already been cancelled, matching spec.md §4.10's "wait up to 5
// seconds for the in-flight batch, then exit".
func DrainWorker(inFlight <-chan struct{}, maxWait time.Duration) {
	select {
	case <-inFlight:
	case <-time.After(maxWait):
	}
}
