package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/case-timeline-service/internal/service"
)

// Scanner runs one escalation sweep.
type Scanner interface {
	Scan(ctx context.Context) (service.ScanResult, error)
}

// EscalationWorker runs the scanner on a fixed interval until stopped.
type EscalationWorker struct {
	scanner  Scanner
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewEscalationWorker creates a new escalation worker.
func NewEscalationWorker(scanner Scanner, interval time.Duration, logger *zap.Logger) *EscalationWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EscalationWorker{scanner: scanner, interval: interval, logger: logger}
}

// Start launches the loop in its own goroutine. A scan runs immediately, then every interval.
func (w *EscalationWorker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		w.logger.Warn("escalation worker already running")
		return
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.running = true
	w.logger.Info("escalation worker started", zap.Duration("interval", w.interval))

	go w.run(ctx, w.done)
}

// Stop cancels the loop and waits for an in-flight scan to finish.
func (w *EscalationWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done
	w.logger.Info("escalation worker stopped")
}

// Run blocks, scanning every interval until ctx is done.
func (w *EscalationWorker) Run(ctx context.Context) {
	done := make(chan struct{})
	w.run(ctx, done)
}

func (w *EscalationWorker) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.RunOnce(ctx)
	for {
		select {
		case <-ticker.C:
			w.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce performs a single sweep and logs its outcome.
func (w *EscalationWorker) RunOnce(ctx context.Context) service.ScanResult {
	result, err := w.scanner.Scan(ctx)
	if err != nil {
		w.logger.Error("escalation scan failed", zap.Error(err))
		return result
	}
	if result.LockedOut {
		w.logger.Debug("escalation scan skipped; another instance holds the lease")
		return result
	}
	w.logger.Info("escalation scan finished",
		zap.Int("cases_evaluated", result.CasesEvaluated),
		zap.Int("escalated", result.Escalated),
		zap.Int("already_open", result.AlreadyOpen),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", result.Duration))
	return result
}
