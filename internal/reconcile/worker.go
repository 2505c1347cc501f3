package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"callcenter/internal/calls"
	"callcenter/internal/observability"
)

// ErrStillUnmatched makes asynq schedule another attempt.
var ErrStillUnmatched = errors.New("reconcile: callback still unmatched")

// Applier is the engine surface deferred callbacks are replayed through.
type Applier interface {
	ApplyProviderStatus(ctx context.Context, cb calls.StatusCallback) (calls.Result, error)
	ApplyDetection(ctx context.Context, d calls.DetectionCallback) (calls.Result, error)
}

type Worker struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	engine  Applier
	metrics *observability.Metrics
	log     *slog.Logger
}

type WorkerOptions struct {
	Queue       string
	Concurrency int
	Delay       time.Duration
}

func NewWorker(redis asynq.RedisClientOpt, engine Applier, opts WorkerOptions, metrics *observability.Metrics, log *slog.Logger) *Worker {
	if opts.Queue == "" {
		opts.Queue = "callbacks"
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 10
	}
	if opts.Delay <= 0 {
		opts.Delay = 5 * time.Second
	}
	delay := opts.Delay
	server := asynq.NewServer(redis, asynq.Config{
		Concurrency: opts.Concurrency,
		Queues:      map[string]int{opts.Queue: 1},
		RetryDelayFunc: func(n int, err error, t *asynq.Task) time.Duration {
			return delay
		},
	})
	w := newHandlers(engine, metrics, log)
	w.server = server
	return w
}

func newHandlers(engine Applier, metrics *observability.Metrics, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	w := &Worker{
		mux:     asynq.NewServeMux(),
		engine:  engine,
		metrics: metrics,
		log:     log,
	}
	w.mux.HandleFunc(TaskStatusCallback, w.handleStatus)
	w.mux.HandleFunc(TaskDetectionCallback, w.handleDetection)
	return w
}

// Run processes tasks until ctx is done, then drains in-flight tasks.
// Server.Run is avoided because it waits for an OS signal rather than ctx.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("start reconcile worker: %w", err)
	}
	<-ctx.Done()
	w.server.Shutdown()
	return nil
}

func (w *Worker) handleStatus(ctx context.Context, task *asynq.Task) error {
	cb, err := ParseStatusTask(task)
	if err != nil {
		return fmt.Errorf("parse status task: %v: %w", err, asynq.SkipRetry)
	}
	res, err := w.engine.ApplyProviderStatus(ctx, cb)
	if err != nil {
		return err
	}
	return w.settle(ctx, "status", res.Outcome, cb.ProviderCallID)
}

func (w *Worker) handleDetection(ctx context.Context, task *asynq.Task) error {
	d, err := ParseDetectionTask(task)
	if err != nil {
		return fmt.Errorf("parse detection task: %v: %w", err, asynq.SkipRetry)
	}
	res, err := w.engine.ApplyDetection(ctx, d)
	if err != nil {
		return err
	}
	return w.settle(ctx, "amd", res.Outcome, d.ProviderCallID)
}

func (w *Worker) settle(ctx context.Context, kind string, outcome calls.Outcome, providerCallID string) error {
	if outcome != calls.OutcomeUnmatched {
		w.log.Info("deferred callback reconciled", "kind", kind, "provider_call_id", providerCallID, "outcome", outcome)
		return nil
	}
	if lastAttempt(ctx) {
		w.log.Warn("deferred callback dropped; call never registered", "kind", kind, "provider_call_id", providerCallID)
		w.metrics.Callback(kind, "dropped")
		return nil
	}
	return ErrStillUnmatched
}

// lastAttempt reports whether asynq has no retries left for the running task.
// Outside a worker context there is no retry budget.
func lastAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	max, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= max
}
