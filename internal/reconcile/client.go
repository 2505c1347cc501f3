package reconcile

import (
	"context"
	"time"

	"github.com/hibiken/asynq"

	"callcenter/internal/calls"
)

// Enqueuer is the part of *asynq.Client the deferrer needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type Options struct {
	Queue string
	// Delay before the first re-application and between retries.
	Delay time.Duration
	// MaxAttempts counts the first re-application.
	MaxAttempts int
}

func (o Options) withDefaults() Options {
	if o.Queue == "" {
		o.Queue = "callbacks"
	}
	if o.Delay <= 0 {
		o.Delay = 5 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	return o
}

// Deferrer queues unmatched callbacks. It satisfies telephony.Deferrer.
type Deferrer struct {
	client Enqueuer
	opts   Options
}

func NewDeferrer(client Enqueuer, opts Options) *Deferrer {
	return &Deferrer{client: client, opts: opts.withDefaults()}
}

func (d *Deferrer) taskOptions() []asynq.Option {
	return []asynq.Option{
		asynq.Queue(d.opts.Queue),
		asynq.ProcessIn(d.opts.Delay),
		asynq.MaxRetry(d.opts.MaxAttempts - 1),
	}
}

func (d *Deferrer) DeferStatus(ctx context.Context, cb calls.StatusCallback) error {
	task, err := NewStatusTask(cb)
	if err != nil {
		return err
	}
	_, err = d.client.EnqueueContext(ctx, task, d.taskOptions()...)
	return err
}

func (d *Deferrer) DeferDetection(ctx context.Context, cb calls.DetectionCallback) error {
	task, err := NewDetectionTask(cb)
	if err != nil {
		return err
	}
	_, err = d.client.EnqueueContext(ctx, task, d.taskOptions()...)
	return err
}

// RedisClientOpt builds asynq's connection options from a host:port address.
func RedisClientOpt(addr string) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: addr}
}
