package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Publisher pushes an envelope to the broker.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// Dispatcher is an asynchronous Sink. Intents are buffered in memory and
// published by Run; when the buffer is full the intent is dropped.
type Dispatcher struct {
	pub      Publisher
	logger   *zap.Logger
	queue    chan Intent
	attempts int
	backoff  time.Duration
}

func NewDispatcher(pub Publisher, logger *zap.Logger, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	return &Dispatcher{
		pub:      pub,
		logger:   logger,
		queue:    make(chan Intent, buffer),
		attempts: 3,
		backoff:  200 * time.Millisecond,
	}
}

func (d *Dispatcher) Enqueue(in Intent) {
	select {
	case d.queue <- in:
	default:
		d.logger.Warn("notification buffer full, dropping intent",
			zap.String("key", in.Key),
			zap.String("intent_id", in.ID.String()),
		)
	}
}

// Run publishes buffered intents until ctx is done, then drains what is left
// with a short grace period.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return nil
		case in := <-d.queue:
			d.publish(ctx, in)
		}
	}
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case in := <-d.queue:
			d.publish(ctx, in)
		default:
			return
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, in Intent) {
	env, err := in.Envelope()
	if err != nil {
		d.logger.Error("drop unencodable intent", zap.String("key", in.Key), zap.Error(err))
		return
	}

	wait := d.backoff
	for attempt := 1; attempt <= d.attempts; attempt++ {
		pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = d.pub.Publish(pubCtx, env)
		cancel()
		if err == nil {
			return
		}
		if attempt == d.attempts || ctx.Err() != nil {
			break
		}
		select {
		case <-time.After(wait):
			wait *= 2
		case <-ctx.Done():
		}
	}

	d.logger.Error("failed to publish notification intent",
		zap.String("key", in.Key),
		zap.String("intent_id", in.ID.String()),
		zap.Error(err),
	)
}
