// Package dispatcher fans queue deliveries out to one bounded pool per
// priority class.
package dispatcher

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/contractor-socket/internal/jobs"
	"github.com/JakeFAU/contractor-socket/internal/queue"
)

// Consumer delivers messages of one priority with bounded concurrency.
type Consumer interface {
	Consume(ctx context.Context, prio jobs.Priority, concurrency int, h queue.Handler) error
}

// Pools is the worker budget of each priority class.
type Pools map[jobs.Priority]int

// Dispatcher runs the pools over a consumer.
type Dispatcher struct {
	consumer Consumer
	pools    Pools
}

// New creates a Dispatcher. Priorities missing from pools get one worker.
func New(consumer Consumer, pools Pools) *Dispatcher {
	return &Dispatcher{consumer: consumer, pools: pools}
}

// Run consumes every priority until ctx ends or one pool fails, which
// stops the others.
func (d *Dispatcher) Run(ctx context.Context, h queue.Handler) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, prio := range jobs.Priorities {
		size := d.pools[prio]
		if size < 1 {
			size = 1
		}
		g.Go(func() error {
			if err := d.consumer.Consume(gctx, prio, size, h); err != nil {
				return fmt.Errorf("%s pool: %w", prio, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}
	return nil
}
