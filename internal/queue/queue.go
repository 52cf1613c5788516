// Package queue defines the durable job queue between the web process and
// the worker.
package queue

import (
	"context"

	"github.com/JakeFAU/contractor-socket/internal/jobs"
)

// Handler runs one delivered message. The message is acknowledged when the
// handler returns.
type Handler func(ctx context.Context, msg jobs.Message)

// Queue publishes jobs and delivers them per priority class.
type Queue interface {
	// Enqueue publishes a message to the queue for its priority.
	Enqueue(ctx context.Context, msg jobs.Message) error

	// Consume delivers messages of one priority to h with at most
	// concurrency handlers in flight. It blocks until ctx ends.
	Consume(ctx context.Context, prio jobs.Priority, concurrency int, h Handler) error

	// Close releases connections and stops delivery.
	Close() error
}
