// Package pubsub implements the job queue on Google Cloud Pub/Sub with one
// topic and subscription per priority.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/contractor-socket/internal/jobs"
	"github.com/JakeFAU/contractor-socket/internal/queue"
)

// Route names the topic and subscription for one priority.
type Route struct {
	Topic        string
	Subscription string
}

// Config maps priorities to their routes.
type Config struct {
	ProjectID string
	Routes    map[jobs.Priority]Route
}

// Queue publishes to and receives from Pub/Sub.
type Queue struct {
	client     *pubsub.Client
	routes     map[jobs.Priority]Route
	publishers map[jobs.Priority]*pubsub.Publisher
	ownsClient bool
	logger     *zap.Logger
}

var _ queue.Queue = (*Queue)(nil)

// New dials Pub/Sub with Application Default Credentials.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Queue, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	q, err := NewFromClient(client, cfg.Routes, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	q.ownsClient = true
	return q, nil
}

// NewFromClient wraps an existing client. The caller keeps ownership of it.
func NewFromClient(client *pubsub.Client, routes map[jobs.Priority]Route, logger *zap.Logger) (*Queue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &Queue{
		client:     client,
		routes:     routes,
		publishers: make(map[jobs.Priority]*pubsub.Publisher, len(routes)),
		logger:     logger.Named("pubsub"),
	}
	for _, p := range jobs.Priorities {
		if r, ok := routes[p]; !ok || r.Topic == "" {
			return nil, fmt.Errorf("no pubsub topic for priority %q", p)
		}
	}
	for _, p := range jobs.Priorities {
		q.publishers[p] = client.Publisher(routes[p].Topic)
	}
	return q, nil
}

// Enqueue publishes the message and waits for the server id.
func (q *Queue) Enqueue(ctx context.Context, msg jobs.Message) error {
	pub, ok := q.publishers[msg.Priority]
	if !ok {
		return fmt.Errorf("unknown priority %q", msg.Priority)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	result := pub.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"type":     string(msg.Type),
			"priority": string(msg.Priority),
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Consume receives from the priority's subscription. Every message is
// acknowledged after h returns, including ones that cannot be decoded.
func (q *Queue) Consume(ctx context.Context, prio jobs.Priority, concurrency int, h queue.Handler) error {
	r, ok := q.routes[prio]
	if !ok || r.Subscription == "" {
		return fmt.Errorf("no pubsub subscription for priority %q", prio)
	}
	if concurrency < 1 {
		concurrency = 1
	}
	sub := q.client.Subscriber(r.Subscription)
	sub.ReceiveSettings.MaxOutstandingMessages = concurrency
	sub.ReceiveSettings.NumGoroutines = 1

	err := sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		defer m.Ack()
		var msg jobs.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			q.logger.Error("dropping undecodable message", zap.String("message_id", m.ID), zap.Error(err))
			return
		}
		h(ctx, msg)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("receive %s: %w", r.Subscription, err)
	}
	return nil
}

// Close flushes publishers and closes the client if this queue created it.
func (q *Queue) Close() error {
	for _, pub := range q.publishers {
		pub.Stop()
	}
	if !q.ownsClient {
		return nil
	}
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
