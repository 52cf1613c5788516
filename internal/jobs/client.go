package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Enqueuer accepts messages for later execution.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg Message) error
}

// IDGenerator issues job ids.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock supplies enqueue timestamps.
type Clock interface {
	Now() time.Time
}

// Client builds typed messages and hands them to an Enqueuer.
type Client struct {
	queue Enqueuer
	ids   IDGenerator
	clock Clock
}

// NewClient creates a Client.
func NewClient(queue Enqueuer, ids IDGenerator, clock Clock) *Client {
	return &Client{queue: queue, ids: ids, clock: clock}
}

// FetchImage enqueues a photo fetch for a contractor.
func (c *Client) FetchImage(ctx context.Context, p ImagePayload, prio Priority) error {
	return c.enqueue(ctx, TypeFetchImage, prio, p)
}

// PullSync enqueues a full contractor pull for a company.
func (c *Client) PullSync(ctx context.Context, companyID int64) error {
	return c.enqueue(ctx, TypePullSync, PriorityLow, CompanyPayload{CompanyID: companyID})
}

// RefreshEnquiry enqueues an enquiry schema refresh.
func (c *Client) RefreshEnquiry(ctx context.Context, companyID int64) error {
	return c.enqueue(ctx, TypeRefreshEnquiry, PriorityNormal, CompanyPayload{CompanyID: companyID})
}

// SubmitEnquiry enqueues an enquiry submission.
func (c *Client) SubmitEnquiry(ctx context.Context, p EnquiryPayload) error {
	return c.enqueue(ctx, TypeSubmitEnquiry, PriorityNormal, p)
}

func (c *Client) enqueue(ctx context.Context, typ Type, prio Priority, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", typ, err)
	}
	id, err := c.ids.NewID()
	if err != nil {
		return fmt.Errorf("generate job id: %w", err)
	}
	if prio == "" {
		prio = PriorityNormal
	}
	msg := Message{
		ID:       id,
		Type:     typ,
		Priority: prio,
		Payload:  raw,
		Enqueued: c.clock.Now(),
	}
	if err := c.queue.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("enqueue %s: %w", typ, err)
	}
	return nil
}
