// Package jobs defines the background job messages exchanged between the API
// and the worker, and a typed client for enqueuing them.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type names a job handler.
type Type string

// Job types understood by the worker.
const (
	TypeFetchImage     Type = "fetch_and_resize_image"
	TypePullSync       Type = "pull_sync_contractors"
	TypeRefreshEnquiry Type = "refresh_enquiry_options"
	TypeSubmitEnquiry  Type = "submit_enquiry"
)

// Priority selects the worker pool that runs a job.
type Priority string

// Priority classes. Each has its own worker budget.
const (
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Priorities lists every class in scheduling order.
var Priorities = []Priority{PriorityNormal, PriorityLow}

// Message is the queued envelope for one job.
type Message struct {
	ID       string          `json:"id"`
	Type     Type            `json:"type"`
	Priority Priority        `json:"priority"`
	Payload  json.RawMessage `json:"payload"`
	Enqueued time.Time       `json:"enqueued"`
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

// ImagePayload asks the worker to fetch and resize a contractor photo.
type ImagePayload struct {
	CompanyID    int64  `json:"company_id"`
	PublicKey    string `json:"public_key"`
	ContractorID int64  `json:"contractor_id"`
	URL          string `json:"url"`
}

// CompanyPayload targets a per-company job.
type CompanyPayload struct {
	CompanyID int64 `json:"company_id"`
}

// EnquiryPayload carries a validated enquiry to forward upstream.
type EnquiryPayload struct {
	CompanyID int64          `json:"company_id"`
	Data      map[string]any `json:"data"`
	IP        string         `json:"ip,omitempty"`
	Referrer  string         `json:"referrer,omitempty"`
}
