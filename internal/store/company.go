package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// NameDisplay controls how contractor names render on public listings.
type NameDisplay string

// Supported name display modes.
const (
	NameDisplayFirstName        NameDisplay = "first_name"
	NameDisplayFirstNameInitial NameDisplay = "first_name_initial"
	NameDisplayFullName         NameDisplay = "full_name"
)

// Company is a tenant of the socket.
type Company struct {
	ID          int64          `json:"id"`
	PublicKey   string         `json:"public_key"`
	PrivateKey  string         `json:"private_key"`
	Name        string         `json:"name"`
	NameDisplay NameDisplay    `json:"name_display"`
	// Domains restricts browser origins. Nil means unrestricted; an empty
	// slice admits only the platform root domain.
	Domains []string       `json:"domains"`
	Options map[string]any `json:"options"`
}

// DisplayName renders a contractor name according to the company setting.
func (c Company) DisplayName(first, last string) string {
	first = strings.TrimSpace(first)
	last = strings.TrimSpace(last)
	switch c.NameDisplay {
	case NameDisplayFirstName:
		return first
	case NameDisplayFullName:
		return strings.TrimSpace(first + " " + last)
	default:
		if last == "" {
			return first
		}
		return fmt.Sprintf("%s %s.", first, strings.ToUpper(string([]rune(last)[:1])))
	}
}

// CompanyCreate is the signed payload that registers a tenant.
type CompanyCreate struct {
	Name        string         `json:"name" validate:"required,max=255"`
	PublicKey   string         `json:"public_key" validate:"omitempty,min=18,max=20,alphanum"`
	PrivateKey  string         `json:"private_key" validate:"omitempty,min=20,max=50"`
	NameDisplay NameDisplay    `json:"name_display" validate:"omitempty,oneof=first_name first_name_initial full_name"`
	Domains     []string       `json:"domains" validate:"omitempty,dive,min=1,max=255"`
	Options     map[string]any `json:"options"`
	// ImportExisting enqueues a full contractor pull once the company exists.
	ImportExisting bool `json:"import_existing"`
}

// CompanyUpdate is the signed options payload. Absent fields are unchanged.
type CompanyUpdate struct {
	Name        *string         `json:"name" validate:"omitempty,max=255"`
	NameDisplay *NameDisplay    `json:"name_display" validate:"omitempty,oneof=first_name first_name_initial full_name"`
	Domains     OptionalDomains `json:"domains"`
	Options     map[string]any  `json:"options"`
}

// OptionalDomains distinguishes an absent domains field from an explicit null.
type OptionalDomains struct {
	Set    bool
	Values []string
}

// UnmarshalJSON records that the field was present, keeping null as nil.
func (o *OptionalDomains) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Values = nil
		return nil
	}
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("decode domains: %w", err)
	}
	if values == nil {
		values = []string{}
	}
	o.Values = values
	return nil
}
