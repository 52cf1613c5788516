package store

import (
	"fmt"
	"time"
)

// Action reports what contractor_set did.
type Action string

// Contractor write outcomes.
const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
)

// Extra attribute types that carry the promoted tag line and description.
const (
	AttrTypeTextShort    = "text_short"
	AttrTypeTextExtended = "text_extended"

	AttrTagLine            = "tag_line"
	AttrPrimaryDescription = "primary_description"
)

// Location is a contractor's geographic position.
type Location struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

// Skill pairs a subject with a qualification level. External ids, when the
// upstream supplies them, key the lookup rows; otherwise names do.
type Skill struct {
	SubjectID        *int64  `json:"subject_id"`
	Subject          string  `json:"subject" validate:"required,max=63"`
	Category         string  `json:"category" validate:"required,max=63"`
	QualLevelID      *int64  `json:"qual_level_id"`
	QualLevel        string  `json:"qual_level" validate:"required,max=63"`
	QualLevelRanking float64 `json:"qual_level_ranking"`
}

// Label is a company-scoped tag attached to contractors.
type Label struct {
	MachineName string `json:"machine_name" validate:"required,max=63"`
	Name        string `json:"name" validate:"required,max=63"`
}

// ExtraAttribute is a free-form profile field.
type ExtraAttribute struct {
	ID          int64   `json:"id"`
	MachineName string  `json:"machine_name"`
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	SortIndex   float64 `json:"sort_index"`
	Value       any     `json:"value"`
}

// ContractorPayload is the upstream contractor webhook and sync item.
type ContractorPayload struct {
	ID              int64            `json:"id" validate:"required,gt=0"`
	Deleted         bool             `json:"deleted"`
	FirstName       string           `json:"first_name" validate:"max=255"`
	LastName        string           `json:"last_name" validate:"max=255"`
	Town            string           `json:"town" validate:"max=63"`
	Country         string           `json:"country" validate:"max=63"`
	Location        *Location        `json:"location" validate:"omitempty"`
	Photo           string           `json:"photo" validate:"omitempty,url"`
	ReviewRating    *float64         `json:"review_rating" validate:"omitempty,gte=0,lte=5"`
	ReviewDuration  int              `json:"review_duration" validate:"gte=0"`
	LastUpdated     time.Time        `json:"last_updated"`
	Skills          []Skill          `json:"skills" validate:"dive"`
	Labels          []Label          `json:"labels" validate:"dive"`
	ExtraAttributes []ExtraAttribute `json:"extra_attributes"`
}

// Contractor is the stored contractor row, after extra attribute promotion.
type Contractor struct {
	ID                 int64
	CompanyID          int64
	FirstName          string
	LastName           string
	Town               string
	Country            string
	Location           *Location
	ExtraAttributes    []ExtraAttribute
	TagLine            string
	PrimaryDescription string
	Labels             []string
	ReviewRating       *float64
	ReviewDuration     int
	PhotoHash          string
	LastUpdated        time.Time
}

// FromPayload builds the stored row, promoting the tag line and primary
// description out of the extra attributes.
func FromPayload(companyID int64, p ContractorPayload, now time.Time) Contractor {
	tagLine, description, rest := PromoteExtraAttributes(p.ExtraAttributes)
	labels := make([]string, 0, len(p.Labels))
	seen := make(map[string]struct{}, len(p.Labels))
	for _, l := range p.Labels {
		if _, ok := seen[l.MachineName]; ok {
			continue
		}
		seen[l.MachineName] = struct{}{}
		labels = append(labels, l.MachineName)
	}
	lastUpdated := p.LastUpdated
	if lastUpdated.IsZero() {
		lastUpdated = now
	}
	return Contractor{
		ID:                 p.ID,
		CompanyID:          companyID,
		FirstName:          p.FirstName,
		LastName:           p.LastName,
		Town:               p.Town,
		Country:            p.Country,
		Location:           p.Location,
		ExtraAttributes:    rest,
		TagLine:            tagLine,
		PrimaryDescription: description,
		Labels:             labels,
		ReviewRating:       p.ReviewRating,
		ReviewDuration:     p.ReviewDuration,
		LastUpdated:        lastUpdated,
	}
}

// PromoteExtraAttributes extracts the tag line and primary description. Each
// is found by exact machine name first, else by the lowest sort index among
// attributes of the expected type. Extracted attributes are removed from the
// returned list; the description lookup runs on the already reduced list.
func PromoteExtraAttributes(attrs []ExtraAttribute) (tagLine, description string, rest []ExtraAttribute) {
	rest = append([]ExtraAttribute(nil), attrs...)
	var (
		idx int
		ok  bool
	)
	if idx, ok = findSpecial(rest, AttrTagLine, AttrTypeTextShort); ok {
		tagLine = attrText(rest[idx].Value)
		rest = append(rest[:idx], rest[idx+1:]...)
	}
	if idx, ok = findSpecial(rest, AttrPrimaryDescription, AttrTypeTextExtended); ok {
		description = attrText(rest[idx].Value)
		rest = append(rest[:idx], rest[idx+1:]...)
	}
	return tagLine, description, rest
}

func findSpecial(attrs []ExtraAttribute, machineName, attrType string) (int, bool) {
	for i, a := range attrs {
		if a.MachineName == machineName {
			return i, true
		}
	}
	best := -1
	for i, a := range attrs {
		if a.Type != attrType {
			continue
		}
		if best < 0 || a.SortIndex < attrs[best].SortIndex {
			best = i
		}
	}
	return best, best >= 0
}

func attrText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// ContractorFilter narrows public contractor listings.
type ContractorFilter struct {
	SubjectID   *int64
	QualLevelID *int64
	Label       string
	Near        *Location
	MaxDistance float64
	Page        int
	PageSize    int
}

// ContractorSummary is one row of a public listing.
type ContractorSummary struct {
	ID                 int64
	FirstName          string
	LastName           string
	TagLine            string
	PrimaryDescription string
	Town               string
	Country            string
	PhotoHash          string
	ReviewRating       *float64
	ReviewDuration     int
	Labels             []string
	Distance           *float64
}

// SkillGroup lists a contractor's qualification levels for one subject.
type SkillGroup struct {
	Subject    string   `json:"subject"`
	Category   string   `json:"category"`
	QualLevels []string `json:"qual_levels"`
}

// ContractorDetail is the public single-contractor view.
type ContractorDetail struct {
	Contractor
	Skills []SkillGroup
}

// SubjectCount is a facet row for the subjects listing.
type SubjectCount struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Contractors int64  `json:"contractor_count"`
}

// QualLevelCount is a facet row for the qualification level listing.
type QualLevelCount struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Ranking     float64 `json:"ranking"`
	Contractors int64   `json:"contractor_count"`
}
