// Package enquiry serves the tenant's dynamic enquiry form and validates and
// forwards submissions.
package enquiry

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/JakeFAU/contractor-socket/internal/apperrors"
	"github.com/JakeFAU/contractor-socket/internal/store"
)

// FieldType is the wire type tag of a form field.
type FieldType string

// Supported field types.
const (
	TypeString  FieldType = "string"
	TypeEmail   FieldType = "email"
	TypeInteger FieldType = "integer"
	TypeBoolean FieldType = "boolean"
	TypeDate    FieldType = "date"
	TypeChoice  FieldType = "choice"
)

// AttributesPrefix groups custom attribute fields in submissions.
const AttributesPrefix = "attributes"

const dateLayout = "2006-01-02"

// Choice is one option of a choice field.
type Choice struct {
	Value       any    `json:"value"`
	DisplayName string `json:"display_name"`
}

// Field describes one form input.
type Field struct {
	Name      string    `json:"field"`
	Type      FieldType `json:"type"`
	Required  bool      `json:"required"`
	Label     string    `json:"label"`
	MaxLength int       `json:"max_length,omitempty"`
	Choices   []Choice  `json:"choices,omitempty"`
	HelpText  string    `json:"help_text,omitempty"`
	// Prefix nests the field under an object in submissions, e.g. attributes.
	Prefix string `json:"prefix,omitempty"`
}

// Path is the error key for the field.
func (f Field) Path() string {
	if f.Prefix == "" {
		return f.Name
	}
	return f.Prefix + "." + f.Name
}

// Validate checks data against fields and returns only the recognised
// values, coerced to their types. Errors are keyed by field path. A field
// whose type is not understood always fails.
func Validate(fields []Field, data map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	errs := make(map[string]string)
	for _, f := range fields {
		raw, present := lookup(data, f)
		if !present || isBlank(raw) {
			if f.Required {
				errs[f.Path()] = "field required"
			}
			continue
		}
		v, msg := coerce(f, raw)
		if msg != "" {
			errs[f.Path()] = msg
			continue
		}
		assign(out, f, v)
	}
	if len(errs) > 0 {
		return nil, apperrors.Validation(errs)
	}
	return out, nil
}

func lookup(data map[string]any, f Field) (any, bool) {
	if f.Prefix == "" {
		v, ok := data[f.Name]
		return v, ok
	}
	nested, ok := data[f.Prefix].(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := nested[f.Name]
	return v, ok
}

func assign(out map[string]any, f Field, v any) {
	if f.Prefix == "" {
		out[f.Name] = v
		return
	}
	nested, ok := out[f.Prefix].(map[string]any)
	if !ok {
		nested = make(map[string]any)
		out[f.Prefix] = nested
	}
	nested[f.Name] = v
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	default:
		return false
	}
}

func coerce(f Field, raw any) (any, string) {
	switch f.Type {
	case TypeString:
		s, ok := raw.(string)
		if !ok {
			return nil, "not a valid string"
		}
		s = strings.TrimSpace(s)
		if f.MaxLength > 0 && utf8.RuneCountInString(s) > f.MaxLength {
			return nil, fmt.Sprintf("ensure this value has at most %d characters", f.MaxLength)
		}
		return s, ""
	case TypeEmail:
		s, ok := raw.(string)
		s = strings.TrimSpace(s)
		if !ok || store.Validator().Var(s, "email") != nil {
			return nil, "enter a valid email address"
		}
		if f.MaxLength > 0 && utf8.RuneCountInString(s) > f.MaxLength {
			return nil, fmt.Sprintf("ensure this value has at most %d characters", f.MaxLength)
		}
		return s, ""
	case TypeInteger:
		n, ok := toInt(raw)
		if !ok {
			return nil, "a valid integer is required"
		}
		return n, ""
	case TypeBoolean:
		b, ok := toBool(raw)
		if !ok {
			return nil, "must be a valid boolean"
		}
		return b, ""
	case TypeDate:
		s, ok := raw.(string)
		if !ok {
			return nil, "date has wrong format, use YYYY-MM-DD"
		}
		if _, err := time.Parse(dateLayout, strings.TrimSpace(s)); err != nil {
			return nil, "date has wrong format, use YYYY-MM-DD"
		}
		return strings.TrimSpace(s), ""
	case TypeChoice:
		for _, c := range f.Choices {
			if fmt.Sprint(c.Value) == fmt.Sprint(raw) {
				return c.Value, ""
			}
		}
		return nil, fmt.Sprintf("%q is not a valid choice", fmt.Sprint(raw))
	default:
		return nil, "unsupported field type"
	}
}

func toInt(raw any) (int64, bool) {
	switch t := raw.(type) {
	case float64:
		if t != math.Trunc(t) || t < math.MinInt64 || t >= math.MaxInt64 {
			return 0, false
		}
		return int64(t), true
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	case int:
		return int64(t), true
	case int64:
		return t, true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func toBool(raw any) (bool, bool) {
	switch t := raw.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return b, err == nil
	default:
		return false, false
	}
}
