package store

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/JakeFAU/contractor-socket/internal/apperrors"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared payload validator. Field errors are keyed by
// JSON name.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// ValidatePayload checks v against its struct tags and returns a
// ValidationFailed error keyed by field path.
func ValidatePayload(v any) error {
	err := Validator().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.Wrap(err, apperrors.KindValidationFailed, "invalid request data")
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fieldPath(fe.Namespace())] = describe(fe)
	}
	return apperrors.Validation(fields)
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field required"
	case "max":
		return "ensure this value has at most " + fe.Param() + " characters"
	case "min":
		return "ensure this value has at least " + fe.Param() + " characters"
	case "url":
		return "invalid or missing URL scheme"
	case "email":
		return "value is not a valid email address"
	case "oneof":
		return "value must be one of: " + fe.Param()
	case "gt", "gte", "lt", "lte", "gtefield":
		return "value is out of range"
	default:
		return "invalid value"
	}
}
