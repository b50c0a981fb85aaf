package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	cierrors "certinv/internal/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Struct validates v against its `validate` tags. The first failing field is
// returned as a *errors.ValidationError keyed by its JSON name.
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if errors.As(err, &fieldErrors) && len(fieldErrors) > 0 {
		first := fieldErrors[0]
		return cierrors.NewValidationError(first.Field(), describe(first))
	}
	return fmt.Errorf("%w: %v", cierrors.ErrValidation, err)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "uuid":
		return fmt.Sprintf("%s must be a valid UUID", fe.Field())
	case "min":
		return fmt.Sprintf("%s must not be empty", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// DecodeJSON reads a JSON body into v and validates it.
func DecodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", cierrors.ErrValidation, err)
	}
	return Struct(v)
}

func RequireID(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return "", cierrors.NewValidationError("id", "missing required ID")
	}
	return trimmed, nil
}

func ValidateAddress(address string) error {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return cierrors.ErrInvalidAddress
	}
	parsed, err := url.ParseRequestURI(trimmed)
	if err != nil || parsed.Host == "" {
		return cierrors.ErrInvalidAddress
	}
	return nil
}

func ValidateDatabaseURL(databaseURL string) error {
	trimmed := strings.TrimSpace(databaseURL)
	if trimmed == "" {
		return cierrors.ErrInvalidDatabaseURL
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return cierrors.ErrInvalidDatabaseURL
	}
	switch parsed.Scheme {
	case "postgres", "postgresql":
		return nil
	default:
		return cierrors.ErrInvalidDatabaseURL
	}
}

func ValidateExpirationThreshold(value int) error {
	if value < 0 || value > 365 {
		return cierrors.ErrInvalidThreshold
	}
	return nil
}
