// Package form backs the create and edit event forms: client-side
// validation, the submission guard and idempotency keys.
package form

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/baechuer/real-time-ressys/services/event-client/internal/domain"
	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	// report json names so client errors line up with server errors
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = validate.RegisterValidation("category", validateCategory)
}

// validateCategory accepts only the lowercase category names.
func validateCategory(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	for _, c := range domain.Categories {
		if string(c) == s {
			return true
		}
	}
	return false
}

// NewInput is the blank create form.
func NewInput(now time.Time) domain.EventInput {
	return domain.EventInput{
		Category:  string(domain.CategoryConference),
		Date:      now,
		ImagesURL: []string{},
	}
}

// Normalize trims text fields and lowercases the category.
func Normalize(in domain.EventInput) domain.EventInput {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.Location = strings.TrimSpace(in.Location)
	in.Category = strings.ToLower(strings.TrimSpace(in.Category))
	in.CoverURL = strings.TrimSpace(in.CoverURL)
	if in.ImagesURL == nil {
		in.ImagesURL = []string{}
	}
	return in
}

// Validate checks in and returns a validation error carrying one FieldError
// per failed rule.
func Validate(in domain.EventInput) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return domain.Wrap(domain.KindInternal, "validation_setup", "could not validate form", err)
	}
	fields := make([]domain.FieldError, 0, len(ves))
	for _, fe := range ves {
		fields = append(fields, domain.FieldError{Field: fe.Field(), Message: formatFieldError(fe)})
	}
	return domain.ErrValidationFields("Validation failed", fields)
}

func formatFieldError(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "max":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must contain at most %s items", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "category":
		names := make([]string, len(domain.Categories))
		for i, c := range domain.Categories {
			names[i] = string(c)
		}
		return fmt.Sprintf("%s must be one of: %s", field, strings.Join(names, ", "))
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
