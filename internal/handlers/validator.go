package handlers

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"lankatrips/internal/models"
)

// RequestValidator wraps go-playground/validator and reports the first
// failing field under its JSON name.
type RequestValidator struct {
	validator *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &RequestValidator{validator: v}
}

// Validate validates a struct using its validate tags.
func (v *RequestValidator) Validate(i interface{}) error {
	if err := v.validator.Struct(i); err != nil {
		validationErrors, ok := err.(validator.ValidationErrors)
		if ok && len(validationErrors) > 0 {
			fe := validationErrors[0]
			field := strings.SplitN(fe.Namespace(), ".", 2)
			name := fe.Field()
			if len(field) == 2 {
				name = field[1]
			}
			return models.NewValidationError(name, "%s", describe(name, fe))
		}
		return models.NewValidationError("body", "invalid request: %v", err)
	}
	return nil
}

func describe(name string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", name)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", name, fe.Param())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", name, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", name, fe.Param())
	case "gtfield":
		return fmt.Sprintf("%s must be after %s", name, fe.Param())
	default:
		return fmt.Sprintf("%s failed on '%s' validation", name, fe.Tag())
	}
}
