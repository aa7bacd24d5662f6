// Package validation checks decoded request bodies with struct tags and
// reports failures as validation_failed domain errors.
//
// Besides the stock rules it registers:
//
//	notblank   string is not empty after trimming
//	fieldname  1-64 chars of letters, digits, '_', '-' or '.'
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	dErrors "leadgate/pkg/domain-errors"
	s "leadgate/pkg/string"
)

// maxReported bounds how many field problems one error message lists.
const maxReported = 3

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

var defaultValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation("fieldname", func(fl validator.FieldLevel) bool {
		return fieldNamePattern.MatchString(fl.Field().String())
	})
	return v
}

// Validate checks req against its tags.
func Validate(req any) error {
	if err := defaultValidator.Struct(req); err != nil {
		return dErrors.New(dErrors.CodeValidation, ErrorMessage(err))
	}
	return nil
}

// ErrorMessage renders up to maxReported field problems, joined by "; ".
func ErrorMessage(err error) string {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) || len(validationErrs) == 0 {
		return "invalid request body"
	}
	msgs := make([]string, 0, maxReported)
	for _, fe := range validationErrs {
		if len(msgs) == maxReported {
			break
		}
		msgs = append(msgs, fieldMessage(fe))
	}
	return strings.Join(msgs, "; ")
}

func fieldMessage(fe validator.FieldError) string {
	field := fieldLabel(fe)
	switch fe.ActualTag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "notblank":
		return field + " must not be blank"
	case "fieldname":
		return field + " must be 1-64 letters, digits, '_', '-' or '.'"
	default:
		if field == "" {
			return "invalid request body"
		}
		return field + " is invalid"
	}
}

// fieldLabel snake-cases the struct field and keeps any map key or index
// suffix verbatim, e.g. "fields[Email]".
func fieldLabel(fe validator.FieldError) string {
	name := fe.Field()
	if name == "" {
		name = fe.StructField()
	}
	base, suffix, found := strings.Cut(name, "[")
	if !found {
		return s.ToSnakeCase(name)
	}
	return s.ToSnakeCase(base) + "[" + suffix
}
