// Package validation turns untrusted client payloads into typed, normalized
// values. Every inbound action passes through here before it reaches the
// room session core.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/ponyo877/lobby/server/domain"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once

	roomNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{2,24}$`)
)

// FieldError is a single rejected field. It never carries the raw value.
type FieldError struct {
	field   string
	tag     string
	param   string
	message string
}

func (e FieldError) Field() string { return e.field }
func (e FieldError) Tag() string   { return e.tag }
func (e FieldError) Param() string { return e.param }

func (e FieldError) Error() string {
	return e.message
}

// RequestValidationError collects every field that failed for one payload.
type RequestValidationError struct {
	errors []FieldError
}

func (ve *RequestValidationError) Errors() []FieldError {
	return ve.errors
}

func (ve *RequestValidationError) Fields() []string {
	fields := make([]string, 0, len(ve.errors))
	for _, e := range ve.errors {
		fields = append(fields, e.field)
	}
	return fields
}

func (ve *RequestValidationError) Error() string {
	if len(ve.errors) == 0 {
		return "validation failed"
	}
	messages := make([]string, 0, len(ve.errors))
	for _, e := range ve.errors {
		messages = append(messages, e.Error())
	}
	return strings.Join(messages, "; ")
}

// DomainError converts the collected failures into the error kind the
// session layer reports back to the acting client.
func (ve *RequestValidationError) DomainError() *domain.Error {
	return domain.ValidationFailed(ve.Error(), ve.Fields()...)
}

func newFieldError(field, tag, message string) *RequestValidationError {
	return &RequestValidationError{errors: []FieldError{{field: field, tag: tag, message: message}}}
}

// GetValidator returns the shared validator with the chat specific tags
// registered. Field names in errors are taken from json tags.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
		_ = validate.RegisterValidation("roomname", func(fl validator.FieldLevel) bool {
			return roomNamePattern.MatchString(fl.Field().String())
		})
		_ = validate.RegisterValidation("username", func(fl validator.FieldLevel) bool {
			return usernamePattern.MatchString(fl.Field().String())
		})
	})
	return validate
}

// ValidateStruct runs the struct tags of s and returns nil when all pass.
func ValidateStruct(s any) *RequestValidationError {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return newFieldError("payload", "invalid", err.Error())
	}

	fieldErrors := make([]FieldError, len(validationErrs))
	for i, fe := range validationErrs {
		fieldErrors[i] = FieldError{
			field:   fe.Field(),
			tag:     fe.Tag(),
			param:   fe.Param(),
			message: translateError(fe),
		}
	}
	return &RequestValidationError{errors: fieldErrors}
}

var errorMessageTemplates = map[string]string{
	"required": "%s is required",
	"roomname": "%s must be 1-64 characters of letters, digits, '_' or '-'",
	"username": "%s must be 2-24 characters of letters, digits, '_', '.' or '-'",
}

var errorMessageWithParam = map[string]string{
	"oneof": "%s must be one of: %s",
	"gt":    "%s must be greater than %s",
	"gte":   "%s must be greater than or equal to %s",
	"lte":   "%s must be less than or equal to %s",
}

func translateError(fe validator.FieldError) string {
	field, tag, param := fe.Field(), fe.Tag(), fe.Param()

	if template, ok := errorMessageTemplates[tag]; ok {
		return fmt.Sprintf(template, field)
	}
	if template, ok := errorMessageWithParam[tag]; ok {
		return fmt.Sprintf(template, field, param)
	}

	isString := fe.Kind() == reflect.String
	switch tag {
	case "min":
		if isString {
			return fmt.Sprintf("%s must be at least %s characters", field, param)
		}
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		if isString {
			return fmt.Sprintf("%s must be at most %s characters", field, param)
		}
		return fmt.Sprintf("%s must be at most %s", field, param)
	default:
		return fmt.Sprintf("%s failed %s validation", field, tag)
	}
}
