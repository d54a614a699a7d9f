// Package validation checks API request documents.
//
// Request types declare their constraints with go-playground/validator
// struct tags. Besides the built-in tags the validator understands:
//   - subdomain: a DNS label, or "@" for the apex
//   - basepath: a URL path prefix such as /api
//   - buildtype: buildpack, compose or static
//
// Field names in errors are the JSON names of the fields.
//
// # Usage Example
//
//	v := validation.New()
//	var req CheckRequest
//	result := v.ValidateDocument(body, &req)
//	if !result.Valid {
//	    for _, e := range result.Errors {
//	        fmt.Printf("%s: %s\n", e.Field, e.Message)
//	    }
//	}
package validation

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"evalgo.org/deployer/internal/routing"
	"evalgo.org/deployer/models"
)

// Validator validates request documents against their struct tags.
type Validator struct {
	// structValidator validates Go struct constraints and tags
	structValidator *validator.Validate
}

// ValidationError represents a single validation error with field-level details.
type ValidationError struct {
	// Field is the JSON path of the field that failed validation
	Field string `json:"field"`

	// Message describes why the validation failed
	Message string `json:"message"`

	// Value is the invalid value that caused the error (optional)
	Value interface{} `json:"value,omitempty"`
}

// ValidationResult represents the complete result of a validation operation.
type ValidationResult struct {
	// Valid is true if validation passed, false otherwise
	Valid bool `json:"valid"`

	// Errors contains all validation errors found (empty if Valid is true)
	Errors []ValidationError `json:"errors,omitempty"`
}

// Fields maps each failing field to its message.
func (r *ValidationResult) Fields() map[string]string {
	out := make(map[string]string, len(r.Errors))
	for _, e := range r.Errors {
		out[e.Field] = e.Message
	}
	return out
}

// InvalidError is returned by Validate when a document fails validation.
type InvalidError struct {
	Result *ValidationResult
}

func (e *InvalidError) Error() string {
	parts := make([]string, 0, len(e.Result.Errors))
	for _, fe := range e.Result.Errors {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// New creates a Validator with the deployer's custom tags registered.
func New() *Validator {
	sv := validator.New(validator.WithRequiredStructEnabled())

	sv.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})

	// registration only fails for empty tags or nil functions
	_ = sv.RegisterValidation("subdomain", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s == "@" || routing.ValidateSubdomain(s) == nil
	})
	_ = sv.RegisterValidation("basepath", func(fl validator.FieldLevel) bool {
		return routing.ValidateBasePath(fl.Field().String()) == nil
	})
	_ = sv.RegisterValidation("buildtype", func(fl validator.FieldLevel) bool {
		switch models.BuildType(fl.Field().String()) {
		case models.BuildTypeBuildpack, models.BuildTypeCompose, models.BuildTypeStatic:
			return true
		}
		return false
	})

	return &Validator{structValidator: sv}
}

// Validate implements echo.Validator. It returns *InvalidError when s
// violates its constraints.
func (v *Validator) Validate(s interface{}) error {
	result := v.ValidateStruct(s)
	if !result.Valid {
		return &InvalidError{Result: result}
	}
	return nil
}

// ValidateStruct checks s against its struct tags.
func (v *Validator) ValidateStruct(s interface{}) *ValidationResult {
	err := v.structValidator.Struct(s)
	if err == nil {
		return &ValidationResult{Valid: true}
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return &ValidationResult{
			Errors: []ValidationError{{Field: "document", Message: err.Error()}},
		}
	}

	result := &ValidationResult{}
	for _, fe := range fieldErrs {
		result.Errors = append(result.Errors, ValidationError{
			Field:   fieldPath(fe),
			Message: message(fe),
			Value:   fe.Value(),
		})
	}
	return result
}

// ValidateDocument decodes data into dest and validates it. Malformed JSON
// is reported as an error on the "document" field.
func (v *Validator) ValidateDocument(data []byte, dest interface{}) *ValidationResult {
	if err := json.Unmarshal(data, dest); err != nil {
		return &ValidationResult{
			Errors: []ValidationError{{
				Field:   "document",
				Message: fmt.Sprintf("Invalid JSON: %v", err),
			}},
		}
	}
	return v.ValidateStruct(dest)
}

// fieldPath drops the root struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "subdomain":
		if err := routing.ValidateSubdomain(fmt.Sprint(fe.Value())); err != nil {
			return strings.TrimPrefix(err.Error(), routing.ErrInvalidInput.Error()+": ")
		}
		return "invalid subdomain"
	case "basepath":
		if err := routing.ValidateBasePath(fmt.Sprint(fe.Value())); err != nil {
			return strings.TrimPrefix(err.Error(), routing.ErrInvalidInput.Error()+": ")
		}
		return "invalid base path"
	case "buildtype":
		return "must be one of: buildpack, compose, static"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "hostname_rfc1123", "fqdn":
		return "must be a valid host name"
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
