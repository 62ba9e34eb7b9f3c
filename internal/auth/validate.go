package auth

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator instance for request validation
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	// Report errors under the json field names clients actually send
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// checkRequest validates a request DTO against its validate tags and
// returns field-keyed error details, or nil when the request is valid.
func checkRequest(req interface{}) map[string][]string {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return map[string][]string{"request": {"invalid request"}}
	}

	details := make(map[string][]string)
	for _, fe := range validationErrors {
		field := strings.ToLower(fe.Field())
		details[field] = append(details[field], validationMessage(fe))
	}
	return details
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must not exceed " + fe.Param() + " characters"
	case "len":
		return "must be exactly " + fe.Param() + " characters"
	case "alphanum":
		return "must contain only letters and numbers"
	case "numeric":
		return "must contain only digits"
	default:
		return "is invalid"
	}
}
