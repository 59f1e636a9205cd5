package validation

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Struct validates the `validate:` tags of a request payload.
func Struct(s any) error {
	return validate.Struct(s)
}

// Describe flattens validation errors into a field -> failed-tag map suitable
// for an error response body.
func Describe(err error) map[string]string {
	details := make(map[string]string)
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		details["request"] = err.Error()
		return details
	}
	for _, fe := range verrs {
		details[fe.Field()] = fmt.Sprintf("failed on %q", fe.Tag())
	}
	return details
}
