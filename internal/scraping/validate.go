package scraping

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}

// describeValidation turns the first validator failure into a caller-facing message.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return field + " must contain at least one URL"
	case "http_url":
		return field + " must be an absolute http(s) URL"
	case "gt":
		return field + " must be a positive integer"
	}
	return field + " is invalid"
}
