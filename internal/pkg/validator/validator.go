package validator

import (
	"errors"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()

	// Use JSON tag names in error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	registerCustomValidations()
}

func registerCustomValidations() {
	// Unix timestamp in seconds, strictly positive
	validate.RegisterValidation("unix_ts", func(fl validator.FieldLevel) bool {
		ts, err := strconv.ParseInt(strings.TrimSpace(fl.Field().String()), 10, 64)
		return err == nil && ts > 0
	})

	// Identifier made of letters, digits, dash and underscore
	validate.RegisterValidation("ident", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "" || len(s) > 128 {
			return false
		}
		for _, r := range s {
			if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
				return false
			}
		}
		return true
	})
}

// Validate validates a struct and returns a map of field errors
func Validate(s interface{}) map[string]string {
	failed := FailedTags(s)
	if failed == nil {
		return nil
	}

	errs := make(map[string]string, len(failed))
	for field, tag := range failed {
		switch tag {
		case "required":
			errs[field] = "This field is required"
		case "oneof":
			errs[field] = "Value is not allowed"
		case "unix_ts":
			errs[field] = "Invalid unix timestamp"
		case "ident":
			errs[field] = "Invalid identifier"
		case "url":
			errs[field] = "Invalid URL format"
		default:
			errs[field] = "Invalid value"
		}
	}
	return errs
}

// FailedTags returns the first failing tag per field, keyed by JSON field name.
func FailedTags(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"": err.Error()}
	}

	failed := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		if _, seen := failed[fe.Field()]; !seen {
			failed[fe.Field()] = fe.Tag()
		}
	}
	return failed
}
