package utils

import (
	"errors"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jinzhu/now"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// GetValidator returns the shared validator instance (validator caches struct metadata).
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// report json names ("reference_id") instead of Go field names
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// ValidateStruct runs the struct tags of v.
func ValidateStruct(v any) error {
	return GetValidator().Struct(v)
}

// FirstValidationError returns the first failing field and tag of a validator error.
func FirstValidationError(err error) (field string, tag string, ok bool) {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) || len(validationErrors) == 0 {
		return "", "", false
	}
	return validationErrors[0].Field(), validationErrors[0].Tag(), true
}

// DayRange widens [from, to] to whole days: from at 00:00:00, to at 23:59:59.999999999.
// Zero times stay zero (open bound).
func DayRange(from, to time.Time) (time.Time, time.Time) {
	if !from.IsZero() {
		from = now.With(from).BeginningOfDay()
	}
	if !to.IsZero() {
		to = now.With(to).EndOfDay()
	}
	return from, to
}

// ParseDate accepts YYYY-MM-DD or RFC3339.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
