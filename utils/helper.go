package utils

import (
	"time"

	"github.com/shopspring/decimal"
)

const DefaultTimezone = "Asia/Yangon"

// ConvertToDate truncates t to midnight in the given timezone.
func ConvertToDate(t time.Time, timezone string) (time.Time, error) {
	if timezone == "" {
		timezone = DefaultTimezone
	}
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return t, err
	}
	localTime := t.In(location)
	dateOnly := time.Date(localTime.Year(), localTime.Month(), localTime.Day(), 0, 0, 0, 0, location)
	return dateOnly, nil
}

// SameLocalDay reports whether a and b fall on the same calendar day in the
// given timezone. Used to decide whether a session is "today's".
func SameLocalDay(a, b time.Time, timezone string) bool {
	da, err := ConvertToDate(a, timezone)
	if err != nil {
		return false
	}
	db, err := ConvertToDate(b, timezone)
	if err != nil {
		return false
	}
	return da.Equal(db)
}

// ParseDecimal converts a string to a decimal.Decimal value.
func ParseDecimal(value string) (decimal.Decimal, error) {
	return decimal.NewFromString(value)
}

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

func DereferencePtr[T any](ptr *T, defaults ...T) T {
	var defaultValue T
	if len(defaults) > 0 {
		defaultValue = defaults[0]
	}
	if ptr == nil {
		return defaultValue
	}
	return *ptr
}
