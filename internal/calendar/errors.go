package calendar

import "fmt"

// ConfigurationError signals caller misuse: an invalid work-hour string, a
// non-positive slot interval, a week-start day outside Sunday..Saturday.
// These are integration bugs and are raised synchronously; they are never
// swallowed the way per-record parse failures are.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("calendar: invalid %s: %s", e.Field, e.Reason)
}

func configErr(field, format string, args ...any) error {
	return &ConfigurationError{
		Field:  field,
		Reason: fmt.Sprintf(format, args...),
	}
}
