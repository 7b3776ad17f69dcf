package errors

import (
	"errors"

	"go.uber.org/multierr"
)

// Wrap wraps an error with a category and code, keeping the URL and path of
// a wrapped SiteError.
func Wrap(err error, errType ErrorType, code, message string) *SiteError {
	if err == nil {
		return nil
	}

	wrapped := &SiteError{
		Type:    errType,
		Code:    code,
		Message: message,
		Cause:   err,
	}

	var se *SiteError
	if errors.As(err, &se) {
		wrapped.Component = se.Component
		wrapped.URL = se.URL
		wrapped.Path = se.Path
	}
	return wrapped
}

// Flatten returns the individual errors of an aggregate built with
// multierr, or a single-element slice for any other error.
func Flatten(err error) []error {
	return multierr.Errors(err)
}
