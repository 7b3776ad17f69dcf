// Package errors provides the typed error used across the site server.
//
// Errors carry a category and a short machine-readable code so callers can
// branch on the kind of failure (a broken rebuild, a rejected webhook, bad
// configuration) without string matching. Wire-level protocol failures never
// reach this package: the HTTP engine answers them with fixed byte constants.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeAuth   ErrorType = "auth"
	ErrorTypeBuild  ErrorType = "build"
	ErrorTypeUpdate ErrorType = "update"
	ErrorTypeConfig ErrorType = "config"
	ErrorTypeIO     ErrorType = "io"
)

// SiteError is a structured error type with context.
type SiteError struct {
	Type      ErrorType
	Code      string
	Message   string
	Cause     error
	Component string
	URL       string
	Path      string
}

// Error implements the error interface.
func (e *SiteError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Component != "" {
		parts = append(parts, "component:"+e.Component)
	}

	if e.URL != "" {
		parts = append(parts, "url:"+e.URL)
	}

	if e.Path != "" {
		parts = append(parts, e.Path)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *SiteError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *SiteError) Is(target error) bool {
	var t *SiteError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithURL attaches the route URL the error concerns.
func (e *SiteError) WithURL(url string) *SiteError {
	e.URL = url

	return e
}

// WithPath attaches the filesystem path the error concerns.
func (e *SiteError) WithPath(path string) *SiteError {
	e.Path = path

	return e
}

// WithComponent adds component context.
func (e *SiteError) WithComponent(component string) *SiteError {
	e.Component = component

	return e
}

// NewBuildError creates a build error.
func NewBuildError(code, message string, cause error) *SiteError {
	return &SiteError{
		Type:    ErrorTypeBuild,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewAuthError creates an authentication error.
func NewAuthError(code, message string) *SiteError {
	return &SiteError{
		Type:    ErrorTypeAuth,
		Code:    code,
		Message: message,
	}
}

// NewUpdateError creates a self-update error.
func NewUpdateError(code, message string, cause error) *SiteError {
	return &SiteError{
		Type:    ErrorTypeUpdate,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *SiteError {
	return &SiteError{
		Type:    ErrorTypeConfig,
		Code:    code,
		Message: message,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *SiteError {
	return &SiteError{
		Type:    ErrorTypeIO,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// IsBuildError checks if an error is build-related.
func IsBuildError(err error) bool {
	return hasType(err, ErrorTypeBuild)
}

// IsAuthError checks if an error is authentication-related.
func IsAuthError(err error) bool {
	return hasType(err, ErrorTypeAuth)
}

// IsConfigError checks if an error is configuration-related.
func IsConfigError(err error) bool {
	return hasType(err, ErrorTypeConfig)
}

func hasType(err error, typ ErrorType) bool {
	var se *SiteError
	if errors.As(err, &se) {
		return se.Type == typ
	}

	return false
}

// Common error codes.
const (
	CodeCompress       = "COMPRESS"
	CodeDuplicateURL   = "DUPLICATE_URL"
	CodeBuildCommand   = "BUILD_COMMAND"
	CodeManifest       = "MANIFEST"
	CodeReadContent    = "READ_CONTENT"
	CodeMissingSig     = "MISSING_SIGNATURE"
	CodeBadSig         = "BAD_SIGNATURE"
	CodeSigMismatch    = "SIGNATURE_MISMATCH"
	CodeDisabled       = "DISABLED"
	CodeSecretFile     = "SECRET_FILE"
	CodePullFailed     = "PULL_FAILED"
	CodeCompileFailed  = "COMPILE_FAILED"
	CodeInvalidSetting = "INVALID_SETTING"
)

// Webhook verification outcomes. Compare with errors.Is.
var (
	ErrUpdateDisabled     = NewAuthError(CodeDisabled, "self-update is disabled")
	ErrMissingSignature   = NewAuthError(CodeMissingSig, "signature header missing")
	ErrMalformedSignature = NewAuthError(CodeBadSig, "signature header is malformed")
	ErrSignatureMismatch  = NewAuthError(CodeSigMismatch, "signature does not match body")
)
