package coreapi

import "fmt"

// ValidationError reports caller input that can never succeed against the
// gateway: a malformed phone number, a non-positive amount, missing
// credentials. It is surfaced immediately and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// AuthError reports a failure to obtain an access token from the gateway's
// OAuth endpoint.
type AuthError struct {
	Cause error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("could not authorise against gateway: %v", e.Cause)
}

func (e *AuthError) Unwrap() error {
	return e.Cause
}

// GatewayError reports a non-2xx or malformed reply from a payment endpoint.
// Code and Message carry the gateway's own error body when it sent one.
type GatewayError struct {
	StatusCode int
	Code       string
	Message    string
	Cause      error
}

func (e *GatewayError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway error %s: %s", e.Code, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("gateway request failed: %v", e.Cause)
	}
	return fmt.Sprintf("gateway request failed with status %d", e.StatusCode)
}

func (e *GatewayError) Unwrap() error {
	return e.Cause
}
