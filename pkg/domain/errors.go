package domain

import (
	"context"
	"errors"
)

// Common domain errors
var (
	ErrEndpointNotFound = errors.New("endpoint not found")
	ErrConfigInvalid    = errors.New("invalid configuration")
	ErrNoDestinations   = errors.New("endpoint has no destination urls")
	ErrNotImplemented   = errors.New("forwarding variant not implemented")
	ErrDeliveryFailed   = errors.New("delivery failed")
	ErrRenderFailed     = errors.New("render failed")
	ErrConfigLoad       = errors.New("config load failed")
)

// ErrorKind classifies errors for callers that map them to responses.
type ErrorKind string

const (
	KindNone          ErrorKind = ""
	KindNotFound      ErrorKind = "not_found"
	KindConfiguration ErrorKind = "configuration"
	KindTransport     ErrorKind = "transport"
	KindRender        ErrorKind = "render"
	KindConfigLoad    ErrorKind = "config_load"
	KindInternal      ErrorKind = "internal"
)

// Kind reports the taxonomy kind of err.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrEndpointNotFound):
		return KindNotFound
	case errors.Is(err, ErrConfigInvalid), errors.Is(err, ErrNoDestinations), errors.Is(err, ErrNotImplemented):
		return KindConfiguration
	case errors.Is(err, ErrDeliveryFailed), errors.Is(err, context.DeadlineExceeded):
		return KindTransport
	case errors.Is(err, ErrRenderFailed):
		return KindRender
	case errors.Is(err, ErrConfigLoad):
		return KindConfigLoad
	default:
		return KindInternal
	}
}

// ErrorResponse defines the JSON error model returned by the admin API.
type ErrorResponse struct {
	Code    string `json:"code"`    // Machine-readable error code (e.g. RELOAD_FAILED)
	Message string `json:"message"` // Human-readable message (safe for logs)
}
