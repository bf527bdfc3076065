package apiclient

import (
	"context"
	"errors"
	"net/http"

	"areahood/internal/models"
)

// Error is returned for every failed request.
type Error struct {
	// Status is the HTTP status, or 0 when no response was received.
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Code maps the failure onto the shared error taxonomy.
func (e *Error) Code() string {
	switch {
	case e.Status == 0:
		return models.CodeNetwork
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		return models.CodeUnauthorized
	case e.Status == http.StatusNotFound:
		return models.CodeNotFound
	case e.Status == http.StatusConflict:
		return models.CodeConflict
	case e.Status == http.StatusBadRequest || e.Status == http.StatusUnprocessableEntity:
		return models.CodeValidation
	default:
		return models.CodeInternal
	}
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// IsUnauthorized reports whether err is an authorization failure (401 or 403).
func IsUnauthorized(err error) bool {
	s := StatusOf(err)
	return s == http.StatusUnauthorized || s == http.StatusForbidden
}

// IsNotFound reports whether the server answered 404.
func IsNotFound(err error) bool {
	return StatusOf(err) == http.StatusNotFound
}

// IsCanceled reports whether the caller abandoned the request.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// messageKeys lists where servers put a human readable error, in order.
var messageKeys = []string{"message", "error", "msg", "detail"}

func serverMessage(body any) string {
	m, ok := body.(map[string]any)
	if !ok {
		return ""
	}
	for _, k := range messageKeys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]any:
			// {"error": {"message": "..."}}
			if s, ok := v["message"].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}
