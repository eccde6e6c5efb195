package fetcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/platinummonkey/traffic-stats/pkg/traffic"
)

var (
	// ErrTransport marks a fetch that failed below HTTP after all retries
	ErrTransport = errors.New("transport failure")

	// ErrMalformedPayload marks a response that could not be turned into a valid payload
	ErrMalformedPayload = errors.New("malformed payload")
)

// StatusError is a non-2xx response from the traffic API
type StatusError struct {
	Repository string
	Metric     traffic.Metric
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Repository, e.Metric, e.StatusCode, msg)
}

// NotFound reports whether the endpoint answered 404
func (e *StatusError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// transportError wraps a network level failure while it is being retried
type transportError struct {
	err error
}

func (e *transportError) Error() string {
	return e.err.Error()
}

func (e *transportError) Unwrap() error {
	return e.err
}

// isMalformed reports whether err came from decoding the response body
func isMalformed(err error) bool {
	if errors.Is(err, ErrMalformedPayload) {
		return true
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

// retryable decides whether a classified fetch error may be retried
func retryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return !statusErr.NotFound()
	}
	var tErr *transportError
	if errors.As(err, &tErr) {
		return true
	}
	return false
}
