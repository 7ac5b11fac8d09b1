// Package datadog delivers batches to the Datadog logs intake over HTTP or
// TCP. Both senders satisfy logging.Sender and logging.AsyncSender.
package datadog

import (
	"errors"
	"fmt"
)

var ErrInvalidEndpoint = errors.New("invalid datadog endpoint")

// StatusError is a non-2xx answer from the intake.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("datadog returned status %d: %s", e.Code, e.Body)
}
