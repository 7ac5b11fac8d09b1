package logging

import (
	"context"
)

// Log is a single record as the Datadog intake expects it.
type Log struct {
	Message string `json:"message"`
	Tags    string `json:"ddtags,omitempty"`
	Source  string `json:"ddsource"`
	Host    string `json:"host"`
	Service string `json:"service"`
	Level   string `json:"level"`
	TraceID string `json:"dd.trace_id"`
	SpanID  string `json:"dd.span_id"`
}

// Sender ships a batch synchronously. It may block the calling goroutine.
type Sender interface {
	Send(batch []Log) error
}

// AsyncSender ships a batch and gives up as soon as ctx is done.
type AsyncSender interface {
	SendAsync(ctx context.Context, batch []Log) error
}
