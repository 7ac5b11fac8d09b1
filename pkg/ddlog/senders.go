package ddlog

import (
	"github.com/Chichichkin/ddlogs/internal/logging/datadog"
)

// Datadog intake clients. Both implement Sender and AsyncSender.
type (
	HTTPSender  = datadog.HTTPSender
	HTTPOption  = datadog.HTTPOption
	TCPSender   = datadog.TCPSender
	TCPOption   = datadog.TCPOption
	StatusError = datadog.StatusError
)

var ErrInvalidEndpoint = datadog.ErrInvalidEndpoint

var (
	NewHTTPSender  = datadog.NewHTTPSender
	WithHTTPClient = datadog.WithHTTPClient
	WithMaxRetries = datadog.WithMaxRetries
	WithBackoff    = datadog.WithBackoff
	WithGzip       = datadog.WithGzip

	NewTCPSender     = datadog.NewTCPSender
	WithoutTLS       = datadog.WithoutTLS
	WithTLSConfig    = datadog.WithTLSConfig
	WithWriteTimeout = datadog.WithWriteTimeout
)
