package datadog

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/Chichichkin/ddlogs/internal/logging"
)

const DefaultTCPAddress = "intake.logs.datadoghq.com:10516"

// TCPSender writes one "<api key> <json>\n" frame per record over a single
// long lived connection. The connection is opened lazily and dropped after
// any write error so the next batch reconnects.
//
// A failed write is retried once on a fresh connection with the whole batch.
// Frames the old connection had already accepted are sent again, so a record
// may reach the intake twice.
type TCPSender struct {
	addr    string
	apiKey  string
	tlsConf *tls.Config
	timeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

type TCPOption func(*TCPSender)

// WithoutTLS is meant for local relays and tests.
func WithoutTLS() TCPOption {
	return func(s *TCPSender) { s.tlsConf = nil }
}

func WithTLSConfig(c *tls.Config) TCPOption {
	return func(s *TCPSender) { s.tlsConf = c }
}

func WithWriteTimeout(d time.Duration) TCPOption {
	return func(s *TCPSender) { s.timeout = d }
}

func NewTCPSender(addr, apiKey string, opts ...TCPOption) (*TCPSender, error) {
	if addr == "" {
		addr = DefaultTCPAddress
	}
	if strings.Contains(addr, "://") {
		return nil, fmt.Errorf("%w: %q is a URL, want host:port", ErrInvalidEndpoint, addr)
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}

	s := &TCPSender{
		addr:    addr,
		apiKey:  apiKey,
		tlsConf: &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12},
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *TCPSender) Send(batch []logging.Log) error {
	return s.SendAsync(context.Background(), batch)
}

func (s *TCPSender) SendAsync(ctx context.Context, batch []logging.Log) error {
	if len(batch) == 0 {
		return nil
	}
	frames, err := s.encode(batch)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// second attempt always runs on a fresh connection
	for attempt := 0; attempt < 2; attempt++ {
		if err = s.write(ctx, frames); err == nil {
			return nil
		}
		s.closeLocked()
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("failed to send batch of %d logs to %s: %w", len(batch), s.addr, err)
}

func (s *TCPSender) encode(batch []logging.Log) ([]byte, error) {
	var buf bytes.Buffer
	for _, rec := range batch {
		raw, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal log: %w", err)
		}
		buf.WriteString(s.apiKey)
		buf.WriteByte(' ')
		buf.Write(raw)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func (s *TCPSender) write(ctx context.Context, frames []byte) error {
	if s.conn == nil {
		conn, err := s.dial(ctx)
		if err != nil {
			return err
		}
		s.conn = conn
	}

	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}

	conn := s.conn
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetWriteDeadline(time.Now())
	})
	defer stop()

	_, err := s.conn.Write(frames)
	return err
}

func (s *TCPSender) dial(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: s.timeout}
	if s.tlsConf == nil {
		return dialer.DialContext(ctx, "tcp", s.addr)
	}
	td := &tls.Dialer{NetDialer: dialer, Config: s.tlsConf}
	return td.DialContext(ctx, "tcp", s.addr)
}

func (s *TCPSender) closeLocked() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

func (s *TCPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}
