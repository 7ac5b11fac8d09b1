package datadog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chichichkin/ddlogs/internal/logging"
)

func testBatch() []logging.Log {
	return []logging.Log{
		{Message: "first", Source: "go", Host: "h", Service: "svc", Level: "info"},
		{Message: "second", Source: "go", Host: "h", Service: "svc", Level: "error", Tags: "env:test"},
	}
}

func TestHTTPSender_Send(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v2/logs", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("DD-API-KEY"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var got []map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Len(t, got, 2)
		if len(got) == 2 {
			assert.Equal(t, "first", got[0]["message"])
			assert.Equal(t, "env:test", got[1]["ddtags"])
		}

		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sender, err := NewHTTPSender(server.URL, "secret")
	require.NoError(t, err)
	assert.NoError(t, sender.Send(testBatch()))
}

func TestHTTPSender_Gzip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "gzip", r.Header.Get("Content-Encoding"))
		zr, err := gzip.NewReader(r.Body)
		if !assert.NoError(t, err) {
			return
		}
		raw, err := io.ReadAll(zr)
		assert.NoError(t, err)
		assert.Contains(t, string(raw), `"message":"second"`)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sender, err := NewHTTPSender(server.URL+"/api/v2/logs", "k", WithGzip(true))
	require.NoError(t, err)
	assert.NoError(t, sender.Send(testBatch()))
}

func TestHTTPSender_Retry(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sender, err := NewHTTPSender(server.URL, "k", WithBackoff(time.Millisecond))
	require.NoError(t, err)
	assert.NoError(t, sender.Send(testBatch()))
	assert.EqualValues(t, 2, attempts.Load())
}

func TestHTTPSender_AllRetriesFail(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("bad key"))
	}))
	defer server.Close()

	sender, err := NewHTTPSender(server.URL, "k", WithMaxRetries(2), WithBackoff(time.Millisecond))
	require.NoError(t, err)

	err = sender.Send(testBatch())
	require.Error(t, err)
	assert.EqualValues(t, 2, attempts.Load())

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusForbidden, statusErr.Code)
	assert.Equal(t, "bad key", statusErr.Body)
}

func TestHTTPSender_CancelDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	sender, err := NewHTTPSender(server.URL, "k", WithBackoff(time.Hour))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = sender.SendAsync(ctx, testBatch())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestHTTPSender_EmptyBatchIsNoop(t *testing.T) {
	sender, err := NewHTTPSender("http://127.0.0.1:1", "k")
	require.NoError(t, err)
	assert.NoError(t, sender.Send(nil))
}

func TestNewHTTPSender_InvalidEndpoint(t *testing.T) {
	for _, endpoint := range []string{"://nope", "ftp://host/x", "http://"} {
		_, err := NewHTTPSender(endpoint, "k")
		assert.ErrorIs(t, err, ErrInvalidEndpoint, endpoint)
	}

	s, err := NewHTTPSender("", "k")
	require.NoError(t, err)
	assert.Equal(t, DefaultHTTPEndpoint+"/api/v2/logs", s.url)
}

func TestTCPSender_Frames(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	lines := make(chan string, 4)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		sc := bufio.NewScanner(conn)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	sender, err := NewTCPSender(ln.Addr().String(), "secret", WithoutTLS())
	require.NoError(t, err)
	defer sender.Close()

	require.NoError(t, sender.Send(testBatch()))

	for _, want := range []string{"first", "second"} {
		select {
		case line := <-lines:
			require.True(t, strings.HasPrefix(line, "secret "), line)
			var rec logging.Log
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "secret ")), &rec))
			assert.Equal(t, want, rec.Message)
		case <-time.After(2 * time.Second):
			t.Fatal("frame not received")
		}
	}
}

func TestTCPSender_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	sender, err := NewTCPSender(addr, "k", WithoutTLS(), WithWriteTimeout(200*time.Millisecond))
	require.NoError(t, err)
	assert.Error(t, sender.Send(testBatch()))
}

func TestNewTCPSender_InvalidAddress(t *testing.T) {
	_, err := NewTCPSender("no-port", "k")
	assert.ErrorIs(t, err, ErrInvalidEndpoint)
}

func TestNewTCPSender_RejectsURL(t *testing.T) {
	_, err := NewTCPSender(DefaultHTTPEndpoint, "k")
	assert.ErrorIs(t, err, ErrInvalidEndpoint)

	_, err = NewTCPSender("tcp://intake.logs.datadoghq.com:10516", "k")
	assert.ErrorIs(t, err, ErrInvalidEndpoint)

	s, err := NewTCPSender("", "k")
	require.NoError(t, err)
	assert.Equal(t, DefaultTCPAddress, s.addr)
}
