package loki

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Chichichkin/ddlogs/internal/logging"
)

func TestLokiSender_SendBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)

		assert.Equal(t, "/loki/api/v1/push", r.URL.Path)

		var payload Payload
		err := json.NewDecoder(r.Body).Decode(&payload)
		assert.NoError(t, err)

		assert.Equal(t, 1, len(payload.Streams))

		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sender := NewLokiSender(server.URL, 3)

	entries := []logging.Log{
		{
			Message: "test message 1",
			Source:  "go",
			Service: "api",
			Level:   "info",
		},
	}

	err := sender.Send(entries)
	assert.NoError(t, err)
}

func TestLokiSender_SendBatch_Retry(t *testing.T) {
	retryCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		retryCount++
		if retryCount < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sender := NewLokiSender(server.URL, 3)
	sender.backoff = time.Millisecond

	err := sender.Send([]logging.Log{{Message: "test message", Level: "info"}})
	assert.NoError(t, err)

	assert.Equal(t, 2, retryCount)
}

func TestLokiSender_SendBatch_AllRetriesFail(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sender := NewLokiSender(server.URL, 2)
	sender.backoff = time.Millisecond

	err := sender.Send([]logging.Log{{Message: "test message", Level: "info"}})
	assert.Error(t, err)

	assert.Equal(t, 2, attempts)
}

func TestLokiSender_SendAsync_Cancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sender := NewLokiSender(server.URL, 5)
	sender.backoff = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := sender.SendAsync(ctx, []logging.Log{{Message: "m"}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLokiSender_CreatePayload(t *testing.T) {
	sender := NewLokiSender("http://test:3100", 3)
	sender.now = func() time.Time { return time.Unix(100, 0) }

	entries := []logging.Log{
		{Message: "message 1", Service: "api", Level: "info", Tags: "pod:pod-1,container:c-1"},
		{Message: "message 2", Service: "api", Level: "info", Tags: "pod:pod-1,container:c-1"},
		{Message: "message 3", Service: "api", Level: "info", Tags: "pod:pod-2,container:c-2"},
		{Message: "message 4", Service: "api", Level: "error", Tags: "pod:pod-1,container:c-1"},
	}

	payload := sender.createPayload(entries)

	assert.Equal(t, 3, len(payload.Streams))

	first := payload.Streams[0]
	assert.Equal(t, "pod-1", first.Stream["pod"])
	assert.Equal(t, "c-1", first.Stream["container"])
	assert.Equal(t, "api", first.Stream["service"])
	assert.Equal(t, 2, len(first.Values))
	assert.Equal(t, "100000000000", first.Values[0][0])
	assert.Equal(t, "100000000001", first.Values[1][0])

	assert.Equal(t, "pod-2", payload.Streams[1].Stream["pod"])
	assert.Equal(t, "error", payload.Streams[2].Stream["level"])
}

func TestLokiSender_TagsDoNotOverrideRouting(t *testing.T) {
	sender := NewLokiSender("http://test:3100", 1)
	labels := sender.createLabels(logging.Log{Level: "info", Tags: "level:debug, bad, env:prod"})
	assert.Equal(t, "info", labels["level"])
	assert.Equal(t, "prod", labels["env"])
	_, hasBad := labels["bad"]
	assert.False(t, hasBad)
}

func TestLokiSender_TraceIDsStayInLine(t *testing.T) {
	sender := NewLokiSender("http://test:3100", 1)
	sender.now = func() time.Time { return time.Unix(5, 0) }

	entries := []logging.Log{
		{Message: "charge", Service: "billing", Host: "h1", Source: "go", Level: "info", TraceID: "1", SpanID: "10"},
		{Message: "refund", Service: "billing", Host: "h1", Source: "go", Level: "info", TraceID: "2"},
		{Message: "plain", Service: "billing", Host: "h1", Source: "go", Level: "info"},
	}

	payload := sender.createPayload(entries)

	assert.Len(t, payload.Streams, 1)
	stream := payload.Streams[0]
	_, hasTrace := stream.Stream["trace_id"]
	assert.False(t, hasTrace)
	assert.Equal(t, map[string]string{
		"job":     "ddlogs",
		"source":  "go",
		"level":   "info",
		"service": "billing",
		"host":    "h1",
	}, stream.Stream)

	assert.Equal(t, "charge dd.trace_id=1 dd.span_id=10", stream.Values[0][1])
	assert.Equal(t, "refund dd.trace_id=2", stream.Values[1][1])
	assert.Equal(t, "plain", stream.Values[2][1])
}
