package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Chichichkin/ddlogs/internal/logging"
)

// Sender pushes batches to Loki. Records are grouped into streams keyed by
// their routing fields and ddtags.
type Sender struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	now        func() time.Time
}

type Stream struct {
	Stream map[string]string `json:"stream"`
	Values [][2]string       `json:"values"`
}

type Payload struct {
	Streams []Stream `json:"streams"`
}

func NewLokiSender(baseURL string, maxRetries int) *Sender {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	return &Sender{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		maxRetries: maxRetries,
		backoff:    time.Second,
		now:        time.Now,
	}
}

func (ls *Sender) Send(entries []logging.Log) error {
	return ls.SendAsync(context.Background(), entries)
}

func (ls *Sender) SendAsync(ctx context.Context, entries []logging.Log) error {
	if len(entries) == 0 {
		return nil
	}

	payload := ls.createPayload(entries)
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	for i := 0; i < ls.maxRetries; i++ {
		err = ls.sendRequest(ctx, body)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if i < ls.maxRetries-1 {
			select {
			case <-time.After(time.Duration(i+1) * ls.backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return fmt.Errorf("failed to send batch after %d attempts: %w", ls.maxRetries, err)
}

func (ls *Sender) createPayload(entries []logging.Log) Payload {
	streams := make(map[string]Stream)
	var order []string

	// nanosecond stamps must be unique within a stream to keep order
	base := ls.now().UnixNano()

	for i, entry := range entries {
		labels := ls.createLabels(entry)
		streamKey := ls.getStreamKey(labels)
		if _, exists := streams[streamKey]; !exists {
			streams[streamKey] = Stream{
				Stream: labels,
				Values: [][2]string{},
			}
			order = append(order, streamKey)
		}

		stream := streams[streamKey]
		timestamp := fmt.Sprintf("%d", base+int64(i))
		stream.Values = append(stream.Values, [2]string{timestamp, logLine(entry)})
		streams[streamKey] = stream
	}

	payload := Payload{
		Streams: make([]Stream, 0, len(streams)),
	}
	for _, key := range order {
		payload.Streams = append(payload.Streams, streams[key])
	}

	return payload
}

// logLine keeps per-request ids in the line itself; as labels they would
// open a stream per trace.
func logLine(entry logging.Log) string {
	if entry.TraceID == "" && entry.SpanID == "" {
		return entry.Message
	}
	var b strings.Builder
	b.WriteString(entry.Message)
	if entry.TraceID != "" {
		b.WriteString(" dd.trace_id=")
		b.WriteString(entry.TraceID)
	}
	if entry.SpanID != "" {
		b.WriteString(" dd.span_id=")
		b.WriteString(entry.SpanID)
	}
	return b.String()
}

func (ls *Sender) getStreamKey(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
		b.WriteByte(',')
	}
	return b.String()
}

func (ls *Sender) createLabels(entry logging.Log) map[string]string {
	labels := map[string]string{
		"job":    "ddlogs",
		"source": entry.Source,
		"level":  entry.Level,
	}
	if entry.Service != "" {
		labels["service"] = entry.Service
	}
	if entry.Host != "" {
		labels["host"] = entry.Host
	}

	for _, tag := range strings.Split(entry.Tags, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(tag), ":")
		if !ok || k == "" {
			continue
		}
		if _, taken := labels[k]; !taken {
			labels[k] = v
		}
	}

	return labels
}

func (ls *Sender) sendRequest(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ls.baseURL+"/loki/api/v1/push", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := ls.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		responseBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("loki returned status %d: %s", resp.StatusCode, string(responseBody))
	}

	return nil
}
