package testutils

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Chichichkin/ddlogs/internal/logging"
)

// MockLogSender records every batch it is given. It implements both
// logging.Sender and logging.AsyncSender. A non-nil Gate stalls every call
// until the gate receives or is closed.
type MockLogSender struct {
	SentBatches [][]logging.Log
	mu          sync.Mutex
	ShouldFail  bool
	Delay       time.Duration
	Gate        chan struct{}
	calls       int
	waiting     int
}

func (m *MockLogSender) Send(batch []logging.Log) error {
	if m.Gate != nil {
		m.addWaiting(1)
		<-m.Gate
		m.addWaiting(-1)
	}
	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}
	return m.record(batch)
}

func (m *MockLogSender) SendAsync(ctx context.Context, batch []logging.Log) error {
	if m.Gate != nil {
		m.addWaiting(1)
		select {
		case <-m.Gate:
			m.addWaiting(-1)
		case <-ctx.Done():
			m.addWaiting(-1)
			return ctx.Err()
		}
	}
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.record(batch)
}

func (m *MockLogSender) record(batch []logging.Log) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.ShouldFail {
		return fmt.Errorf("mock send failed")
	}

	cp := make([]logging.Log, len(batch))
	copy(cp, batch)
	m.SentBatches = append(m.SentBatches, cp)
	return nil
}

func (m *MockLogSender) addWaiting(d int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waiting += d
}

// Waiting reports how many calls are currently stalled on Gate.
func (m *MockLogSender) Waiting() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.waiting
}

func (m *MockLogSender) SetFail(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShouldFail = fail
}

func (m *MockLogSender) GetSentBatches() [][]logging.Log {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]logging.Log, len(m.SentBatches))
	copy(out, m.SentBatches)
	return out
}

// Messages flattens the delivered batches in delivery order.
func (m *MockLogSender) Messages() []string {
	var out []string
	for _, b := range m.GetSentBatches() {
		for _, rec := range b {
			out = append(out, rec.Message)
		}
	}
	return out
}

func (m *MockLogSender) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockSink stands in for the logger facade on the producer side.
type MockSink struct {
	Entries        []logging.Log
	mu             sync.Mutex
	LogRecordCalls int
}

func (m *MockSink) LogRecord(rec logging.Log) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Entries = append(m.Entries, rec)
	m.LogRecordCalls++
}

func (m *MockSink) GetEntries() []logging.Log {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]logging.Log, len(m.Entries))
	copy(out, m.Entries)
	return out
}

func (m *MockSink) GetStats() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Entries), m.LogRecordCalls
}

// Eventually polls cond until it holds or timeout passes.
func Eventually(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func CreateTempLogStructure(t *testing.T) string {
	tempDir := t.TempDir()

	structure := map[string]string{
		"default_pod-1_uid123/container-1/app.log":          "log content 1\nline 2\n",
		"default_pod-1_uid123/container-2/app.log":          "log content 2\nerror log\n",
		"kube-system_pod-2_uid456/container/app.log":        "log content 3\ninfo message\n",
		"default_pod-3_uid789/container/app.log":            "log content 4\n",
		"monitoring_pod-4_uid101/grafana/grafana.log":       "grafana starting\n",
		"monitoring_pod-4_uid101/prometheus/prometheus.log": "prometheus ready\n",
	}

	for path, content := range structure {
		fullPath := filepath.Join(tempDir, path)
		dir := filepath.Dir(fullPath)

		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("Failed to create directory %s: %v", dir, err)
		}

		if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write file %s: %v", fullPath, err)
		}
	}

	return tempDir
}
