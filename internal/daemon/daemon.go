package daemon

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hpcloud/tail"
	"github.com/rs/zerolog"

	"github.com/Chichichkin/ddlogs/internal/logging"
)

// Sink receives every shipped line. *ddlog.Logger satisfies it; LogRecord
// must not block.
type Sink interface {
	LogRecord(rec logging.Log)
}

type LogDaemonService struct {
	config        Config
	sink          Sink
	filter        lineFilter
	log           zerolog.Logger
	fileQueue     chan string
	workers       []*worker
	workersWg     sync.WaitGroup
	subServicesWg sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
	metrics       *LogDaemonMetrics

	scaleMutex     sync.RWMutex
	currentWorkers int
	maxWorkers     int
	minWorkers     int

	seenMu    sync.Mutex
	seenFiles map[string]struct{}
	// tailing holds files some worker is following right now
	tailing map[string]struct{}
}

type worker struct {
	id     int
	ctx    context.Context
	cancel context.CancelFunc
}

type Config struct {
	LogRootPath        string
	ScanInterval       time.Duration
	MinWorkers         int
	MaxWorkers         int
	FileQueueSize      int
	NodeName           string
	FileBufferSize     int
	ScaleUpThreshold   float64 // default: 0.9
	ScaleDownThreshold float64 // default: 0.3
	ScaleCheckInterval time.Duration
	// If > 0, stop tailing a file after this period without new lines
	FileIdleTimeout time.Duration
	// FromStart tails new files from their first line instead of their end
	FromStart bool
	// Filter is an optional CEL expression; lines it rejects are not shipped
	Filter string
	// MetricsInterval defaults to 30s
	MetricsInterval time.Duration
}

// NewLogDaemonService always creates 3 + config.MinWorkers go routines on Start()
func NewLogDaemonService(ctx context.Context, config Config, sink Sink, logger zerolog.Logger) (*LogDaemonService, error) {
	filter, err := newLineFilter(config.Filter)
	if err != nil {
		return nil, err
	}
	if config.MetricsInterval <= 0 {
		config.MetricsInterval = 30 * time.Second
	}

	nCtx, cancel := context.WithCancel(ctx)

	service := &LogDaemonService{
		config:    config,
		sink:      sink,
		filter:    filter,
		log:       logger.With().Str("component", "daemon").Logger(),
		fileQueue: make(chan string, config.FileQueueSize),
		ctx:       nCtx,
		cancel:    cancel,
		metrics: &LogDaemonMetrics{
			FilesQueueCapacity: config.FileQueueSize,
		},
		minWorkers:     config.MinWorkers,
		maxWorkers:     config.MaxWorkers,
		currentWorkers: config.MinWorkers,
		seenFiles:      make(map[string]struct{}),
		tailing:        make(map[string]struct{}),
	}

	service.workers = make([]*worker, config.MaxWorkers+1)

	return service, nil
}

func (s *LogDaemonService) Start() {
	s.log.Info().
		Int("min_workers", s.minWorkers).
		Int("max_workers", s.maxWorkers).
		Int("queue_size", s.config.FileQueueSize).
		Msg("Starting log daemon service")

	for i := 0; i < s.minWorkers; i++ {
		s.startWorker(i)
	}

	s.subServicesWg.Add(1)
	go s.scanner()

	s.subServicesWg.Add(1)
	go s.monitorAndScale()

	s.subServicesWg.Add(1)
	go s.metricsReporter()

	s.log.Info().Msg("Log daemon service started")
}

func (s *LogDaemonService) Stop() {
	s.log.Info().Msg("Stopping log daemon service...")
	s.cancel()

	s.subServicesWg.Wait()

	close(s.fileQueue)
	s.workersWg.Wait()

	s.log.Info().Msg("Log daemon service stopped")
}

func (s *LogDaemonService) Metrics() MetricsStamp {
	return s.metrics.GetMetricsStamp()
}

func (s *LogDaemonService) startWorker(id int) {
	if id >= len(s.workers) || s.workers[id] != nil {
		return
	}

	workerCtx, cancel := context.WithCancel(s.ctx)
	worker := &worker{
		id:     id,
		ctx:    workerCtx,
		cancel: cancel,
	}
	s.workers[id] = worker

	s.workersWg.Add(1)
	go s.worker(worker)

	s.metrics.IncWorkersActive()
	s.log.Debug().Int("worker", id).Msg("Worker started")
}

func (s *LogDaemonService) stopWorker(id int) {
	if id >= len(s.workers) || s.workers[id] == nil {
		return
	}

	s.workers[id].cancel()
	s.workers[id] = nil

	s.metrics.DecWorkersActive()
	s.log.Debug().Int("worker", id).Msg("Worker stopped")
}

func (s *LogDaemonService) worker(worker *worker) {
	defer s.workersWg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Int("worker", worker.id).Interface("panic", r).Msg("Worker panicked")
		}
	}()

	for {
		select {
		case filePath, ok := <-s.fileQueue:
			if !ok {
				return
			}
			s.metrics.DecAmountQueueFiles()
			s.metrics.IncWorkersBusy()
			s.processFile(worker.ctx, filePath)
			s.metrics.DecWorkersBusy()

		case <-worker.ctx.Done():
			return
		}
	}
}

func (s *LogDaemonService) processFile(ctx context.Context, filePath string) {
	if !s.claim(filePath) {
		return
	}
	defer s.release(filePath)

	defer s.metrics.IncFilesProcessed()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("file", filePath).Interface("panic", r).Msg("File processing panicked")
			s.metrics.IncFilesFailed()
		}
	}()

	whence := io.SeekEnd
	if s.config.FromStart {
		whence = io.SeekStart
	}
	t, err := tail.TailFile(filePath, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Poll:     true,
		Location: &tail.SeekInfo{Offset: 0, Whence: whence},
		Logger:   tail.DiscardingLogger,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("file", filePath).Msg("Failed to tail file")
		s.metrics.IncFilesFailed()
		return
	}
	defer t.Cleanup()
	defer func() { _ = t.Stop() }()

	labels := s.extractLabels(filePath)
	tags := labelsToTags(labels)

	checkTicker := time.NewTicker(1 * time.Second)
	defer checkTicker.Stop()

	lastActivity := time.Now()

	for {
		select {
		case line := <-t.Lines:
			if line == nil {
				continue
			}
			if line.Err != nil {
				s.log.Warn().Err(line.Err).Str("file", filePath).Msg("Error reading file")
				continue
			}
			s.metrics.IncLinesRead()
			lastActivity = time.Now()

			parsed := parseLine(line.Text)
			if !s.filter.Eval(parsed, labels) {
				s.metrics.IncLinesFiltered()
				continue
			}

			s.sink.LogRecord(logging.Log{
				Message: parsed.Message,
				Tags:    tags,
				Level:   parsed.Level.String(),
				TraceID: parsed.TraceID,
				SpanID:  parsed.SpanID,
			})
			s.metrics.IncLinesShipped()

		case <-checkTicker.C:
			// waking up from blocking line reading to check context status and idle timeout
			if s.config.FileIdleTimeout > 0 && time.Since(lastActivity) > s.config.FileIdleTimeout {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// claim marks filePath as tailed; periodic rescans re-queue known files and
// must not start a second tail on them.
func (s *LogDaemonService) claim(filePath string) bool {
	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	if _, busy := s.tailing[filePath]; busy {
		return false
	}
	s.tailing[filePath] = struct{}{}
	return true
}

func (s *LogDaemonService) release(filePath string) {
	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	delete(s.tailing, filePath)
}

func (s *LogDaemonService) scanner() {
	defer s.subServicesWg.Done()

	ticker := time.NewTicker(s.config.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.scanFiles()

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *LogDaemonService) scanFiles() {
	files, err := s.discoverLogFiles()
	if err != nil {
		s.log.Warn().Err(err).Msg("Error discovering log files")
		return
	}

	for _, file := range files {
		s.seenMu.Lock()
		_, seen := s.seenFiles[file]
		_, busy := s.tailing[file]
		if !seen {
			s.seenFiles[file] = struct{}{}
		}
		s.seenMu.Unlock()

		if !seen {
			s.metrics.IncFilesDiscovered()
		}
		if busy {
			continue
		}
		select {
		case s.fileQueue <- file:
			s.metrics.IncAmountQueueFiles()
		case <-s.ctx.Done():
			return

		default:
			s.log.Warn().
				Int("queued", len(s.fileQueue)).
				Int("capacity", cap(s.fileQueue)).
				Str("file", file).
				Msg("File queue full, skipping")
		}
	}
}

func (s *LogDaemonService) monitorAndScale() {
	defer s.subServicesWg.Done()

	ticker := time.NewTicker(s.config.ScaleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.adjustWorkers()

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *LogDaemonService) adjustWorkers() {
	metrics := s.metrics.GetMetricsStamp()

	if s.currentWorkers >= s.maxWorkers && s.currentWorkers <= s.minWorkers {
		return
	}

	queueUsage := metrics.QueueUsage()
	workerUtilization := 0.0
	if s.currentWorkers > 0 {
		workerUtilization = float64(metrics.WorkersBusy) / float64(s.currentWorkers)
	}

	if queueUsage > s.config.ScaleUpThreshold &&
		workerUtilization > s.config.ScaleUpThreshold &&
		s.currentWorkers < s.maxWorkers {
		s.scaleUp()
	} else if queueUsage < s.config.ScaleDownThreshold &&
		workerUtilization < s.config.ScaleDownThreshold &&
		s.currentWorkers > s.minWorkers {
		s.scaleDown()
	}
}

func (s *LogDaemonService) scaleUp() {
	s.scaleMutex.Lock()
	defer s.scaleMutex.Unlock()

	if s.currentWorkers >= s.maxWorkers {
		return
	}

	newWorkerID := s.currentWorkers
	s.currentWorkers++

	s.startWorker(newWorkerID)
	s.metrics.IncScaleUpOperations()

	s.log.Info().
		Int("workers", s.currentWorkers).
		Int("queue_usage_pct", int(s.metrics.GetQueueUsage()*100)).
		Msg("Scaled up")
}

func (s *LogDaemonService) scaleDown() {
	s.scaleMutex.Lock()
	defer s.scaleMutex.Unlock()

	if s.currentWorkers <= s.minWorkers {
		return
	}

	workerToStop := s.currentWorkers - 1
	s.currentWorkers--

	s.stopWorker(workerToStop)
	s.metrics.IncScaleDownOperations()

	s.log.Info().
		Int("workers", s.currentWorkers).
		Int("queue_usage_pct", int(s.metrics.GetQueueUsage()*100)).
		Msg("Scaled down")
}

func (s *LogDaemonService) metricsReporter() {
	defer s.subServicesWg.Done()

	ticker := time.NewTicker(s.config.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics := s.metrics.GetMetricsStamp()

			s.log.Info().
				Int("workers_active", metrics.WorkersActive).
				Int("workers_max", s.maxWorkers).
				Int("workers_busy", metrics.WorkersBusy).
				Int("queued_files", metrics.QueuedFiles).
				Int("queue_usage_pct", int(metrics.QueueUsage()*100)).
				Int("files_processed", metrics.FilesProcessed).
				Int("files_discovered", metrics.FilesDiscovered).
				Int("lines_read", metrics.LinesRead).
				Int("lines_filtered", metrics.LinesFiltered).
				Int("lines_shipped", metrics.LinesShipped).
				Int("scale_up", metrics.ScaleUpOperations).
				Int("scale_down", metrics.ScaleDownOperations).
				Msg("Metrics")

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *LogDaemonService) discoverLogFiles() ([]string, error) {
	var logFiles []string

	err := filepath.Walk(s.config.LogRootPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			s.log.Debug().Err(err).Str("path", path).Msg("Error accessing path")
			return nil
		}

		if !info.IsDir() && strings.HasSuffix(info.Name(), ".log") {
			logFiles = append(logFiles, path)
		}
		return nil
	})

	return logFiles, err
}

func (s *LogDaemonService) extractLabels(filePath string) map[string]string {
	labels := map[string]string{
		"node": s.config.NodeName,
		"file": filepath.Base(filePath),
	}

	// kubelet layout: <root>/<namespace>_<pod>_<uid>/<container>/<n>.log
	var podDir, container string
	if rel, err := filepath.Rel(s.config.LogRootPath, filePath); err == nil && !strings.HasPrefix(rel, "..") {
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) >= 3 {
			podDir, container = parts[0], parts[1]
		}
	} else {
		parts := strings.Split(filePath, "/")
		if len(parts) >= 5 {
			podDir = parts[4]
		}
		if len(parts) >= 6 {
			container = parts[5]
		}
	}

	if podParts := strings.Split(podDir, "_"); len(podParts) >= 3 {
		labels["namespace"] = podParts[0]
		labels["pod"] = podParts[1]
		labels["pod_uid"] = podParts[2]
	}
	if container != "" {
		labels["container"] = container
	}

	return labels
}

var tagNames = map[string]string{
	"namespace": "kube_namespace",
	"pod":       "pod_name",
	"pod_uid":   "pod_uid",
	"container": "kube_container_name",
	"node":      "node",
	"file":      "filename",
}

// labelsToTags renders labels as sorted Datadog "key:value" tags.
func labelsToTags(labels map[string]string) string {
	tags := make([]string, 0, len(labels))
	for k, v := range labels {
		if v == "" {
			continue
		}
		name, ok := tagNames[k]
		if !ok {
			name = k
		}
		tags = append(tags, name+":"+v)
	}
	sort.Strings(tags)
	return strings.Join(tags, ",")
}
