package daemon

import (
	"go.uber.org/atomic"
)

// LogDaemonMetrics counts what the daemon did. Every counter is updated
// lock-free; GetMetricsStamp reads them one by one, so a stamp taken under
// load is not a consistent snapshot.
type LogDaemonMetrics struct {
	FilesDiscovered     atomic.Int64
	FilesProcessed      atomic.Int64
	FilesFailed         atomic.Int64
	QueuedFiles         atomic.Int64
	WorkersActive       atomic.Int64
	WorkersBusy         atomic.Int64
	ScaleUpOperations   atomic.Int64
	ScaleDownOperations atomic.Int64
	LinesRead           atomic.Int64
	LinesFiltered       atomic.Int64
	LinesShipped        atomic.Int64

	FilesQueueCapacity int
}

type MetricsStamp struct {
	FilesDiscovered     int
	FilesProcessed      int
	FilesFailed         int
	QueuedFiles         int
	FilesQueueCapacity  int
	WorkersActive       int
	WorkersBusy         int
	ScaleUpOperations   int
	ScaleDownOperations int
	LinesRead           int
	LinesFiltered       int
	LinesShipped        int
}

func (m *LogDaemonMetrics) IncFilesDiscovered()     { m.FilesDiscovered.Inc() }
func (m *LogDaemonMetrics) IncFilesProcessed()      { m.FilesProcessed.Inc() }
func (m *LogDaemonMetrics) IncFilesFailed()         { m.FilesFailed.Inc() }
func (m *LogDaemonMetrics) IncAmountQueueFiles()    { m.QueuedFiles.Inc() }
func (m *LogDaemonMetrics) DecAmountQueueFiles()    { m.QueuedFiles.Dec() }
func (m *LogDaemonMetrics) IncWorkersActive()       { m.WorkersActive.Inc() }
func (m *LogDaemonMetrics) DecWorkersActive()       { m.WorkersActive.Dec() }
func (m *LogDaemonMetrics) IncWorkersBusy()         { m.WorkersBusy.Inc() }
func (m *LogDaemonMetrics) DecWorkersBusy()         { m.WorkersBusy.Dec() }
func (m *LogDaemonMetrics) IncScaleUpOperations()   { m.ScaleUpOperations.Inc() }
func (m *LogDaemonMetrics) IncScaleDownOperations() { m.ScaleDownOperations.Inc() }
func (m *LogDaemonMetrics) IncLinesRead()           { m.LinesRead.Inc() }
func (m *LogDaemonMetrics) IncLinesFiltered()       { m.LinesFiltered.Inc() }
func (m *LogDaemonMetrics) IncLinesShipped()        { m.LinesShipped.Inc() }

func (m *LogDaemonMetrics) GetMetricsStamp() MetricsStamp {
	return MetricsStamp{
		FilesDiscovered:     int(m.FilesDiscovered.Load()),
		FilesProcessed:      int(m.FilesProcessed.Load()),
		FilesFailed:         int(m.FilesFailed.Load()),
		QueuedFiles:         int(m.QueuedFiles.Load()),
		FilesQueueCapacity:  m.FilesQueueCapacity,
		WorkersActive:       int(m.WorkersActive.Load()),
		WorkersBusy:         int(m.WorkersBusy.Load()),
		ScaleUpOperations:   int(m.ScaleUpOperations.Load()),
		ScaleDownOperations: int(m.ScaleDownOperations.Load()),
		LinesRead:           int(m.LinesRead.Load()),
		LinesFiltered:       int(m.LinesFiltered.Load()),
		LinesShipped:        int(m.LinesShipped.Load()),
	}
}

func (m *LogDaemonMetrics) GetQueueUsage() float64 {
	return m.GetMetricsStamp().QueueUsage()
}

func (s MetricsStamp) QueueUsage() float64 {
	if s.FilesQueueCapacity == 0 {
		return 0
	}
	return float64(s.QueuedFiles) / float64(s.FilesQueueCapacity)
}
