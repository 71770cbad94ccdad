package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks the supervisor's own operational health: HTTP
// request latency/volume and scheduler task latency, queried by the
// API's /health/full endpoint. Generalized from a
// multi-exchange gateway-pool/per-user scorecard down to the single-venue,
// single-owner shape this supervisor actually runs.
type SystemMetrics struct {
	APILatency       *LatencyHistogram
	SchedulerLatency *LatencyHistogram

	apiRequests  uint64
	apiErrors    uint64
	tasksRun     uint64
	tasksFailed  uint64

	startedAt time.Time
}

// LatencyHistogram tracks latency samples with a sliding window and lazy
// stats recomputation.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		APILatency:       NewLatencyHistogram(1000),
		SchedulerLatency: NewLatencyHistogram(1000),
		startedAt:        time.Now(),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99. Only recomputes when
// samples have changed since the last call.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	min, max := sorted[0], sorted[n-1]
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   min,
		Max:   max,
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false
	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// IncrementAPI records one handled HTTP request.
func (m *SystemMetrics) IncrementAPI() {
	atomic.AddUint64(&m.apiRequests, 1)
}

// IncrementAPIErrors records one HTTP request that ended >=400.
func (m *SystemMetrics) IncrementAPIErrors() {
	atomic.AddUint64(&m.apiErrors, 1)
}

// IncrementTaskRun records one completed scheduler task tick.
func (m *SystemMetrics) IncrementTaskRun() {
	atomic.AddUint64(&m.tasksRun, 1)
}

// IncrementTaskFailure records one scheduler task tick that returned an error.
func (m *SystemMetrics) IncrementTaskFailure() {
	atomic.AddUint64(&m.tasksFailed, 1)
}

// MetricsSnapshot is a point-in-time read of SystemMetrics.
type MetricsSnapshot struct {
	APILatency       LatencyStats `json:"apiLatency"`
	SchedulerLatency LatencyStats `json:"schedulerLatency"`
	APIRequests      uint64       `json:"apiRequests"`
	APIErrors        uint64       `json:"apiErrors"`
	TasksRun         uint64       `json:"tasksRun"`
	TasksFailed      uint64       `json:"tasksFailed"`
	GoroutineCount   int          `json:"goroutineCount"`
	HeapAllocBytes   uint64       `json:"heapAllocBytes"`
	UptimeSeconds    float64      `json:"uptimeSeconds"`
	Timestamp        time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return MetricsSnapshot{
		APILatency:       m.APILatency.Stats(),
		SchedulerLatency: m.SchedulerLatency.Stats(),
		APIRequests:      atomic.LoadUint64(&m.apiRequests),
		APIErrors:        atomic.LoadUint64(&m.apiErrors),
		TasksRun:         atomic.LoadUint64(&m.tasksRun),
		TasksFailed:      atomic.LoadUint64(&m.tasksFailed),
		GoroutineCount:   runtime.NumGoroutine(),
		HeapAllocBytes:   mem.HeapAlloc,
		UptimeSeconds:    time.Since(m.startedAt).Seconds(),
		Timestamp:        time.Now(),
	}
}

// Timer measures an in-flight operation and records it to a histogram on Stop.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer starts a timer that records to h when Stop is called.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{start: time.Now(), histogram: h}
}

// Stop records elapsed time to the histogram and returns it.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
