// Package telemetry tracks search query patterns. Aggregates are exported as
// Prometheus metrics; recent zero-result queries are kept in memory so the
// health endpoint can surface vocabulary gaps. Nothing leaves the process.
package telemetry

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SearchMode records how a query was answered.
type SearchMode string

const (
	// ModeHybrid means both keyword and vector retrieval contributed.
	ModeHybrid SearchMode = "hybrid"

	// ModeKeywordOnly means vector retrieval was skipped or degraded.
	ModeKeywordOnly SearchMode = "keyword_only"
)

// SearchEvent is one completed search query.
type SearchEvent struct {
	Query       string
	Mode        SearchMode
	ResultCount int
	Latency     time.Duration
	Timestamp   time.Time
}

// IsZeroResult reports whether the query returned nothing.
func (e SearchEvent) IsZeroResult() bool {
	return e.ResultCount == 0
}

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	head     int
	size     int
	capacity int
}

// NewCircularBuffer creates a circular buffer with the given capacity.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add appends an item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns the buffered items in FIFO order, oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return []T{}
	}

	out := make([]T, 0, b.size)
	start := (b.head - b.size + b.capacity) % b.capacity
	for i := 0; i < b.size; i++ {
		out = append(out, b.items[(start+i)%b.capacity])
	}
	return out
}

// Len returns the number of buffered items.
func (b *CircularBuffer[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// QueryMetrics collects search telemetry.
type QueryMetrics struct {
	searches     *prometheus.CounterVec
	zeroResults  prometheus.Counter
	duration     prometheus.Histogram
	resultCounts prometheus.Histogram

	mu         sync.RWMutex
	total      int64
	zeroTotal  int64
	recentZero *CircularBuffer[string]
}

// QueryStats is a point-in-time snapshot for the health endpoint.
type QueryStats struct {
	TotalQueries      int64    `json:"total_queries"`
	ZeroResultQueries int64    `json:"zero_result_queries"`
	RecentZeroResult  []string `json:"recent_zero_result,omitempty"`
}

// NewQueryMetrics creates a collector and registers its metrics. A nil
// registerer skips registration, which tests use.
func NewQueryMetrics(reg prometheus.Registerer) *QueryMetrics {
	m := &QueryMetrics{
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartnotes",
			Name:      "searches_total",
			Help:      "Search queries served, by mode.",
		}, []string{"mode"}),
		zeroResults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartnotes",
			Name:      "searches_zero_result_total",
			Help:      "Search queries that returned no results.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "smartnotes",
			Name:      "search_duration_seconds",
			Help:      "End-to-end search latency.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		resultCounts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "smartnotes",
			Name:      "search_result_count",
			Help:      "Number of results returned per search.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
		recentZero: NewCircularBuffer[string](50),
	}

	if reg != nil {
		reg.MustRegister(m.searches, m.zeroResults, m.duration, m.resultCounts)
	}
	return m
}

// Record adds one search event to the collector.
func (m *QueryMetrics) Record(event SearchEvent) {
	mode := event.Mode
	if mode == "" {
		mode = ModeHybrid
	}

	m.searches.WithLabelValues(string(mode)).Inc()
	m.duration.Observe(event.Latency.Seconds())
	m.resultCounts.Observe(float64(event.ResultCount))

	m.mu.Lock()
	m.total++
	if event.IsZeroResult() {
		m.zeroTotal++
		if q := strings.TrimSpace(event.Query); q != "" {
			m.recentZero.Add(q)
		}
	}
	m.mu.Unlock()

	if event.IsZeroResult() {
		m.zeroResults.Inc()
	}
}

// Snapshot returns the current aggregate counters.
func (m *QueryMetrics) Snapshot() QueryStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return QueryStats{
		TotalQueries:      m.total,
		ZeroResultQueries: m.zeroTotal,
		RecentZeroResult:  m.recentZero.Items(),
	}
}
