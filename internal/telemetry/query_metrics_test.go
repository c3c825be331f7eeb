package telemetry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircularBuffer_FIFOOrder(t *testing.T) {
	buf := NewCircularBuffer[string](3)

	buf.Add("a")
	buf.Add("b")
	assert.Equal(t, []string{"a", "b"}, buf.Items())

	buf.Add("c")
	buf.Add("d")
	assert.Equal(t, []string{"b", "c", "d"}, buf.Items())
	assert.Equal(t, 3, buf.Len())
}

func TestCircularBuffer_Empty(t *testing.T) {
	buf := NewCircularBuffer[int](5)
	assert.Empty(t, buf.Items())
	assert.Equal(t, 0, buf.Len())
}

func TestQueryMetrics_Record(t *testing.T) {
	m := NewQueryMetrics(prometheus.NewRegistry())

	m.Record(SearchEvent{
		Query:       "docker setup",
		Mode:        ModeHybrid,
		ResultCount: 3,
		Latency:     12 * time.Millisecond,
		Timestamp:   time.Now(),
	})
	m.Record(SearchEvent{
		Query:       "zeppelin",
		Mode:        ModeKeywordOnly,
		ResultCount: 0,
		Latency:     2 * time.Millisecond,
		Timestamp:   time.Now(),
	})

	stats := m.Snapshot()
	assert.Equal(t, int64(2), stats.TotalQueries)
	assert.Equal(t, int64(1), stats.ZeroResultQueries)
	require.Len(t, stats.RecentZeroResult, 1)
	assert.Equal(t, "zeppelin", stats.RecentZeroResult[0])
}

func TestQueryMetrics_ZeroResultBufferCapped(t *testing.T) {
	m := NewQueryMetrics(nil)

	for i := 0; i < 80; i++ {
		m.Record(SearchEvent{Query: fmt.Sprintf("q%d", i), ResultCount: 0})
	}

	stats := m.Snapshot()
	assert.Equal(t, int64(80), stats.ZeroResultQueries)
	assert.Len(t, stats.RecentZeroResult, 50)
	assert.Equal(t, "q30", stats.RecentZeroResult[0])
	assert.Equal(t, "q79", stats.RecentZeroResult[49])
}

func TestQueryMetrics_ConcurrentRecord(t *testing.T) {
	m := NewQueryMetrics(nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Record(SearchEvent{Query: "q", Mode: ModeHybrid, ResultCount: 1})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1000), m.Snapshot().TotalQueries)
}
