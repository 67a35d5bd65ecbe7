package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCountersAreConcurrencySafe(t *testing.T) {
	m := New(true)

	const workers = 16
	const perWorker = 1000
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				m.Inc(RefreshSuccess)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, uint64(workers*perWorker), m.Value(RefreshSuccess))
}

func TestDisabledMetricsAreNoOps(t *testing.T) {
	m := New(false)
	m.Inc(LoginSuccess)
	m.Add(CleanupRowsRemoved, 10)
	require.Zero(t, m.Value(LoginSuccess))
	require.Empty(t, m.Snapshot())

	var nilMetrics *Metrics
	nilMetrics.Inc(LoginSuccess)
	require.Zero(t, nilMetrics.Value(LoginSuccess))
}

func TestSnapshotCopiesValues(t *testing.T) {
	m := New(true)
	m.Add(CleanupRowsRemoved, 42)
	m.Inc(CleanupRuns)

	snap := m.Snapshot()
	require.Equal(t, uint64(42), snap[CleanupRowsRemoved])
	require.Equal(t, uint64(1), snap[CleanupRuns])

	m.Inc(CleanupRuns)
	require.Equal(t, uint64(1), snap[CleanupRuns], "snapshot must not track later increments")
}
