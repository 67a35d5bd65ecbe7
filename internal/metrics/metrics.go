package metrics

import "sync/atomic"

// ID identifies one counter.
type ID uint16

const (
	LoginSuccess ID = iota
	LoginFailure
	LoginRateLimited
	RegisterSuccess
	RegisterDuplicate
	RefreshSuccess
	RefreshFailure
	RefreshReuseDetected
	Logout
	LogoutAll
	TokenRejected
	StoreRetried
	CleanupRuns
	CleanupRowsRemoved
	idCount
)

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds the counter slots. A nil or disabled Metrics is a no-op on
// every method, so callers never guard their increments.
type Metrics struct {
	enabled  bool
	counters [idCount]paddedCounter
}

// New returns a Metrics instance; when enabled is false all operations are
// no-ops.
func New(enabled bool) *Metrics {
	return &Metrics{enabled: enabled}
}

func (m *Metrics) Inc(id ID) {
	m.Add(id, 1)
}

func (m *Metrics) Add(id ID, n uint64) {
	if m == nil || !m.enabled || id >= idCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, n)
}

func (m *Metrics) Value(id ID) uint64 {
	if m == nil || id >= idCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot is a point-in-time copy of every counter.
func (m *Metrics) Snapshot() map[ID]uint64 {
	out := make(map[ID]uint64, int(idCount))
	if m == nil || !m.enabled {
		return out
	}
	for id := ID(0); id < idCount; id++ {
		out[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return out
}
