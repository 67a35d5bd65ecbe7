// Package metrics provides lock-free counters for the authentication
// subsystem.
//
// Counters are stored in cache-line-padded uint64 slots and incremented
// atomically via [sync/atomic.AddUint64]; the write path is allocation-free.
// The package owns storage and snapshot creation only — it performs no I/O
// and exposes no global registry.
package metrics
