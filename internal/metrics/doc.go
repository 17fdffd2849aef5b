// Package metrics collects server counters.
//
// Metrics tracks accepted and dropped connections, applied commands per
// verb, read misses, protocol and capacity errors, and command latency.
// Counters are atomic; latency samples are kept in a bounded ring.
//
// # Basic Usage
//
//	m := metrics.New()
//	m.ConnectionAccepted()
//
//	start := time.Now()
//	// ... apply a save ...
//	m.RecordSave(time.Since(start))
//
//	snap := m.Snapshot()
//	fmt.Printf("active: %d, commands: %d, p99: %v\n",
//	    snap.ActiveConnections, m.Commands(), snap.P99Latency)
package metrics
