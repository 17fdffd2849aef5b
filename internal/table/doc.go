// Package table provides the shared variable table of the server.
//
// A Table maps variable names to text values. Every operation runs under
// one exclusive lock, so no caller ever observes a half-applied Set or
// Clear, and concurrent operations are totally ordered.
//
// # Basic Usage
//
//	t := table.New(100) // at most 100 variables, 0 for unbounded
//
//	if _, err := t.Set("a", "1"); errors.Is(err, table.ErrCapacityExceeded) {
//	    // table full, existing entries untouched
//	}
//
//	v, err := t.Get("a")
//	if errors.Is(err, table.ErrNotFound) {
//	    // never saved, or cleared
//	}
//
//	removed := t.Clear()
//
// # Ordering
//
// Variables are kept in insertion order and looked up with a linear scan.
// Updating an existing name keeps its position.
package table
