package table

import (
	"sync"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned by Get when no variable has the given name.
	ErrNotFound = errors.New("no such variable")
	// ErrCapacityExceeded is returned by Set when a new name would not fit.
	ErrCapacityExceeded = errors.New("variable table is full")
)

// Store defines the operations the connection handler needs.
type Store interface {
	Set(name, value string) (bool, error)
	Get(name string) (string, error)
	Clear() int
	Len() int
}

// Ensure Table implements Store
var _ Store = (*Table)(nil)

// Variable is a named text value.
type Variable struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Table holds every variable of the server behind a single mutex.
// Entries keep insertion order; lookup is a linear scan.
type Table struct {
	mu       sync.Mutex
	vars     []Variable
	capacity int
}

// New creates an empty table. A capacity of zero or less means unbounded.
func New(capacity int) *Table {
	if capacity < 0 {
		capacity = 0
	}
	return &Table{capacity: capacity}
}

// Capacity returns the configured ceiling, 0 when unbounded.
func (t *Table) Capacity() int {
	return t.capacity
}

// find must be called with t.mu held.
func (t *Table) find(name string) int {
	for i := range t.vars {
		if t.vars[i].Name == name {
			return i
		}
	}
	return -1
}

// Set stores value under name. It reports whether the name was new.
// Updating an existing name never fails; adding a new one fails with
// ErrCapacityExceeded when the table is full.
func (t *Table) Set(name, value string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if i := t.find(name); i >= 0 {
		t.vars[i].Value = value
		return false, nil
	}

	if t.capacity > 0 && len(t.vars) >= t.capacity {
		return false, errors.Wrapf(ErrCapacityExceeded, "capacity %d", t.capacity)
	}

	t.vars = append(t.vars, Variable{Name: name, Value: value})
	return true, nil
}

// Get returns the current value of name or ErrNotFound.
func (t *Table) Get(name string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if i := t.find(name); i >= 0 {
		return t.vars[i].Value, nil
	}
	return "", ErrNotFound
}

// Clear removes every variable and returns how many were removed.
func (t *Table) Clear() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.vars)
	t.vars = nil
	return n
}

// Len returns the number of stored variables.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.vars)
}

// Snapshot returns a copy of all variables in insertion order.
func (t *Table) Snapshot() []Variable {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Variable, len(t.vars))
	copy(out, t.vars)
	return out
}
