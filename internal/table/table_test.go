package table

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableGetMissing(t *testing.T) {
	tb := New(0)

	v, err := tb.Get("a")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "", v)
	assert.Equal(t, 0, tb.Len())
}

func TestTableSetGet(t *testing.T) {
	tb := New(0)

	created, err := tb.Set("a", "1")
	require.NoError(t, err)
	assert.True(t, created)

	v, err := tb.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "1", v)
}

func TestTableLastWriteWins(t *testing.T) {
	tb := New(0)

	_, _ = tb.Set("n", "v1")
	created, err := tb.Set("n", "v2")
	require.NoError(t, err)
	assert.False(t, created)

	v, err := tb.Get("n")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
	assert.Equal(t, 1, tb.Len())
}

func TestTableUniqueness(t *testing.T) {
	tb := New(0)

	for _, name := range []string{"a", "b", "a", "c", "b", "a"} {
		_, err := tb.Set(name, "x-"+name)
		require.NoError(t, err)
	}

	want := []Variable{{Name: "a", Value: "x-a"}, {Name: "b", Value: "x-b"}, {Name: "c", Value: "x-c"}}
	assert.Equal(t, want, tb.Snapshot())
}

func TestTableSetIdempotent(t *testing.T) {
	tb := New(1)

	_, _ = tb.Set("a", "1")
	_, err := tb.Set("a", "1")
	require.NoError(t, err)
	assert.Equal(t, []Variable{{Name: "a", Value: "1"}}, tb.Snapshot())
}

func TestTableClear(t *testing.T) {
	tb := New(0)
	_, _ = tb.Set("a", "1")
	_, _ = tb.Set("b", "2")

	assert.Equal(t, 2, tb.Clear())
	assert.Equal(t, 0, tb.Len())

	_, err := tb.Get("a")
	assert.True(t, errors.Is(err, ErrNotFound))

	// clearing an empty table is a no-op
	assert.Equal(t, 0, tb.Clear())
	assert.Equal(t, 0, tb.Len())
}

func TestTableCapacity(t *testing.T) {
	tb := New(2)
	assert.Equal(t, 2, tb.Capacity())

	_, err := tb.Set("a", "1")
	require.NoError(t, err)
	_, err = tb.Set("b", "2")
	require.NoError(t, err)

	_, err = tb.Set("c", "3")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCapacityExceeded))
	assert.Contains(t, err.Error(), "capacity 2")

	// existing entries are intact and still updatable
	_, err = tb.Set("a", "10")
	require.NoError(t, err)
	assert.Equal(t, []Variable{{"a", "10"}, {"b", "2"}}, tb.Snapshot())

	// clear frees the room again
	tb.Clear()
	_, err = tb.Set("c", "3")
	assert.NoError(t, err)
}

func TestTableNegativeCapacityIsUnbounded(t *testing.T) {
	tb := New(-5)
	assert.Equal(t, 0, tb.Capacity())

	for i := 0; i < 50; i++ {
		_, err := tb.Set(fmt.Sprintf("k%d", i), "v")
		require.NoError(t, err)
	}
	assert.Equal(t, 50, tb.Len())
}

func TestTableSnapshotIsCopy(t *testing.T) {
	tb := New(0)
	_, _ = tb.Set("a", "1")

	snap := tb.Snapshot()
	snap[0].Value = "changed"

	v, _ := tb.Get("a")
	assert.Equal(t, "1", v)
}

func TestTableConcurrentDistinctWriters(t *testing.T) {
	tb := New(0)
	const n = 200

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = tb.Set(fmt.Sprintf("k%d", i), fmt.Sprintf("v%d", i))
		}(i)
	}
	wg.Wait()

	require.Equal(t, n, tb.Len())
	for i := 0; i < n; i++ {
		v, err := tb.Get(fmt.Sprintf("k%d", i))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("v%d", i), v)
	}
}

func TestTableConcurrentMixed(t *testing.T) {
	tb := New(0)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func(i int) {
			defer wg.Done()
			_, _ = tb.Set("shared", fmt.Sprintf("v%d", i))
		}(i)
		go func() {
			defer wg.Done()
			_, _ = tb.Get("shared")
		}()
		go func() {
			defer wg.Done()
			tb.Clear()
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, tb.Len(), 1)
}
