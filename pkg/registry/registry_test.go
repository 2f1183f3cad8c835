package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capEntry struct {
	ID   string
	Name string
}

func TestBaseTable_Register(t *testing.T) {
	tbl := NewBaseTable[capEntry]()

	require.NoError(t, tbl.Register("cap-1", capEntry{ID: "cap-1", Name: "First"}))

	err := tbl.Register("", capEntry{Name: "No id"})
	assert.Error(t, err)

	err = tbl.Register("cap-1", capEntry{ID: "cap-1", Name: "Duplicate"})
	assert.Error(t, err, "registering a second capability under the same id must fail")
}

func TestBaseTable_Get(t *testing.T) {
	tbl := NewBaseTable[capEntry]()
	entry := capEntry{ID: "cap-1", Name: "First"}
	require.NoError(t, tbl.Register(entry.ID, entry))

	got, ok := tbl.Get("cap-1")
	require.True(t, ok)
	assert.Equal(t, entry, got)

	_, ok = tbl.Get("missing")
	assert.False(t, ok)
}

func TestBaseTable_List(t *testing.T) {
	tbl := NewBaseTable[capEntry]()
	assert.Empty(t, tbl.List())

	entries := []capEntry{
		{ID: "cap-1", Name: "First"},
		{ID: "cap-2", Name: "Second"},
		{ID: "cap-3", Name: "Third"},
	}
	for _, e := range entries {
		require.NoError(t, tbl.Register(e.ID, e))
	}

	listed := tbl.List()
	require.Len(t, listed, len(entries))

	byID := make(map[string]capEntry, len(listed))
	for _, e := range listed {
		byID[e.ID] = e
	}
	for _, e := range entries {
		assert.Equal(t, e, byID[e.ID])
	}
}

func TestBaseTable_Remove(t *testing.T) {
	tbl := NewBaseTable[capEntry]()
	require.NoError(t, tbl.Register("cap-1", capEntry{ID: "cap-1", Name: "First"}))

	require.NoError(t, tbl.Remove("cap-1"))
	_, ok := tbl.Get("cap-1")
	assert.False(t, ok)

	assert.Error(t, tbl.Remove("cap-1"), "removing an id twice must fail")
}

func TestBaseTable_Concurrency(t *testing.T) {
	tbl := NewBaseTable[capEntry]()
	const n = 100

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("concurrent-%d", i)
			_ = tbl.Register(id, capEntry{ID: id, Name: id})
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			tbl.Get(fmt.Sprintf("concurrent-%d", i))
			tbl.List()
		}
	}()

	wg.Wait()

	assert.Len(t, tbl.List(), n)
}
