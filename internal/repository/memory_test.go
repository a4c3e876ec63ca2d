package repository

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	ID    string
	Value int
}

func TestSaveAndFindByID(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Save("a", &record{ID: "a", Value: 1}))

	entity, ok := m.FindByID("a")
	require.True(t, ok)
	assert.Equal(t, 1, entity.(*record).Value)

	// Save replaces.
	require.NoError(t, m.Save("a", &record{ID: "a", Value: 2}))
	entity, _ = m.FindByID("a")
	assert.Equal(t, 2, entity.(*record).Value)

	_, ok = m.FindByID("missing")
	assert.False(t, ok)
}

func TestFindByAndCountBy(t *testing.T) {
	m := NewMemory()
	for i := 0; i < 10; i++ {
		require.NoError(t, m.Save(fmt.Sprintf("r%d", i), &record{Value: i}))
	}

	even := func(e interface{}) bool { return e.(*record).Value%2 == 0 }
	assert.Len(t, m.FindBy(even), 5)
	assert.Equal(t, int64(5), m.CountBy(even))
	assert.Len(t, m.FindBy(nil), 10)
	assert.Equal(t, int64(10), m.CountBy(nil))
}

func TestBatchDelete(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Save("a", &record{}))
	require.NoError(t, m.Save("b", &record{}))

	deleted := m.BatchDelete([]string{"a", "b", "ghost"})
	assert.Equal(t, 2, deleted)
	assert.Equal(t, int64(0), m.CountBy(nil))
}
