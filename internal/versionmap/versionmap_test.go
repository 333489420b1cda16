package versionmap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertAbsentStartsAtVersionZero(t *testing.T) {
	m := New()
	v, err := m.Insert(42)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), v)
	assert.True(t, m.IsAlive(42))
}

func TestInsertDuplicateIsError(t *testing.T) {
	m := New()
	_, err := m.Insert(1)
	require.NoError(t, err)
	_, err = m.Insert(1)
	assert.Error(t, err)
}

func TestRemoveBumpsVersionAndClearsAlive(t *testing.T) {
	m := New()
	_, err := m.Insert(7)
	require.NoError(t, err)
	require.NoError(t, m.Remove(7))
	assert.False(t, m.IsAlive(7))

	v, ok := m.CurrentVersion(7)
	require.True(t, ok)
	assert.Equal(t, uint16(1), v)
}

func TestRemoveAbsentTombstones(t *testing.T) {
	m := New()
	require.NoError(t, m.Remove(99))
	assert.False(t, m.IsAlive(99))
	v, ok := m.CurrentVersion(99)
	require.True(t, ok)
	assert.Equal(t, uint16(1), v)
}

func TestReinsertAfterRemovePreservesBumpedVersion(t *testing.T) {
	m := New()
	_, err := m.Insert(3)
	require.NoError(t, err)
	require.NoError(t, m.Remove(3))

	v, err := m.Insert(3)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), v)
	assert.True(t, m.IsAlive(3))
}

func TestFilterRejectsStaleVersion(t *testing.T) {
	m := New()
	_, err := m.Insert(5)
	require.NoError(t, err)
	require.NoError(t, m.Remove(5))
	_, err = m.Insert(5)
	require.NoError(t, err)

	_, ok := m.Filter(5, 0)
	assert.False(t, ok, "stale version from before the delete must not match")

	p, ok := m.Filter(5, 1)
	assert.True(t, ok)
	assert.Equal(t, uint64(5), p)
}

func TestFilterUnknownPointer(t *testing.T) {
	m := New()
	_, ok := m.Filter(123, 0)
	assert.False(t, ok)
}

func TestConcurrentInsertDifferentShards(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for p := uint64(0); p < 256; p++ {
		wg.Add(1)
		go func(p uint64) {
			defer wg.Done()
			_, _ = m.Insert(p)
		}(p)
	}
	wg.Wait()
	assert.Equal(t, 256, m.Len())
}
