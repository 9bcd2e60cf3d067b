package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := New[int]()
	require.NoError(t, r.Register("a", 1))
	v, ok := r.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)
}

func TestRegistryDuplicateRejected(t *testing.T) {
	r := New[int]()
	require.NoError(t, r.Register("a", 1))
	require.Error(t, r.Register("a", 2))
}

func TestRegistryEmptyNameRejected(t *testing.T) {
	r := New[int]()
	require.Error(t, r.Register("", 1))
}

func TestRegistryRemove(t *testing.T) {
	r := New[int]()
	require.NoError(t, r.Register("a", 1))
	require.NoError(t, r.Remove("a"))
	require.Error(t, r.Remove("a"))
}

func TestRegistryListCountClear(t *testing.T) {
	r := New[int]()
	require.NoError(t, r.Register("a", 1))
	require.NoError(t, r.Register("b", 2))
	require.Equal(t, 2, r.Count())
	require.Len(t, r.List(), 2)
	require.ElementsMatch(t, []string{"a", "b"}, r.Names())

	r.Clear()
	require.Equal(t, 0, r.Count())
}
