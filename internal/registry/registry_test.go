package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBaseRegistry_RegisterGet(t *testing.T) {
	r := NewBaseRegistry[int]()
	require.NoError(t, r.Register("a", 1))
	v, ok := r.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)
}

func TestBaseRegistry_DuplicateRegister(t *testing.T) {
	r := NewBaseRegistry[string]()
	require.NoError(t, r.Register("x", "one"))
	err := r.Register("x", "two")
	require.Error(t, err)
}

func TestBaseRegistry_EmptyName(t *testing.T) {
	r := NewBaseRegistry[string]()
	require.Error(t, r.Register("", "v"))
}

func TestBaseRegistry_RemoveAndCount(t *testing.T) {
	r := NewBaseRegistry[string]()
	require.NoError(t, r.Register("a", "1"))
	require.NoError(t, r.Register("b", "2"))
	require.Equal(t, 2, r.Count())
	require.True(t, r.Remove("a"))
	require.False(t, r.Remove("a"))
	require.Equal(t, 1, r.Count())
}

func TestBaseRegistry_ConcurrentAccess(t *testing.T) {
	r := NewBaseRegistry[int]()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = r.Register(string(rune('a'+n%26))+string(rune(n)), n)
			r.List()
			r.Count()
		}(i)
	}
	wg.Wait()
}

func TestBaseRegistry_Clear(t *testing.T) {
	r := NewBaseRegistry[int]()
	require.NoError(t, r.Register("a", 1))
	r.Clear()
	require.Equal(t, 0, r.Count())
}
