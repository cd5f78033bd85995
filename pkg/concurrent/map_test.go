package concurrent

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMap_LoadStoreDelete(t *testing.T) {
	m := NewMap[string, int]()

	m.Store("a", 1)
	m.Store("b", 2)

	v, ok := m.Load("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = m.LoadAndDelete("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = m.Load("a")
	assert.False(t, ok)

	m.Delete("b")
	assert.Equal(t, 0, m.Length())
}

func TestMap_LoadOrStore(t *testing.T) {
	m := NewMap[string, int]()

	v, loaded := m.LoadOrStore("k", func() int { return 7 })
	assert.False(t, loaded)
	assert.Equal(t, 7, v)

	v, loaded = m.LoadOrStore("k", func() int { return 9 })
	assert.True(t, loaded)
	assert.Equal(t, 7, v)
}

func TestMap_RangeIsOrdered(t *testing.T) {
	m := NewMap[string, int]()
	m.Store("c", 3)
	m.Store("a", 1)
	m.Store("b", 2)

	var keys []string
	m.Range(func(k string, _ int) bool {
		keys = append(keys, k)
		return k != "b"
	})

	assert.Equal(t, []string{"a", "b"}, keys)
	assert.Equal(t, []string{"a", "b", "c"}, m.Keys())
}

func TestMap_ConcurrentAccess(t *testing.T) {
	m := NewMap[int, int]()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Go(func() {
			m.Store(i, i*i)
			_, _ = m.Load(i)
		})
	}
	wg.Wait()

	assert.Equal(t, 50, m.Length())
}
