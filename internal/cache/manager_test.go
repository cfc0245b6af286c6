package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withClock lets a test control nowUnix deterministically instead of
// sleeping between writes to produce distinct last_reference_time values.
func withClock(t *testing.T, seq ...int64) {
	t.Helper()
	i := 0
	orig := nowUnix
	nowUnix = func() int64 {
		if i < len(seq) {
			v := seq[i]
			i++
			return v
		}
		return seq[len(seq)-1]
	}
	t.Cleanup(func() { nowUnix = orig })
}

func TestCreateAndGetReadHandle(t *testing.T) {
	m := NewManager(1000, 10, 100)

	require.NoError(t, m.Create("k", 50))

	h, ok := m.GetReadHandle("k")
	require.True(t, ok)
	assert.Equal(t, 50, h.Size())
	assert.Equal(t, 0, h.Used())
	m.ReleaseReadHandle(h)
}

func TestCreateMemoryLimitExceeded(t *testing.T) {
	m := NewManager(50, 10, 100)

	require.NoError(t, m.Create("a", 40))
	err := m.Create("b", 60)
	assert.ErrorIs(t, err, ErrMemoryLimitExceeded)
}

func TestCreateRefusesEvictionWhenPinned(t *testing.T) {
	m := NewManager(100, 10, 100)

	require.NoError(t, m.Create("a", 50))
	h, ok := m.GetReadHandle("a") // pins "a"
	require.True(t, ok)

	err := m.Create("b", 60)
	assert.ErrorIs(t, err, ErrMemoryLimitExceeded)

	m.ReleaseReadHandle(h)
}

func TestEvictionScenario4(t *testing.T) {
	m := NewManager(1000, 2, 100)

	require.NoError(t, m.Create("a", 50))
	require.NoError(t, m.Create("b", 50))

	ha, ok := m.GetReadHandle("a") // pin a
	require.True(t, ok)

	hb, ok := m.GetReadHandle("b")
	require.True(t, ok)
	m.ReleaseReadHandle(hb) // unpin b

	require.NoError(t, m.Create("c", 50)) // evicts b (only unreferenced entry)

	_, ok = m.GetReadHandle("b")
	assert.False(t, ok)

	_, ok = m.GetReadHandle("c")
	assert.True(t, ok)

	m.ReleaseReadHandle(ha)
}

func TestEvictionFairnessByLastReferenceTime(t *testing.T) {
	withClock(t, 1, 2, 3, 4, 5, 6)

	m := NewManager(1000, 10, 100)
	require.NoError(t, m.Create("old", 10))  // lastRef=1
	require.NoError(t, m.Create("newer", 10)) // lastRef=2

	// both unreferenced; evicting one by count should take "old" first.
	ok := m.evictCount(1)
	require.True(t, ok)

	_, ok = m.GetReadHandle("old")
	assert.False(t, ok)
	h, ok := m.GetReadHandle("newer")
	assert.True(t, ok)
	m.ReleaseReadHandle(h)
}

func TestCreateDuplicateKeyRejected(t *testing.T) {
	m := NewManager(1000, 10, 100)
	require.NoError(t, m.Create("k", 10))
	assert.ErrorIs(t, m.Create("k", 10), ErrDuplicateKey)
}

func TestCreateBufferSizeLimit(t *testing.T) {
	m := NewManager(1000, 10, 100)
	assert.ErrorIs(t, m.Create("k", 200), ErrBufferSizeLimit)
}

func TestRoundTripWriteThenRead(t *testing.T) {
	m := NewManager(1000, 10, 100)
	require.NoError(t, m.Create("p", 11))

	wh, ok := m.GetWriteHandle("p")
	require.True(t, ok)

	wh.Lock()
	n := copy(wh.Buffer(), []byte("hello world"))
	wh.SetUsed(n)
	wh.Unlock()
	m.ReleaseWriteHandle(wh)

	rh, ok := m.GetReadHandle("p")
	require.True(t, ok)
	rh.RLock()
	assert.Equal(t, "hello world", string(rh.Bytes()))
	rh.RUnlock()
	m.ReleaseReadHandle(rh)
}

func TestDestroyRefusesWhileReferenced(t *testing.T) {
	m := NewManager(1000, 10, 100)
	require.NoError(t, m.Create("k", 10))

	h, ok := m.GetReadHandle("k")
	require.True(t, ok)

	assert.ErrorIs(t, m.Destroy(), ErrBuffersReferenced)

	m.ReleaseReadHandle(h)
	assert.NoError(t, m.Destroy())
}

func TestDeleteRemovesEmptyFailedFill(t *testing.T) {
	m := NewManager(1000, 10, 100)
	require.NoError(t, m.Create("k", 10))

	require.NoError(t, m.Delete("k"))
	_, ok := m.GetReadHandle("k")
	assert.False(t, ok)
}
