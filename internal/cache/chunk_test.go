package cache

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-malhotra/go-h5io/internal/primes"
)

type recorder struct {
	written map[uint64][]byte
	calls   int
	fail    error
}

func newRecorder() *recorder { return &recorder{written: make(map[uint64][]byte)} }

func (r *recorder) writeBack(index uint64, data []byte) error {
	if r.fail != nil {
		return r.fail
	}
	r.calls++
	r.written[index] = append([]byte(nil), data...)
	return nil
}

func TestSlots(t *testing.T) {
	// 16 MiB of 1 MiB chunks: 16 fit, 1600 slots wanted.
	assert.Equal(t, primes.NextPrimeAtLeast(1600), Slots(16<<20, 1<<20))
	assert.Equal(t, uint32(1601), Slots(16<<20, 1<<20))

	// Chunks bigger than the cache still get one chunk's worth of slots.
	assert.Equal(t, uint32(101), Slots(1<<20, 4<<20))
	assert.Equal(t, uint32(101), Slots(1<<20, 0))

	// Tiny chunks exhaust the prime table.
	assert.Equal(t, primes.Largest(), Slots(16<<20, 8))
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.ErrorIs(t, Config{Bytes: 1, Slots: 0}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, Config{Bytes: 1, Slots: 7, W0: 1.5}.Validate(), ErrInvalidConfig)

	_, err := New(Config{}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestGetPut(t *testing.T) {
	c, err := New(Config{Bytes: 1024, Slots: 101}, nil)
	require.NoError(t, err)

	_, ok := c.Get(3)
	assert.False(t, ok)

	require.NoError(t, c.Put(3, []byte("abc"), false))
	got, ok := c.Get(3)
	require.True(t, ok)
	assert.Equal(t, []byte("abc"), got)

	require.NoError(t, c.Put(3, []byte("abcdef"), false))
	assert.Equal(t, uint64(6), c.Used())
	assert.Equal(t, 1, c.Len())

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestPutTooLarge(t *testing.T) {
	c, err := New(Config{Bytes: 8, Slots: 7}, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, c.Put(0, make([]byte, 9), false), ErrTooLarge)
	assert.Equal(t, 0, c.Len())
}

func TestSlotCollisionEvictsAndWritesBack(t *testing.T) {
	rec := newRecorder()
	c, err := New(Config{Bytes: 1024, Slots: 1}, rec.writeBack)
	require.NoError(t, err)

	require.NoError(t, c.Put(1, []byte("one"), true))
	require.NoError(t, c.Put(2, []byte("two"), false))

	_, ok := c.Get(1)
	assert.False(t, ok, "colliding chunk should be evicted")
	assert.Equal(t, []byte("one"), rec.written[1])
	assert.Equal(t, uint64(1), c.Stats().Collisions)
	assert.Equal(t, 1, c.Len())
}

func TestBudgetEvictsLeastRecentlyUsed(t *testing.T) {
	rec := newRecorder()
	c, err := New(Config{Bytes: 30, Slots: 10007}, rec.writeBack)
	require.NoError(t, err)

	require.NoError(t, c.Put(1, make([]byte, 10), false))
	require.NoError(t, c.Put(2, make([]byte, 10), true))
	require.NoError(t, c.Put(3, make([]byte, 10), false))
	_, _ = c.Get(1) // 2 is now the oldest

	require.NoError(t, c.Put(4, make([]byte, 10), false))

	_, ok := c.Get(2)
	assert.False(t, ok)
	assert.Contains(t, rec.written, uint64(2))
	assert.Equal(t, uint64(30), c.Used())
}

func TestW0PrefersFullyUsedChunks(t *testing.T) {
	c, err := New(Config{Bytes: 30, Slots: 10007, W0: 1}, nil)
	require.NoError(t, err)

	require.NoError(t, c.Put(1, make([]byte, 10), false))
	require.NoError(t, c.Put(2, make([]byte, 10), false))
	require.NoError(t, c.Put(3, make([]byte, 10), false))
	c.MarkFull(2)

	require.NoError(t, c.Put(4, make([]byte, 10), false))

	_, ok := c.Get(2)
	assert.False(t, ok, "fully read chunk should be preempted first")
	_, ok = c.Get(1)
	assert.True(t, ok)
}

func TestFlushWritesDirtyOnce(t *testing.T) {
	rec := newRecorder()
	c, err := New(DefaultConfig(), rec.writeBack)
	require.NoError(t, err)

	require.NoError(t, c.Put(1, []byte("a"), false))
	require.NoError(t, c.Put(2, []byte("b"), false))
	c.MarkDirty(2, true)

	require.NoError(t, c.Flush())
	require.NoError(t, c.Flush())
	assert.Equal(t, 1, rec.calls)
	assert.Equal(t, []byte("b"), rec.written[2])

	require.NoError(t, c.Purge())
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, uint64(0), c.Used())
}

func TestPurgeKeepsEntriesWhenWriteBackFails(t *testing.T) {
	rec := newRecorder()
	rec.fail = errors.New("disk full")
	c, err := New(DefaultConfig(), rec.writeBack)
	require.NoError(t, err)

	require.NoError(t, c.Put(5, []byte("x"), true))
	assert.Error(t, c.Purge())
	assert.Equal(t, 1, c.Len())
}
