package arena

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carved4/go-ldr/pkg/errors"
)

const testReservation = 1 << 20

func newTestArena(t *testing.T) *Arena {
	t.Helper()
	a, err := New(testReservation, ReadWrite)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Release() })
	return a
}

func addr(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

func checkInvariant(t *testing.T, a *Arena) {
	t.Helper()
	assert.LessOrEqual(t, a.Next(), a.Committed())
	assert.LessOrEqual(t, a.Committed(), a.Reserved())
}

func TestNewCommitsNothing(t *testing.T) {
	a := newTestArena(t)
	assert.Equal(t, 0, a.Committed())
	assert.Equal(t, 0, a.Next())
	assert.Equal(t, testReservation, a.Reserved())
}

func TestAllocDoesNotOverlap(t *testing.T) {
	a := newTestArena(t)

	sizes := []int{1, 7, 64, 4096, 3, 10000, 12}
	type span struct{ lo, hi uintptr }
	var spans []span

	for _, n := range sizes {
		b, err := a.Alloc(n)
		require.NoError(t, err)
		require.Len(t, b, n)
		checkInvariant(t, a)

		for i := range b {
			assert.Zero(t, b[i])
			b[i] = 0xAA
		}

		s := span{addr(b), addr(b) + uintptr(n)}
		for _, o := range spans {
			assert.True(t, s.hi <= o.lo || s.lo >= o.hi, "overlapping allocations")
		}
		spans = append(spans, s)
	}
}

func TestCommitGrowsGeometrically(t *testing.T) {
	a := newTestArena(t)

	_, err := a.Alloc(1)
	require.NoError(t, err)
	first := a.Committed()
	assert.Equal(t, PageSize, first)

	_, err = a.Alloc(first)
	require.NoError(t, err)
	assert.Equal(t, 2*first, a.Committed())

	_, err = a.Alloc(8 * first)
	require.NoError(t, err)
	assert.Equal(t, Align(a.Next(), PageSize), a.Committed())
	checkInvariant(t, a)
}

func TestAllocBeyondReservationFails(t *testing.T) {
	a := newTestArena(t)

	_, err := a.Alloc(testReservation + 1)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrAllocation))
	assert.Equal(t, 0, a.Next())

	b, err := a.Alloc(testReservation)
	require.NoError(t, err)
	assert.Len(t, b, testReservation)
	checkInvariant(t, a)

	_, err = a.Alloc(1)
	assert.True(t, errors.IsCode(err, errors.ErrAllocation))
}

func TestAllocAligned(t *testing.T) {
	a := newTestArena(t)

	_, err := a.Alloc(3)
	require.NoError(t, err)
	b, err := a.AllocAligned(100, 4096)
	require.NoError(t, err)
	assert.Equal(t, uintptr(0), (addr(b)-addr(a.mem))%4096)
	assert.Equal(t, 4096+100, a.Next())
}

func TestReallocInPlace(t *testing.T) {
	a := newTestArena(t)

	b, err := a.Alloc(16)
	require.NoError(t, err)
	copy(b, "0123456789abcdef")

	grown, err := a.Realloc(b, 64)
	require.NoError(t, err)
	assert.Equal(t, addr(b), addr(grown))
	assert.Equal(t, "0123456789abcdef", string(grown[:16]))
	assert.Equal(t, 64, a.Next())
	checkInvariant(t, a)
}

func TestReallocCopiesOlderBlock(t *testing.T) {
	a := newTestArena(t)

	first, err := a.Alloc(8)
	require.NoError(t, err)
	copy(first, "abcdefgh")
	_, err = a.Alloc(8)
	require.NoError(t, err)

	moved, err := a.Realloc(first, 32)
	require.NoError(t, err)
	assert.NotEqual(t, addr(first), addr(moved))
	assert.Equal(t, "abcdefgh", string(moved[:8]))
	assert.Equal(t, 48, a.Next())
}

func TestReallocShrinkAndEmpty(t *testing.T) {
	a := newTestArena(t)

	b, err := a.Alloc(32)
	require.NoError(t, err)
	same, err := a.Realloc(b, 8)
	require.NoError(t, err)
	assert.Equal(t, addr(b), addr(same))
	assert.Len(t, same, 32)

	fresh, err := a.Realloc(nil, 4)
	require.NoError(t, err)
	assert.Len(t, fresh, 4)
	assert.Equal(t, 36, a.Next())
}

func TestReleaseRunsCleanupInOrder(t *testing.T) {
	a, err := New(testReservation, ReadWrite)
	require.NoError(t, err)

	block, err := a.Alloc(4)
	require.NoError(t, err)
	copy(block, "live")

	var log []int
	var seen string
	for i := 0; i < 5; i++ {
		require.NoError(t, a.AddCleanupTask(func(arg any) {
			log = append(log, arg.(int))
		}, i))
	}
	require.NoError(t, a.AddCleanupTask(func(any) {
		seen = string(block)
	}, nil))

	require.NoError(t, a.Release())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, log)
	assert.Equal(t, "live", seen)

	require.NoError(t, a.Release())
	assert.Len(t, log, 5)

	_, err = a.Alloc(1)
	assert.True(t, errors.IsCode(err, errors.ErrReleased))
	assert.True(t, errors.IsCode(a.AddCleanupTask(func(any) {}, nil), errors.ErrReleased))
}

func TestAlign(t *testing.T) {
	assert.Equal(t, 0, Align(0, 16))
	assert.Equal(t, 16, Align(1, 16))
	assert.Equal(t, uint32(0x2000), Align(uint32(0x1001), 0x1000))
}
