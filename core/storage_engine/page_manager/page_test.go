package pagemanager

import (
	"sync"
	"testing"

	flushmanager "github.com/matthewmarion/buffer-manager/core/storage_engine/flush_manager"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPageIDDecomposition(t *testing.T) {
	id := NewPageID(7, 42)
	require.Equal(t, uint16(7), id.SegmentID())
	require.Equal(t, uint64(42), id.LocalID())

	// The decompositions are total over the 64-bit domain.
	all := PageID(^uint64(0))
	require.Equal(t, uint16(0xFFFF), all.SegmentID())
	require.Equal(t, uint64(1)<<48-1, all.LocalID())

	zero := PageID(0)
	require.Equal(t, uint16(0), zero.SegmentID())
	require.Equal(t, uint64(0), zero.LocalID())
}

func TestPageIDComposeRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		segment uint16
		local   uint64
	}{
		{0, 0},
		{1, 1},
		{0xFFFF, (uint64(1) << 48) - 1},
		{12, 1 << 47},
	} {
		id := NewPageID(tc.segment, tc.local)
		require.Equal(t, tc.segment, id.SegmentID())
		require.Equal(t, tc.local, id.LocalID())
	}
}

func TestFrameSharedAcquireAllowsConcurrentReaders(t *testing.T) {
	f := NewFrame(16)

	f.Acquire(false)
	done := make(chan struct{})
	go func() {
		f.Acquire(false) // must not block behind the first shared holder
		f.Release(false)
		close(done)
	}()
	<-done
	f.Release(false)
}

func TestFrameExclusiveAcquireBlocksSecondWriter(t *testing.T) {
	f := NewFrame(16)

	f.Acquire(true)
	var order []string
	var mu sync.Mutex
	done := make(chan struct{})
	go func() {
		f.Acquire(true)
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
		f.Release(false)
		close(done)
	}()

	mu.Lock()
	order = append(order, "first")
	mu.Unlock()
	f.Release(false)
	<-done

	require.Equal(t, []string{"first", "second"}, order)
}

func TestFrameDirtyIsMonotonic(t *testing.T) {
	f := NewFrame(16)

	f.Acquire(true)
	f.Release(true)
	require.True(t, f.IsDirty())

	// A clean release never clears an earlier dirty mark.
	f.Acquire(false)
	f.Release(false)
	require.True(t, f.IsDirty())
}

func TestFrameDiskRoundTrip(t *testing.T) {
	files, err := flushmanager.NewSegmentManager(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	defer files.Close()

	const pageSize = 16
	id := NewPageID(3, 5)

	src := NewFrame(pageSize)
	src.SetPageID(id)
	copy(src.Data(), []byte("hello, segments!"))
	src.Acquire(true)
	require.NoError(t, src.WriteToDisk(files))
	src.Release(false)

	dst := NewFrame(pageSize)
	dst.SetPageID(id)
	dst.Acquire(true)
	require.NoError(t, dst.ReadFromDisk(files))
	dst.Release(false)

	require.Equal(t, src.Data(), dst.Data())
}

func TestFrameReadOfUnwrittenPageIsZero(t *testing.T) {
	files, err := flushmanager.NewSegmentManager(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	defer files.Close()

	f := NewFrame(16)
	f.SetPageID(NewPageID(0, 99))
	f.Acquire(true)
	require.NoError(t, f.ReadFromDisk(files))
	f.Release(false)

	require.Equal(t, make([]byte, 16), f.Data())
}

func TestFrameReset(t *testing.T) {
	f := NewFrame(8)
	f.SetPageID(NewPageID(1, 2))
	f.Pin()
	copy(f.Data(), []byte("junkdata"))
	f.Acquire(true)
	f.Release(true)

	f.Reset()
	require.Equal(t, InvalidPageID, f.PageID())
	require.Equal(t, 0, f.PinCount())
	require.False(t, f.IsDirty())
	require.Equal(t, make([]byte, 8), f.Data())
}
