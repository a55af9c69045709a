package pagemanager

import (
	"sync"
	"sync/atomic"

	flushmanager "github.com/matthewmarion/buffer-manager/core/storage_engine/flush_manager"
)

// Frame is an in-memory slot holding one page at a time together with its
// buffering metadata. Frames are allocated once by the buffer pool and
// repurposed across residencies; a handle returned by Fix stays valid until
// the matching Unfix because the pin count keeps the slot from being
// repurposed underneath it.
//
// The latch protects the page bytes. pinCount, dirty and id are protected by
// the buffer pool's own mutex, not by the latch.
type Frame struct {
	id       PageID
	data     []byte
	pinCount int
	dirty    bool

	latch sync.RWMutex
	// Mode of the current latch holder(s). All concurrent holders of an
	// RWMutex share one mode, so a single flag is enough to pick the matching
	// unlock in Release. Atomic because shared acquirers store it without
	// holding the pool mutex.
	exclusive atomic.Bool
}

// NewFrame allocates a frame slot of the given page size holding no page.
func NewFrame(pageSize int) *Frame {
	return &Frame{
		id:   InvalidPageID,
		data: make([]byte, pageSize),
	}
}

// Acquire blocks until the frame latch grants access in the requested mode.
// Called exactly once per fix, and by the pool while loading or flushing.
func (f *Frame) Acquire(exclusive bool) {
	if exclusive {
		f.latch.Lock()
	} else {
		f.latch.RLock()
	}
	f.exclusive.Store(exclusive)
}

// Release releases the held latch. A true markDirty marks the frame dirty;
// dirtiness is monotonic within a residency and is only cleared by a
// successful write-back.
func (f *Frame) Release(markDirty bool) {
	if markDirty {
		f.dirty = true
	}
	if f.exclusive.Load() {
		f.latch.Unlock()
	} else {
		f.latch.RUnlock()
	}
}

// ReadFromDisk fills the frame's bytes from the backing segment file. The
// caller must hold the latch exclusively so no reader can observe a
// half-loaded page.
func (f *Frame) ReadFromDisk(files flushmanager.SegmentStore) error {
	seg, err := files.Segment(f.id.SegmentID())
	if err != nil {
		return err
	}
	offset := int64(f.id.LocalID()) * int64(len(f.data))
	return seg.ReadBlock(offset, f.data)
}

// WriteToDisk writes the frame's bytes back to the backing segment file. The
// caller must hold the latch exclusively.
func (f *Frame) WriteToDisk(files flushmanager.SegmentStore) error {
	seg, err := files.Segment(f.id.SegmentID())
	if err != nil {
		return err
	}
	offset := int64(f.id.LocalID()) * int64(len(f.data))
	return seg.WriteBlock(f.data, offset)
}

// Data returns the frame's page bytes, exactly page-size long. Only valid
// between a Fix and its matching Unfix.
func (f *Frame) Data() []byte { return f.data }

// PageID returns the identity the frame currently carries.
func (f *Frame) PageID() PageID { return f.id }

// SetPageID rebinds the frame to a new identity. Pool mutex must be held.
func (f *Frame) SetPageID(id PageID) { f.id = id }

// IsDirty reports whether the bytes differ from disk since the last load or
// write-back. Pool mutex must be held.
func (f *Frame) IsDirty() bool { return f.dirty }

// SetDirty overrides the dirty flag after a write-back. Pool mutex must be held.
func (f *Frame) SetDirty(dirty bool) { f.dirty = dirty }

// Pin increments the pin count. Pool mutex must be held.
func (f *Frame) Pin() { f.pinCount++ }

// Unpin decrements the pin count. Pool mutex must be held; the pool checks
// for underflow before calling.
func (f *Frame) Unpin() {
	if f.pinCount > 0 {
		f.pinCount--
	}
}

// PinCount returns the number of outstanding fixes. Pool mutex must be held.
func (f *Frame) PinCount() int { return f.pinCount }

// Reset clears the frame for a new residency: identity, pin count and dirty
// flag are dropped and the bytes are zeroed so a short read cannot leak the
// previous page's contents. Pool mutex must be held and the slot must be
// unreachable (pin count zero, no map entry).
func (f *Frame) Reset() {
	f.id = InvalidPageID
	f.pinCount = 0
	f.dirty = false
	for i := range f.data {
		f.data[i] = 0
	}
}
