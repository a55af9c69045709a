// Package bufferpool mediates between a fixed pool of in-memory page frames
// and the per-segment files behind them. Callers pin pages with Fix, read or
// mutate the bytes under the frame latch, and release with Unfix; the pool
// keeps hot pages resident under a two-queue replacement policy and writes
// dirty pages back at eviction and at shutdown.
package bufferpool

import (
	"fmt"
	"sync"

	flushmanager "github.com/matthewmarion/buffer-manager/core/storage_engine/flush_manager"
	pagemanager "github.com/matthewmarion/buffer-manager/core/storage_engine/page_manager"
	"github.com/matthewmarion/buffer-manager/core/storage_engine/replacement"
	"github.com/matthewmarion/buffer-manager/pkg/logger"
	"go.uber.org/zap"
)

// BufferPoolManager owns a fixed array of frame slots, the map from page id
// to slot, and the replacement queues.
//
// Lock discipline: the pool mutex protects the page table, the queues, the
// free-slot list and every frame's pin count and dirty flag. Frame latches
// are acquired either after the pool mutex is released (user access) or,
// while it is held, only on frames that are provably uncontended (a freshly
// claimed slot, or a victim with pin count zero). A goroutine holding a frame
// latch never blocks on the pool mutex while a pool-mutex holder blocks on
// that latch, so the two layers cannot deadlock.
type BufferPoolManager struct {
	pageSize  int
	pageCount int

	mu        sync.Mutex
	frames    []*pagemanager.Frame
	pageTable map[pagemanager.PageID]int
	freeSlots []int
	replacer  *replacement.TwoQueue
	closed    bool

	files   flushmanager.SegmentStore
	log     *zap.Logger
	metrics *Metrics
}

// NewBufferPoolManager creates a pool of pageCount frame slots of pageSize
// bytes each, backed by the given segment manager. The logger and metrics may
// be nil.
func NewBufferPoolManager(pageSize, pageCount int, files flushmanager.SegmentStore, log *zap.Logger, metrics *Metrics) (*BufferPoolManager, error) {
	if pageSize < 1 {
		return nil, fmt.Errorf("page size must be at least 1, got %d", pageSize)
	}
	if pageCount < 1 {
		return nil, fmt.Errorf("page count must be at least 1, got %d", pageCount)
	}
	if files == nil {
		return nil, fmt.Errorf("segment manager must not be nil")
	}
	if log == nil {
		log = zap.NewNop()
	}

	bpm := &BufferPoolManager{
		pageSize:  pageSize,
		pageCount: pageCount,
		frames:    make([]*pagemanager.Frame, pageCount),
		pageTable: make(map[pagemanager.PageID]int, pageCount),
		freeSlots: make([]int, 0, pageCount),
		replacer:  replacement.NewTwoQueue(),
		files:     files,
		log:       log,
		metrics:   metrics,
	}
	for i := range bpm.frames {
		bpm.frames[i] = pagemanager.NewFrame(pageSize)
		bpm.freeSlots = append(bpm.freeSlots, i)
	}
	log.Info("buffer pool initialized",
		zap.Int("page_size", pageSize),
		zap.Int("page_count", pageCount))
	return bpm, nil
}

// Fix pins the page and returns its frame with the latch held in the
// requested mode. On a miss the page is loaded from its segment file, after
// evicting a victim when the pool is full. Fails with ErrBufferPoolFull when
// every resident frame is pinned, leaving the pool state as before the call.
// Fails with a wrapped I/O error when the load fails; the new page's table
// entry and queue place are then removed again, but a victim evicted to make
// room for it stays evicted.
func (bpm *BufferPoolManager) Fix(pageID pagemanager.PageID, exclusive bool) (*pagemanager.Frame, error) {
	for {
		bpm.mu.Lock()
		if bpm.closed {
			bpm.mu.Unlock()
			return nil, flushmanager.ErrPoolClosed
		}

		if slot, ok := bpm.pageTable[pageID]; ok {
			frame := bpm.frames[slot]
			frame.Pin()
			bpm.replacer.Touch(pageID)
			bpm.mu.Unlock()

			frame.Acquire(exclusive)
			if frame.PageID() == pageID {
				bpm.metrics.Hit()
				return frame, nil
			}
			// The load that published this frame failed after we pinned it
			// and the entry was rolled back. Undo our pin and start over.
			frame.Release(false)
			bpm.abandonPin(frame, slot)
			continue
		}

		frame, slot, err := bpm.claimSlot(pageID)
		if err != nil {
			bpm.mu.Unlock()
			return nil, err
		}

		frame.Reset()
		frame.SetPageID(pageID)
		frame.Pin()
		bpm.pageTable[pageID] = slot
		bpm.replacer.Admit(pageID)
		bpm.metrics.ResidentAdd(1)

		// Latch the frame exclusively before dropping the pool mutex: the
		// entry is now visible in the page table, but no concurrent fixer can
		// observe the bytes until the load below completes and the latch is
		// released or kept by us. The latch is uncontended here.
		frame.Acquire(true)
		bpm.mu.Unlock()

		if err := frame.ReadFromDisk(bpm.files); err != nil {
			bpm.rollbackLoad(frame, pageID, slot)
			bpm.log.Error("page load failed",
				logger.PageID(uint64(pageID)),
				logger.Segment(pageID.SegmentID()),
				zap.Error(err))
			return nil, fmt.Errorf("loading page %d: %w", pageID, err)
		}
		bpm.metrics.Miss()

		if !exclusive {
			// No latch downgrade on sync.RWMutex: the bytes are fully loaded,
			// so dropping to a fresh shared hold is safe. Another fixer may
			// win the latch in between, which the latch contract permits.
			frame.Release(false)
			frame.Acquire(false)
		}
		return frame, nil
	}
}

// claimSlot returns a frame slot for a new residency, evicting a victim if
// the pool is full. Pool mutex must be held. On failure the pool state is
// unchanged.
func (bpm *BufferPoolManager) claimSlot(pageID pagemanager.PageID) (*pagemanager.Frame, int, error) {
	if n := len(bpm.freeSlots); n > 0 {
		slot := bpm.freeSlots[n-1]
		bpm.freeSlots = bpm.freeSlots[:n-1]
		return bpm.frames[slot], slot, nil
	}

	victimID, ok := bpm.replacer.Victim(func(id pagemanager.PageID) bool {
		return bpm.frames[bpm.pageTable[id]].PinCount() == 0
	})
	if !ok {
		bpm.metrics.BufferFull()
		bpm.log.Warn("no evictable frame",
			logger.PageID(uint64(pageID)),
			zap.Int("resident", len(bpm.pageTable)))
		return nil, 0, flushmanager.ErrBufferPoolFull
	}

	slot := bpm.pageTable[victimID]
	victim := bpm.frames[slot]

	if victim.IsDirty() {
		// The victim has pin count zero, so its latch is free and no fixer
		// can reach it while we hold the pool mutex. The write-back must
		// finish before the slot changes identity.
		victim.Acquire(true)
		err := victim.WriteToDisk(bpm.files)
		victim.Release(false)
		if err != nil {
			bpm.log.Error("victim write-back failed",
				logger.PageID(uint64(victimID)),
				zap.Error(err))
			return nil, 0, fmt.Errorf("flushing victim page %d: %w", victimID, err)
		}
		victim.SetDirty(false)
		bpm.metrics.WriteBack()
	}

	bpm.replacer.Remove(victimID)
	delete(bpm.pageTable, victimID)
	bpm.metrics.Eviction()
	bpm.metrics.ResidentAdd(-1)
	bpm.log.Debug("evicted page",
		zap.Uint64("victim", uint64(victimID)),
		zap.Uint64("for", uint64(pageID)))
	return victim, slot, nil
}

// rollbackLoad undoes the page-table and queue insertion of a failed load so
// the invariants hold when Fix returns the error. Concurrent fixers that
// already pinned the frame find its identity cleared after the latch drops
// and retry; the last pin to go returns the slot to the free list.
func (bpm *BufferPoolManager) rollbackLoad(frame *pagemanager.Frame, pageID pagemanager.PageID, slot int) {
	bpm.mu.Lock()
	bpm.replacer.Remove(pageID)
	delete(bpm.pageTable, pageID)
	bpm.metrics.ResidentAdd(-1)
	frame.SetPageID(pagemanager.InvalidPageID)
	frame.SetDirty(false)
	frame.Unpin()
	if frame.PinCount() == 0 {
		bpm.freeSlots = append(bpm.freeSlots, slot)
	}
	frame.Release(false)
	bpm.mu.Unlock()
}

// abandonPin drops a pin taken on a frame whose load was rolled back while
// the caller waited for its latch.
func (bpm *BufferPoolManager) abandonPin(frame *pagemanager.Frame, slot int) {
	bpm.mu.Lock()
	frame.Unpin()
	if frame.PinCount() == 0 && frame.PageID() == pagemanager.InvalidPageID {
		bpm.freeSlots = append(bpm.freeSlots, slot)
	}
	bpm.mu.Unlock()
}

// Unfix releases one fix: the pin count drops, markDirty merges into the
// dirty flag, the LRU position refreshes if the page lives there, and the
// frame latch is released. Unfixing a frame with no outstanding pin, or one
// that does not belong to this pool, fails with ErrInvalidUnfix.
func (bpm *BufferPoolManager) Unfix(frame *pagemanager.Frame, markDirty bool) error {
	if frame == nil {
		return fmt.Errorf("%w: nil frame", flushmanager.ErrInvalidUnfix)
	}

	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	if bpm.closed {
		return flushmanager.ErrPoolClosed
	}

	slot, ok := bpm.pageTable[frame.PageID()]
	if !ok || bpm.frames[slot] != frame {
		return fmt.Errorf("%w: frame for page %d", flushmanager.ErrInvalidUnfix, frame.PageID())
	}
	if frame.PinCount() == 0 {
		return fmt.Errorf("%w: page %d has pin count 0", flushmanager.ErrInvalidUnfix, frame.PageID())
	}

	frame.Unpin()
	bpm.replacer.RecordRelease(frame.PageID())
	frame.Release(markDirty)
	return nil
}

// FlushPage writes one page back to its segment file if it is dirty, clearing
// the dirty flag on success. The page must be resident and unpinned.
func (bpm *BufferPoolManager) FlushPage(pageID pagemanager.PageID) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	if bpm.closed {
		return flushmanager.ErrPoolClosed
	}

	slot, ok := bpm.pageTable[pageID]
	if !ok {
		return fmt.Errorf("%w: page %d", flushmanager.ErrPageNotFound, pageID)
	}
	frame := bpm.frames[slot]
	if frame.PinCount() > 0 {
		// A pinned frame may be latched by its fixer; taking the latch here
		// while holding the pool mutex could deadlock against that fixer's
		// Unfix. Callers flush after releasing their fixes.
		return fmt.Errorf("%w: page %d", flushmanager.ErrPagePinned, pageID)
	}
	return bpm.flushLocked(frame)
}

// FlushAll writes back every dirty unpinned page, keeping going past
// individual failures and returning the first one. Pinned dirty pages are
// skipped and reported through the returned error.
func (bpm *BufferPoolManager) FlushAll() error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	if bpm.closed {
		return flushmanager.ErrPoolClosed
	}
	return bpm.flushAllLocked()
}

func (bpm *BufferPoolManager) flushAllLocked() error {
	var firstErr error
	for pageID, slot := range bpm.pageTable {
		frame := bpm.frames[slot]
		if !frame.IsDirty() {
			continue
		}
		if frame.PinCount() > 0 {
			bpm.log.Warn("skipping flush of pinned page",
				logger.PageID(uint64(pageID)),
				zap.Int("pin_count", frame.PinCount()))
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: page %d", flushmanager.ErrPagePinned, pageID)
			}
			continue
		}
		if err := bpm.flushLocked(frame); err != nil {
			bpm.log.Error("page flush failed",
				logger.PageID(uint64(pageID)),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// flushLocked writes one unpinned frame back if dirty. Pool mutex must be
// held; the frame latch is free because the pin count is zero.
func (bpm *BufferPoolManager) flushLocked(frame *pagemanager.Frame) error {
	if !frame.IsDirty() {
		return nil
	}
	frame.Acquire(true)
	err := frame.WriteToDisk(bpm.files)
	frame.Release(false)
	if err != nil {
		return fmt.Errorf("flushing page %d: %w", frame.PageID(), err)
	}
	frame.SetDirty(false)
	bpm.metrics.WriteBack()
	return nil
}

// FIFOSnapshot returns a copy of the admission queue, oldest admission first.
func (bpm *BufferPoolManager) FIFOSnapshot() []pagemanager.PageID {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	return bpm.replacer.FIFOSnapshot()
}

// LRUSnapshot returns a copy of the hot queue, coldest page first.
func (bpm *BufferPoolManager) LRUSnapshot() []pagemanager.PageID {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	return bpm.replacer.LRUSnapshot()
}

// Resident returns the number of pages currently held in the pool.
func (bpm *BufferPoolManager) Resident() int {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	return len(bpm.pageTable)
}

// PageSize returns the size in bytes of every page in this pool.
func (bpm *BufferPoolManager) PageSize() int { return bpm.pageSize }

// Close flushes every dirty page and shuts the pool down; subsequent calls
// to Fix and Unfix fail with ErrPoolClosed. Outstanding pins at close are a
// caller bug: those pages are reported through the returned error and their
// dirty bytes are not written, but the remaining pages are still flushed.
// Close is idempotent.
func (bpm *BufferPoolManager) Close() error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	if bpm.closed {
		return nil
	}
	bpm.closed = true

	var firstErr error
	for pageID, slot := range bpm.pageTable {
		if bpm.frames[slot].PinCount() > 0 {
			bpm.log.Warn("page still pinned at close",
				logger.PageID(uint64(pageID)),
				zap.Int("pin_count", bpm.frames[slot].PinCount()))
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: page %d at close", flushmanager.ErrPagePinned, pageID)
			}
		}
	}
	if err := bpm.flushAllLocked(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := bpm.files.Sync(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := bpm.files.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	bpm.log.Info("buffer pool closed", zap.Int("resident", len(bpm.pageTable)))
	return firstErr
}
