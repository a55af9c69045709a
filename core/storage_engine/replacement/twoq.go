// Package replacement implements the two-queue page replacement policy used
// by the buffer pool: an admission FIFO for pages referenced once during the
// current residency, and a hot LRU for pages re-referenced while resident.
// One-shot scans drain out of the FIFO without ever displacing the hot set.
package replacement

import (
	"container/list"

	pagemanager "github.com/matthewmarion/buffer-manager/core/storage_engine/page_manager"
)

// Queue names the replacement queue a page currently lives in.
type Queue int

const (
	QueueNone Queue = iota
	QueueFIFO
	QueueLRU
)

type entry struct {
	elem  *list.Element
	queue Queue
}

// TwoQueue tracks every resident page in exactly one of its two ordered
// queues. It is not self-locking; the buffer pool serializes all calls under
// its own mutex.
type TwoQueue struct {
	fifo    *list.List // values are pagemanager.PageID, head = oldest admission
	lru     *list.List // values are pagemanager.PageID, head = coldest
	entries map[pagemanager.PageID]entry
}

func NewTwoQueue() *TwoQueue {
	return &TwoQueue{
		fifo:    list.New(),
		lru:     list.New(),
		entries: make(map[pagemanager.PageID]entry),
	}
}

// Admit registers a newly loaded page at the FIFO tail. Every new residency
// starts in the FIFO regardless of which queue the evicted predecessor was
// taken from.
func (q *TwoQueue) Admit(id pagemanager.PageID) {
	if _, ok := q.entries[id]; ok {
		return
	}
	q.entries[id] = entry{elem: q.fifo.PushBack(id), queue: QueueFIFO}
}

// Touch records a fix hit. The first re-reference promotes the page from the
// FIFO to the LRU tail; later references refresh its LRU position.
func (q *TwoQueue) Touch(id pagemanager.PageID) {
	e, ok := q.entries[id]
	if !ok {
		return
	}
	switch e.queue {
	case QueueFIFO:
		q.fifo.Remove(e.elem)
	case QueueLRU:
		q.lru.Remove(e.elem)
	}
	q.entries[id] = entry{elem: q.lru.PushBack(id), queue: QueueLRU}
}

// RecordRelease records an unfix. A page in the LRU moves to the tail so the
// queue reflects recency of release; FIFO order reflects first-load time only
// and is left untouched.
func (q *TwoQueue) RecordRelease(id pagemanager.PageID) {
	e, ok := q.entries[id]
	if !ok || e.queue != QueueLRU {
		return
	}
	q.lru.MoveToBack(e.elem)
}

// Remove drops a page from whichever queue holds it.
func (q *TwoQueue) Remove(id pagemanager.PageID) {
	e, ok := q.entries[id]
	if !ok {
		return
	}
	switch e.queue {
	case QueueFIFO:
		q.fifo.Remove(e.elem)
	case QueueLRU:
		q.lru.Remove(e.elem)
	}
	delete(q.entries, id)
}

// Victim returns the eviction candidate: the first evictable page scanning
// the FIFO from its head, then the LRU from its head. The evictable callback
// is consulted under the pool mutex, so a true result stays true until the
// pool releases it.
func (q *TwoQueue) Victim(evictable func(pagemanager.PageID) bool) (pagemanager.PageID, bool) {
	for e := q.fifo.Front(); e != nil; e = e.Next() {
		id := e.Value.(pagemanager.PageID)
		if evictable(id) {
			return id, true
		}
	}
	for e := q.lru.Front(); e != nil; e = e.Next() {
		id := e.Value.(pagemanager.PageID)
		if evictable(id) {
			return id, true
		}
	}
	return pagemanager.InvalidPageID, false
}

// Queue reports which queue currently holds the page.
func (q *TwoQueue) Queue(id pagemanager.PageID) Queue {
	e, ok := q.entries[id]
	if !ok {
		return QueueNone
	}
	return e.queue
}

// Len returns the number of tracked pages across both queues.
func (q *TwoQueue) Len() int { return len(q.entries) }

// FIFOSnapshot copies the FIFO queue in order, head first.
func (q *TwoQueue) FIFOSnapshot() []pagemanager.PageID {
	return snapshot(q.fifo)
}

// LRUSnapshot copies the LRU queue in order, coldest first.
func (q *TwoQueue) LRUSnapshot() []pagemanager.PageID {
	return snapshot(q.lru)
}

func snapshot(l *list.List) []pagemanager.PageID {
	ids := make([]pagemanager.PageID, 0, l.Len())
	for e := l.Front(); e != nil; e = e.Next() {
		ids = append(ids, e.Value.(pagemanager.PageID))
	}
	return ids
}
