package flushmanager

import "errors"

// --- Error Definitions ---

var (
	ErrBufferPoolFull = errors.New("buffer pool is full and no pages can be evicted")
	ErrInvalidUnfix   = errors.New("unfix of a frame that is not pinned in this pool")
	ErrPageNotFound   = errors.New("page not found in buffer pool")
	ErrPagePinned     = errors.New("page is pinned and cannot be evicted or flushed")
	ErrPoolClosed     = errors.New("buffer pool is closed")
	ErrIO             = errors.New("i/o error")
)
