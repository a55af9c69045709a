package flushmanager

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/matthewmarion/buffer-manager/pkg/logger"
	"go.uber.org/zap"
)

// SegmentFile is the raw block interface of a single segment's backing file.
// Reads past the end of the file yield zero bytes for the unwritten range;
// writes extend the file as needed. Concurrent calls to distinct offsets of
// the same file are safe.
type SegmentFile interface {
	ReadBlock(offset int64, p []byte) error
	WriteBlock(p []byte, offset int64) error
	Sync() error
	Close() error
}

// osSegmentFile backs a segment with a plain file via positional I/O.
type osSegmentFile struct {
	file *os.File
}

func (s *osSegmentFile) ReadBlock(offset int64, p []byte) error {
	n, err := s.file.ReadAt(p, offset)
	if errors.Is(err, io.EOF) {
		// The tail of the range has never been written; it reads as zeroes.
		for i := n; i < len(p); i++ {
			p[i] = 0
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: reading %d bytes at offset %d: %v", ErrIO, len(p), offset, err)
	}
	return nil
}

func (s *osSegmentFile) WriteBlock(p []byte, offset int64) error {
	if _, err := s.file.WriteAt(p, offset); err != nil {
		return fmt.Errorf("%w: writing %d bytes at offset %d: %v", ErrIO, len(p), offset, err)
	}
	return nil
}

func (s *osSegmentFile) Sync() error {
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("%w: syncing segment file: %v", ErrIO, err)
	}
	return nil
}

func (s *osSegmentFile) Close() error {
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("%w: closing segment file: %v", ErrIO, err)
	}
	return nil
}

// SegmentStore is what the buffer pool needs from the segment layer:
// resolution of segment ids to block files, plus whole-store sync and close
// at shutdown.
type SegmentStore interface {
	Segment(id uint16) (SegmentFile, error)
	Sync() error
	Close() error
}

// SegmentManager resolves segment ids to their backing files. Each segment is
// a file named by the decimal segment id inside the manager's directory,
// opened read-write and created on first use. Open handles are cached for the
// manager's lifetime.
type SegmentManager struct {
	dir string
	log *zap.Logger

	mu   sync.Mutex
	open map[uint16]SegmentFile
}

// NewSegmentManager creates a manager rooted at dir, creating the directory
// if it does not exist.
func NewSegmentManager(dir string, log *zap.Logger) (*SegmentManager, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: creating segment directory %s: %v", ErrIO, dir, err)
	}
	return &SegmentManager{
		dir:  dir,
		log:  log,
		open: make(map[uint16]SegmentFile),
	}, nil
}

// Segment returns the backing file for a segment id, opening it on first use.
func (sm *SegmentManager) Segment(id uint16) (SegmentFile, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if seg, ok := sm.open[id]; ok {
		return seg, nil
	}

	name := filepath.Join(sm.dir, strconv.FormatUint(uint64(id), 10))
	file, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: opening segment file %s: %v", ErrIO, name, err)
	}
	sm.log.Debug("opened segment file", logger.Segment(id), zap.String("path", name))

	seg := &osSegmentFile{file: file}
	sm.open[id] = seg
	return seg, nil
}

// Sync flushes every open segment file to stable storage.
func (sm *SegmentManager) Sync() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var firstErr error
	for id, seg := range sm.open {
		if err := seg.Sync(); err != nil {
			sm.log.Error("segment sync failed", logger.Segment(id), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Close closes every open segment file and empties the handle cache. A later
// Segment call opens the file again.
func (sm *SegmentManager) Close() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var firstErr error
	for id, seg := range sm.open {
		if err := seg.Close(); err != nil {
			sm.log.Error("segment close failed", logger.Segment(id), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
		delete(sm.open, id)
	}
	return firstErr
}
