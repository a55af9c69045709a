package bufferpool

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the pool's OpenTelemetry instruments. A nil *Metrics is a
// valid no-op receiver, so the pool works without telemetry wired up.
type Metrics struct {
	fixes      metric.Int64Counter
	hits       metric.Int64Counter
	misses     metric.Int64Counter
	evictions  metric.Int64Counter
	writeBacks metric.Int64Counter
	bufferFull metric.Int64Counter
	resident   metric.Int64UpDownCounter
}

// NewMetrics registers the buffer pool instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.fixes, err = meter.Int64Counter("bufferpool.fixes",
		metric.WithDescription("Fix calls that returned a pinned frame")); err != nil {
		return nil, fmt.Errorf("creating fixes counter: %w", err)
	}
	if m.hits, err = meter.Int64Counter("bufferpool.fix.hits",
		metric.WithDescription("Fix calls served from a resident frame")); err != nil {
		return nil, fmt.Errorf("creating hits counter: %w", err)
	}
	if m.misses, err = meter.Int64Counter("bufferpool.fix.misses",
		metric.WithDescription("Fix calls that loaded the page from disk")); err != nil {
		return nil, fmt.Errorf("creating misses counter: %w", err)
	}
	if m.evictions, err = meter.Int64Counter("bufferpool.evictions",
		metric.WithDescription("Pages evicted to make room for a load")); err != nil {
		return nil, fmt.Errorf("creating evictions counter: %w", err)
	}
	if m.writeBacks, err = meter.Int64Counter("bufferpool.write_backs",
		metric.WithDescription("Dirty pages written back to their segment file")); err != nil {
		return nil, fmt.Errorf("creating write-backs counter: %w", err)
	}
	if m.bufferFull, err = meter.Int64Counter("bufferpool.buffer_full",
		metric.WithDescription("Fix calls rejected because every frame was pinned")); err != nil {
		return nil, fmt.Errorf("creating buffer-full counter: %w", err)
	}
	if m.resident, err = meter.Int64UpDownCounter("bufferpool.resident_pages",
		metric.WithDescription("Pages currently held in the pool")); err != nil {
		return nil, fmt.Errorf("creating resident-pages counter: %w", err)
	}
	return m, nil
}

func (m *Metrics) Hit() {
	if m == nil {
		return
	}
	m.fixes.Add(context.Background(), 1)
	m.hits.Add(context.Background(), 1)
}

func (m *Metrics) Miss() {
	if m == nil {
		return
	}
	m.fixes.Add(context.Background(), 1)
	m.misses.Add(context.Background(), 1)
}

func (m *Metrics) Eviction() {
	if m == nil {
		return
	}
	m.evictions.Add(context.Background(), 1)
}

func (m *Metrics) WriteBack() {
	if m == nil {
		return
	}
	m.writeBacks.Add(context.Background(), 1)
}

func (m *Metrics) BufferFull() {
	if m == nil {
		return
	}
	m.bufferFull.Add(context.Background(), 1)
}

// ResidentAdd records pages entering (positive) or leaving (negative) the
// pool: admission, eviction, and the rollback of a failed load.
func (m *Metrics) ResidentAdd(delta int64) {
	if m == nil {
		return
	}
	m.resident.Add(context.Background(), delta)
}
