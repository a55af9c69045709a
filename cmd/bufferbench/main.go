// bufferbench drives a buffer pool with a concurrent mixed read/write
// workload and logs fix, dirty and rejection counts together with the
// resident page count and the replacement queue lengths. It is the
// quickest way to watch the admission FIFO and hot LRU behave under load.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matthewmarion/buffer-manager/config"
	bufferpool "github.com/matthewmarion/buffer-manager/core/storage_engine/buffer_pool"
	flushmanager "github.com/matthewmarion/buffer-manager/core/storage_engine/flush_manager"
	pagemanager "github.com/matthewmarion/buffer-manager/core/storage_engine/page_manager"
	"github.com/matthewmarion/buffer-manager/pkg/logger"
	"github.com/matthewmarion/buffer-manager/pkg/telemetry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config (defaults apply when empty)")
		workers    = flag.Int("workers", 8, "concurrent worker goroutines")
		pages      = flag.Uint64("pages", 4096, "distinct pages the workload touches")
		ops        = flag.Int64("ops", 100000, "total fix/unfix operations")
		writeFrac  = flag.Float64("write-frac", 0.25, "fraction of exclusive fixes that dirty the page")
		opsPerSec  = flag.Float64("rate", 0, "operation rate limit per worker (0 = unlimited)")
	)
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	tel, telShutdown, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		log.Fatal("telemetry setup failed", zap.Error(err))
	}
	defer telShutdown(context.Background())

	metrics, err := bufferpool.NewMetrics(tel.Meter)
	if err != nil {
		log.Fatal("metrics setup failed", zap.Error(err))
	}

	files, err := flushmanager.NewSegmentManager(cfg.Storage.Directory, log)
	if err != nil {
		log.Fatal("segment manager setup failed", zap.Error(err))
	}

	pool, err := bufferpool.NewBufferPoolManager(cfg.Storage.PageSize, cfg.Storage.PageCount, files, log, metrics)
	if err != nil {
		log.Fatal("buffer pool setup failed", zap.Error(err))
	}

	var (
		fixes      atomic.Int64
		dirtied    atomic.Int64
		bufferFull atomic.Int64
		wg         sync.WaitGroup
	)
	perWorker := *ops / int64(*workers)
	start := time.Now()

	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			var limiter *rate.Limiter
			if *opsPerSec > 0 {
				limiter = rate.NewLimiter(rate.Limit(*opsPerSec), 1)
			}

			for i := int64(0); i < perWorker; i++ {
				if limiter != nil {
					if err := limiter.Wait(context.Background()); err != nil {
						return
					}
				}

				_, span := tel.Tracer.Start(context.Background(), "bench.op")
				pageID := pagemanager.NewPageID(0, rng.Uint64()%*pages)
				exclusive := rng.Float64() < *writeFrac

				frame, err := pool.Fix(pageID, exclusive)
				if err != nil {
					bufferFull.Add(1)
					span.End()
					continue
				}
				fixes.Add(1)

				dirty := false
				if exclusive {
					frame.Data()[0] = byte(i)
					dirty = true
					dirtied.Add(1)
				} else {
					_ = frame.Data()[0]
				}

				if err := pool.Unfix(frame, dirty); err != nil {
					log.Error("unfix failed", zap.Error(err))
				}
				span.End()
			}
		}(int64(w) + 1)
	}
	wg.Wait()
	elapsed := time.Since(start)

	fifo := pool.FIFOSnapshot()
	lru := pool.LRUSnapshot()
	log.Info("workload complete",
		zap.Int64("fixes", fixes.Load()),
		zap.Int64("dirtied", dirtied.Load()),
		zap.Int64("rejected", bufferFull.Load()),
		zap.Duration("elapsed", elapsed),
		zap.Int("resident", pool.Resident()),
		zap.Int("fifo_len", len(fifo)),
		zap.Int("lru_len", len(lru)))

	if err := pool.Close(); err != nil {
		log.Error("close failed", zap.Error(err))
		os.Exit(1)
	}
}
