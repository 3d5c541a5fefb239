package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/clockbuf/clockbuf"
	"github.com/clockbuf/clockbuf/internal/block"
	benchconfig "github.com/clockbuf/clockbuf/internal/config"
	"github.com/clockbuf/clockbuf/internal/wal"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "clockbuf.yaml", "Path to clockbuf yaml config")
	flag.Parse()

	cfg, err := benchconfig.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("clockbufbench error: %v", err)
	}
}

func run(cfg *benchconfig.BenchConfig) error {
	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = "./data/clockbufbench"
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	store := block.NewManager(dataDir)
	logMgr, err := wal.Open(dataDir)
	if err != nil {
		return fmt.Errorf("open wal: %w", err)
	}
	defer func() { _ = logMgr.Close() }()

	pool_, err := bufferpool.New(bufferpool.Config{
		NumBuffers:   cfg.Pool.NumBuffers,
		Store:        store,
		Log:          logMgr,
		BlockStripes: cfg.Pool.BlockStripes,
		FileStripes:  cfg.Pool.FileStripes,
	})
	if err != nil {
		return fmt.Errorf("new pool: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stopObserver := pool_.StartObserver(ctx, time.Second)
	defer stopObserver()

	files := make([]string, cfg.Workload.Files)
	for i := range files {
		files[i] = fmt.Sprintf("bench-%d", i)
		for b := 0; b < cfg.Workload.Blocks; b++ {
			f, err := pool_.PinNew(files[i], nil)
			if err != nil {
				return fmt.Errorf("seed %s block %d: %w", files[i], b, err)
			}
			pool_.Unpin(f)
		}
	}

	log.Printf("clockbufbench: %d workers hammering %d files x %d blocks against %d buffers",
		cfg.Workload.Workers, cfg.Workload.Files, cfg.Workload.Blocks, cfg.Pool.NumBuffers)

	p := pool.New().WithMaxGoroutines(cfg.Workload.Workers)
	for w := 0; w < cfg.Workload.Workers; w++ {
		p.Go(func() {
			for i := 0; i < 200; i++ {
				select {
				case <-ctx.Done():
					return
				default:
				}
				file := files[rand.IntN(len(files))]
				num := uint32(rand.IntN(cfg.Workload.Blocks))

				f, err := pool_.Pin(block.ID{File: file, Num: num})
				if err != nil {
					continue
				}
				f.Page()[0]++
				f.MarkDirty(1)
				pool_.Unpin(f)
			}
		})
	}
	p.Wait()

	if err := pool_.FlushAll(); err != nil {
		return fmt.Errorf("flush all: %w", err)
	}

	log.Printf("clockbufbench: done, available=%d hit_rate=%.3f",
		pool_.Available(), pool_.HitRate())
	return nil
}
