package main

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/joshuapare/memkit/internal/buf"
	"github.com/joshuapare/memkit/memory"
	"github.com/joshuapare/memkit/memory/cache"
	"github.com/joshuapare/memkit/memory/native"
	"github.com/joshuapare/memkit/memory/syncwrap"
)

var (
	stressGoroutines int
	stressIterations int
	stressMaxSize    int
	stressSeed       uint64
)

func init() {
	cmd := newStressCmd()
	cmd.Flags().IntVarP(&stressGoroutines, "goroutines", "g", 2, "Concurrent workers")
	cmd.Flags().IntVarP(&stressIterations, "iterations", "n", 10_000, "Allocate/free cycles per worker")
	cmd.Flags().IntVar(&stressMaxSize, "max-size", 1<<20, "Largest request in bytes")
	cmd.Flags().Uint64Var(&stressSeed, "seed", 0, "Random seed (0 picks one from the clock)")
	rootCmd.AddCommand(cmd)
}

func newStressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Run concurrent allocate/free cycles through the shared cache",
		Long: `The stress command shares one cache over native memory between several
goroutines, guarded by a sync wrapper. Each worker allocates a random size,
writes and verifies a pattern, and frees the block. After every allocation the
cache accounting is checked: bytes held from native memory must equal bytes
handed out plus bytes cached.

Example:
  memctl stress
  memctl stress --goroutines 8 --iterations 50000 --max-size 65536
  memctl stress --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStress()
		},
	}
	return cmd
}

// StressReport is the outcome of a stress run.
type StressReport struct {
	Goroutines   int           `json:"goroutines"`
	Iterations   int           `json:"iterations"`
	MaxSize      int           `json:"maxSize"`
	Seed         uint64        `json:"seed"`
	Duration     time.Duration `json:"durationNs"`
	OpsPerSecond float64       `json:"opsPerSecond"`
	Config       memory.Config `json:"config"`
	Cache        cache.Metrics `json:"cache"`
	Backing      memory.Stats  `json:"backing"`
	Client       memory.Stats  `json:"client"`
	Violations   int64         `json:"violations"`
	AllFreed     bool          `json:"allFreed"`
}

func runStress() error {
	if stressGoroutines <= 0 || stressIterations < 0 || stressMaxSize < 0 {
		return errors.New("goroutines must be positive; iterations and max-size must not be negative")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	seed := stressSeed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	backing := native.New()
	c, err := cache.New(backing, &cache.Options{Config: &cfg})
	if err != nil {
		return err
	}
	shared := syncwrap.NewCacheable(c)

	printVerbose("stress: %d workers x %d cycles, sizes 0..%d, seed %d\n",
		stressGoroutines, stressIterations, stressMaxSize, seed)

	var (
		wg         sync.WaitGroup
		violations atomic.Int64
		errMu      sync.Mutex
		errs       []error
	)
	start := time.Now()
	for g := range stressGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := stressWorker(shared, rand.New(rand.NewPCG(seed, uint64(g))), &violations); err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("worker %d: %w", g, err))
				errMu.Unlock()
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)
	if err := errors.Join(errs...); err != nil {
		return err
	}

	report := StressReport{
		Goroutines: stressGoroutines,
		Iterations: stressIterations,
		MaxSize:    stressMaxSize,
		Seed:       seed,
		Duration:   elapsed,
		Config:     cfg,
		Cache:      c.Metrics(),
		Client:     shared.Stats(),
		Violations: violations.Load(),
	}
	if secs := elapsed.Seconds(); secs > 0 {
		report.OpsPerSecond = float64(stressGoroutines*stressIterations) / secs
	}

	if err := shared.ClearCachedMemory(); err != nil {
		return err
	}
	report.Backing = backing.Stats()
	report.AllFreed = report.Client.ClientIsAllFreed() && report.Backing.IsAllFreed() && backing.Live() == 0

	if jsonOut {
		if err := printJSON(report); err != nil {
			return err
		}
	} else {
		renderStress(report)
	}
	if report.Violations > 0 || !report.AllFreed {
		return fmt.Errorf("stress: accounting check failed (%d violations, all freed: %t)",
			report.Violations, report.AllFreed)
	}
	return nil
}

func stressWorker(
	a syncwrap.CacheableWrapper[*cache.Cache],
	rng *rand.Rand,
	violations *atomic.Int64,
) error {
	for range stressIterations {
		size := rng.IntN(stressMaxSize + 1)
		p, err := a.Allocate(size)
		if err != nil {
			return err
		}

		view := buf.Bytes(p, size)
		seed := byte(rng.Uint32())
		for i := range view {
			view[i] = seed
		}

		a.Do(func(c *cache.Cache) {
			s := c.Stats()
			if s.SelfOutstanding() != s.ClientOutstanding()+c.CachedBytes() {
				violations.Add(1)
			}
		})

		for i, b := range view {
			if b != seed {
				return fmt.Errorf("block %#x corrupted at byte %d", p, i)
			}
		}
		if err := a.Free(p); err != nil {
			return err
		}
	}
	return nil
}

func renderStress(r StressReport) {
	renderReport("memctl stress", []section{
		{
			title: "Run",
			rows: []row{
				{"workers", fmt.Sprintf("%d", r.Goroutines)},
				{"cycles per worker", fmt.Sprintf("%d", r.Iterations)},
				{"max size", formatBytes(int64(r.MaxSize))},
				{"seed", fmt.Sprintf("%d", r.Seed)},
				{"duration", r.Duration.Round(time.Microsecond).String()},
				{"throughput", fmt.Sprintf("%.0f ops/s", r.OpsPerSecond)},
			},
		},
		{
			title: "Cache",
			rows: []row{
				{"hits", fmt.Sprintf("%d", r.Cache.Hits)},
				{"misses", fmt.Sprintf("%d", r.Cache.Misses)},
				{"bypassed", fmt.Sprintf("%d", r.Cache.Bypassed)},
				{"expired", fmt.Sprintf("%d", r.Cache.Expired)},
				{"evictions", fmt.Sprintf("%d", r.Cache.Evictions)},
				{"losses", fmt.Sprintf("%d", r.Cache.Losses)},
				{"effective ttl", r.Cache.EffectiveTTL.String()},
				{"cached at end", formatBytes(r.Cache.CachedBytes)},
			},
		},
		{
			title: "Accounting",
			rows: []row{
				{"native allocated", formatBytes(r.Backing.SelfTotalAllocated)},
				{"native freed", formatBytes(r.Backing.SelfTotalFreed)},
				{"client allocated", formatBytes(r.Client.ClientTotalAllocated)},
				{"client freed", formatBytes(r.Client.ClientTotalFreed)},
				{"violations", fmt.Sprintf("%d", r.Violations)},
			},
		},
	}, r.Violations == 0 && r.AllFreed)
}
