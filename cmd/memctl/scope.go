package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/memkit/memory"
	"github.com/joshuapare/memkit/memory/allocctx"
	"github.com/joshuapare/memkit/memory/native"
	"github.com/joshuapare/memkit/memory/owned"
)

var (
	scopeBlocks   int
	scopeSize     int
	scopeDispose  int
	scopeProvider int32
)

func init() {
	cmd := newScopeCmd()
	cmd.Flags().IntVar(&scopeBlocks, "blocks", 100, "Blocks to allocate inside the scope")
	cmd.Flags().IntVar(&scopeSize, "size", 64, "Size of each block in bytes")
	cmd.Flags().IntVar(&scopeDispose, "dispose", 50, "Blocks disposed explicitly before the scope ends")
	cmd.Flags().Int32Var(&scopeProvider, "provider", int32(memory.ScopedUserMin), "Scoped provider id to register")
	rootCmd.AddCommand(cmd)
}

func newScopeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scope",
		Short: "Replay a scoped allocation scenario",
		Long: `The scope command registers an arena provider under a scoped id, opens
a scope, allocates blocks through owning handles, disposes some of them and lets
the scope release the rest. Handles that outlived the scope are then disposed
again to show that late frees are ignored.

Example:
  memctl scope
  memctl scope --blocks 1000 --size 256 --dispose 10
  memctl scope --provider 32 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScope()
		},
	}
	return cmd
}

// ScopeReport is the outcome of a scope scenario.
type ScopeReport struct {
	Provider      memory.ProviderID `json:"provider"`
	Blocks        int               `json:"blocks"`
	Size          int               `json:"size"`
	Disposed      int               `json:"disposed"`
	ScopeReleased int               `json:"scopeReleased"`
	ProviderStats memory.Stats      `json:"providerStats"`
	CacheStats    memory.Stats      `json:"cacheStats"`
	NativeStats   memory.Stats      `json:"nativeStats"`
	NativeLive    int               `json:"nativeLive"`
	AllFreed      bool              `json:"allFreed"`
}

func runScope() error {
	if scopeBlocks < 0 || scopeSize < 0 || scopeDispose < 0 || scopeDispose > scopeBlocks {
		return errors.New("blocks and size must not be negative; dispose must be within [0, blocks]")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	id := memory.ProviderID(scopeProvider)

	nat := native.New()
	d, err := allocctx.NewDispatcher(&allocctx.Options{Config: &cfg, Backing: nat})
	if err != nil {
		return err
	}
	ctx := allocctx.NewContext()
	if err := ctx.SetImplementation(d); err != nil {
		return err
	}
	defer ctx.Close()

	provider := d.NewArenaProvider()
	if err := ctx.SetAllocatorProvider(provider, id, true); err != nil {
		return err
	}
	if err := ctx.FinalizeConfiguration(); err != nil {
		return err
	}

	scope, err := ctx.BeginAllocationScope(id)
	if err != nil {
		return err
	}
	printVerbose("scope: opened on provider %s\n", id)

	handles := make([]owned.Handle, scopeBlocks)
	for i := range handles {
		if handles[i], err = owned.Allocate(scope, id, scopeSize); err != nil {
			return errors.Join(err, scope.Close())
		}
	}
	for i := range handles[:scopeDispose] {
		if err := handles[i].Dispose(); err != nil {
			return errors.Join(err, scope.Close())
		}
	}
	if err := scope.Close(); err != nil {
		return err
	}
	printVerbose("scope: closed, %d blocks released by the scope\n", scopeBlocks-scopeDispose)

	// The remaining handles still claim ownership; their frees are ignored.
	for i := range handles[scopeDispose:] {
		if err := handles[scopeDispose+i].Dispose(); err != nil {
			return err
		}
	}
	if err := d.ClearCachedMemory(); err != nil {
		return err
	}

	report := ScopeReport{
		Provider:      id,
		Blocks:        scopeBlocks,
		Size:          scopeSize,
		Disposed:      scopeDispose,
		ScopeReleased: scopeBlocks - scopeDispose,
		ProviderStats: provider.Stats(),
		CacheStats:    d.Cache().Stats(),
		NativeStats:   nat.Stats(),
		NativeLive:    nat.Live(),
	}
	report.AllFreed = report.ProviderStats.ClientIsAllFreed() &&
		report.CacheStats.ClientIsAllFreed() &&
		report.CacheStats.IsAllFreed() &&
		report.NativeLive == 0

	if jsonOut {
		if err := printJSON(report); err != nil {
			return err
		}
	} else {
		renderScope(report)
	}
	if !report.AllFreed {
		return fmt.Errorf("scope: %d native blocks still live", report.NativeLive)
	}
	return nil
}

func renderScope(r ScopeReport) {
	renderReport("memctl scope", []section{
		{
			title: "Scenario",
			rows: []row{
				{"provider", r.Provider.String()},
				{"blocks", fmt.Sprintf("%d x %s", r.Blocks, formatBytes(int64(r.Size)))},
				{"disposed by owner", fmt.Sprintf("%d", r.Disposed)},
				{"released by scope", fmt.Sprintf("%d", r.ScopeReleased)},
			},
		},
		{
			title: "Accounting",
			rows: []row{
				{"provider client", statsLine(r.ProviderStats.ClientTotalAllocated, r.ProviderStats.ClientTotalFreed)},
				{"cache client", statsLine(r.CacheStats.ClientTotalAllocated, r.CacheStats.ClientTotalFreed)},
				{"cache self", statsLine(r.CacheStats.SelfTotalAllocated, r.CacheStats.SelfTotalFreed)},
				{"native self", statsLine(r.NativeStats.SelfTotalAllocated, r.NativeStats.SelfTotalFreed)},
				{"native live blocks", fmt.Sprintf("%d", r.NativeLive)},
			},
		},
	}, r.AllFreed)
}

func statsLine(allocated, freed int64) string {
	return fmt.Sprintf("%s allocated, %s freed", formatBytes(allocated), formatBytes(freed))
}
