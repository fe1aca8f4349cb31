// Package allocctx is the allocator registry: it maps provider ids to
// allocators and manages allocation scopes.
//
// # Usage
//
//	ctx, err := allocctx.New(memory.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer ctx.Close()
//
//	a, err := ctx.GetAllocator(memory.DefaultUnscoped)
//	ptr, err := a.Allocate(128)
//	defer a.Free(ptr)
//
// # Providers
//
// A Context delegates to an Implementation, normally a Dispatcher. The
// Dispatcher installs three system providers:
//
//   - memory.Default: scoped, arenas drawn from a pool over the shared cache
//   - memory.DefaultUnscoped: one arena over the shared cache
//   - memory.DefaultUncachedUnscoped: native memory, no cache
//
// Users register more under ids >= memory.ScopedUserMin (scoped) or
// <= memory.UnscopedUserMax (unscoped) until FinalizeConfiguration is called.
//
// # Scopes
//
// BeginAllocationScope draws a fresh arena for a scoped provider and returns a
// Scope bound to it. Blocks live in the scope only when allocated through
// Scope.Allocator(), or through the Scope itself used as a resolver:
//
//	scope, err := ctx.BeginAllocationScope(memory.Default)
//	defer scope.Close()
//	h, err := owned.Allocate(scope, memory.Default, 64)
//
// GetAllocator on a scoped id allocates from the provider's root arena, never from
// an open scope. Closing the scope frees every block its arena still tracks,
// including blocks whose handles still claim ownership: those handles become
// invalid. A later Free of such a block is ignored. Scopes that outlive their
// provider (replaced, cleared or closed) close as no-ops.
//
// # Thread Safety
//
// Context, Dispatcher and ArenaProvider are safe for concurrent use. Registration
// is expected during setup, before FinalizeConfiguration.
package allocctx
