// Package owned implements the ownership protocol for values that live in
// unmanaged memory.
//
// A Handle refers to a block by address and remembers the provider id it was
// allocated from. Exactly one handle owns a block:
//
//   - Allocate returns an owning handle
//   - Borrow returns a non-owning copy; disposing it frees nothing
//   - Take moves ownership to the returned copy and leaves the receiver non-owning
//   - Dispose frees the block if the handle owns it, then marks the handle invalid
//
// Handles are plain values and may be copied freely. Copying an owning handle by
// assignment duplicates ownership, and disposing both copies frees the block
// twice; pass Borrow() or Take() instead. Nothing prevents a borrowed handle from
// outliving its owner, or a handle from outliving the scope its block came from.
// Those are caller errors the engine does not detect.
//
// The Resolver decides where a block lives. Passing an *allocctx.Context allocates
// from the provider's root; passing an *allocctx.Scope allocates in that scope, and
// the block is released when the scope closes:
//
//	scope, err := ctx.BeginAllocationScope(memory.Default)
//	defer scope.Close()
//	h, err := owned.Allocate(scope, memory.Default, 64)
//
// Box and Span store typed values in the block. Types holding Go pointers
// (pointers, slices, strings, maps, channels, funcs, interfaces) are rejected:
// the garbage collector does not scan unmanaged memory.
package owned
