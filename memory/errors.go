package memory

import "errors"

// ErrKind classifies errors so callers can branch on intent rather than text.
type ErrKind int

const (
	ErrKindConfiguration ErrKind = iota // no implementation, unknown or misregistered provider
	ErrKindAllocation                   // backing allocator could not supply memory
	ErrKindPointer                      // address not issued by this allocator, or freed twice
	ErrKindOwnership                    // handle misuse detected by the ownership protocol
	ErrKindState                        // operation invalid for current state (closed, finalized)
)

// Error is a typed error with an optional underlying cause.
type Error struct {
	Kind ErrKind
	Msg  string
	Err  error // optional underlying cause
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Sentinels returned by the engine.
var (
	// ErrNoImplementation indicates no dispatcher is installed in the context.
	ErrNoImplementation = &Error{Kind: ErrKindConfiguration, Msg: "memory: no allocator implementation installed"}
	// ErrInvalidProvider indicates a reserved or invalid provider id was used for registration.
	ErrInvalidProvider = &Error{Kind: ErrKindConfiguration, Msg: "memory: invalid provider id"}
	// ErrUnknownProvider indicates no provider is registered under the id.
	ErrUnknownProvider = &Error{Kind: ErrKindConfiguration, Msg: "memory: unknown provider id"}
	// ErrProviderScoping indicates the scoped flag contradicts the id's sign.
	ErrProviderScoping = &Error{Kind: ErrKindConfiguration, Msg: "memory: provider scoping does not match id sign"}
	// ErrNotScoped indicates a scope was requested for an unscoped provider.
	ErrNotScoped = &Error{Kind: ErrKindConfiguration, Msg: "memory: provider is not scoped"}
	// ErrConfigurationFinalized indicates providers can no longer change.
	ErrConfigurationFinalized = &Error{Kind: ErrKindState, Msg: "memory: configuration finalized"}
	// ErrUnknownScope indicates a scope allocator the provider did not issue.
	ErrUnknownScope = &Error{Kind: ErrKindState, Msg: "memory: unknown allocation scope"}
	// ErrClosed indicates use of a closed allocator or context.
	ErrClosed = &Error{Kind: ErrKindState, Msg: "memory: allocator closed"}

	// ErrOutOfMemory indicates the backing allocator is exhausted.
	ErrOutOfMemory = &Error{Kind: ErrKindAllocation, Msg: "memory: out of memory"}
	// ErrNegativeSize indicates a negative or overflowing size request.
	ErrNegativeSize = &Error{Kind: ErrKindAllocation, Msg: "memory: invalid allocation size"}

	// ErrBadPointer indicates an address the allocator did not issue.
	ErrBadPointer = &Error{Kind: ErrKindPointer, Msg: "memory: bad pointer"}
	// ErrDoubleFree indicates a block that is already free was freed again.
	ErrDoubleFree = &Error{Kind: ErrKindPointer, Msg: "memory: double free"}

	// ErrNotOwner indicates an owning operation on a borrowed handle.
	ErrNotOwner = &Error{Kind: ErrKindOwnership, Msg: "memory: handle does not own its memory"}
	// ErrPointerType indicates a type holding Go pointers was placed in unmanaged memory.
	ErrPointerType = &Error{Kind: ErrKindOwnership, Msg: "memory: type contains Go pointers"}
)

// IsKind reports whether err (or anything it wraps) is an *Error of the given kind.
func IsKind(err error, kind ErrKind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
