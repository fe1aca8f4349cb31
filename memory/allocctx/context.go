package allocctx

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/joshuapare/memkit/internal/logger"
	"github.com/joshuapare/memkit/memory"
)

// Implementation is the registry behind a Context.
type Implementation interface {
	SetAllocatorProvider(p Provider, id memory.ProviderID, scoped bool) error
	GetAllocator(id memory.ProviderID) (memory.Allocator, error)
	BeginAllocationScope(id memory.ProviderID) (*Scope, error)
	FreeAllocations(id memory.ProviderID) error
	ClearProvidersAndAllocations() error
	FinalizeConfiguration()
	Close() error
}

type implHolder struct {
	impl Implementation
}

// Context is the entry point for allocation. Every call fails with
// memory.ErrNoImplementation until an Implementation is installed.
type Context struct {
	mu   sync.Mutex // serializes SetImplementation and Close
	impl atomic.Pointer[implHolder]
}

// NewContext returns a context with no implementation installed.
func NewContext() *Context {
	return &Context{}
}

// New returns a context running a Dispatcher configured with cfg.
func New(cfg memory.Config) (*Context, error) {
	d, err := NewDispatcher(&Options{Config: &cfg})
	if err != nil {
		return nil, err
	}
	c := NewContext()
	if err := c.SetImplementation(d); err != nil {
		return nil, err
	}
	return c, nil
}

// SetImplementation installs impl, closing the previous one. A nil impl uninstalls.
func (c *Context) SetImplementation(impl Implementation) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var next *implHolder
	if impl != nil {
		next = &implHolder{impl: impl}
	}
	prev := c.impl.Swap(next)
	if prev == nil {
		return nil
	}
	if impl != nil {
		logger.Info("allocctx: implementation replaced")
	}
	if err := prev.impl.Close(); err != nil {
		return fmt.Errorf("allocctx: close previous implementation: %w", err)
	}
	return nil
}

// Implementation returns the installed implementation, or nil.
func (c *Context) Implementation() Implementation {
	if h := c.impl.Load(); h != nil {
		return h.impl
	}
	return nil
}

func (c *Context) current() (Implementation, error) {
	h := c.impl.Load()
	if h == nil {
		return nil, memory.ErrNoImplementation
	}
	return h.impl, nil
}

// SetAllocatorProvider registers p under id, replacing (and releasing) any provider
// already there. scoped must match the sign of id.
func (c *Context) SetAllocatorProvider(p Provider, id memory.ProviderID, scoped bool) error {
	impl, err := c.current()
	if err != nil {
		return err
	}
	return impl.SetAllocatorProvider(p, id, scoped)
}

// GetAllocator returns the allocator registered under id.
func (c *Context) GetAllocator(id memory.ProviderID) (memory.Allocator, error) {
	impl, err := c.current()
	if err != nil {
		return nil, err
	}
	return impl.GetAllocator(id)
}

// MustGetAllocator is like GetAllocator but panics on error.
func (c *Context) MustGetAllocator(id memory.ProviderID) memory.Allocator {
	a, err := c.GetAllocator(id)
	if err != nil {
		panic(err)
	}
	return a
}

// BeginAllocationScope opens a scope on a scoped provider.
func (c *Context) BeginAllocationScope(id memory.ProviderID) (*Scope, error) {
	impl, err := c.current()
	if err != nil {
		return nil, err
	}
	return impl.BeginAllocationScope(id)
}

// FreeAllocations releases every block currently live under id. Handles still
// referring to those blocks become invalid.
func (c *Context) FreeAllocations(id memory.ProviderID) error {
	impl, err := c.current()
	if err != nil {
		return err
	}
	return impl.FreeAllocations(id)
}

// ClearProvidersAndAllocations resets the registry to its initial state.
func (c *Context) ClearProvidersAndAllocations() error {
	impl, err := c.current()
	if err != nil {
		return err
	}
	return impl.ClearProvidersAndAllocations()
}

// FinalizeConfiguration forbids further provider changes.
func (c *Context) FinalizeConfiguration() error {
	impl, err := c.current()
	if err != nil {
		return err
	}
	impl.FinalizeConfiguration()
	return nil
}

// Close uninstalls and closes the implementation.
func (c *Context) Close() error {
	return c.SetImplementation(nil)
}
