package allocctx

import (
	"fmt"
	"sync"

	"github.com/joshuapare/memkit/memory"
)

// Scope is an open allocation scope. Close releases everything allocated in it.
type Scope struct {
	id    memory.ProviderID
	alloc memory.Allocator
	end   func() error

	once sync.Once
	err  error
}

// NewScope builds a scope token. end runs once, on the first Close.
func NewScope(id memory.ProviderID, alloc memory.Allocator, end func() error) *Scope {
	return &Scope{id: id, alloc: alloc, end: end}
}

// Allocator serves blocks that live until the scope closes.
func (s *Scope) Allocator() memory.Allocator { return s.alloc }

// GetAllocator returns the scope's allocator when id is the scope's provider, so a
// Scope can stand in for the Context when allocating values that live in it.
func (s *Scope) GetAllocator(id memory.ProviderID) (memory.Allocator, error) {
	if id != s.id {
		return nil, fmt.Errorf("allocctx: scope on %s asked for %s: %w", s.id, id, memory.ErrUnknownProvider)
	}
	return s.alloc, nil
}

// ID is the provider the scope belongs to.
func (s *Scope) ID() memory.ProviderID { return s.id }

// Close ends the scope. Repeated calls return the first result.
func (s *Scope) Close() error {
	s.once.Do(func() {
		if s.end != nil {
			s.err = s.end()
		}
	})
	return s.err
}
