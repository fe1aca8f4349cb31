package memory

import "strconv"

// ProviderID names an allocator provider registered in an allocation context.
// Positive ids are scoped, negative ids are unscoped.
type ProviderID int32

const (
	// Invalid never names a provider; disposed handles carry it.
	Invalid ProviderID = 0
	// Default is the scoped system provider.
	Default ProviderID = 1
	// ScopedUserMin is the first id available for user scoped providers.
	ScopedUserMin ProviderID = 16

	// DefaultUnscoped is the cached unscoped system provider.
	DefaultUnscoped ProviderID = -1
	// DefaultUncachedUnscoped serves straight from native memory.
	DefaultUncachedUnscoped ProviderID = -2
	// UnscopedUserMax is the first (highest) id available for user unscoped providers.
	UnscopedUserMax ProviderID = -16
)

// IsScoped reports whether allocations under id are bound to scopes.
func (id ProviderID) IsScoped() bool { return id > 0 }

// IsSystem reports whether id is one of the ids the engine installs itself.
func (id ProviderID) IsSystem() bool {
	return id == Default || id == DefaultUnscoped || id == DefaultUncachedUnscoped
}

// IsUser reports whether id lies in one of the user ranges.
func (id ProviderID) IsUser() bool { return id >= ScopedUserMin || id <= UnscopedUserMax }

// IsReserved reports whether id is reserved: Invalid, a system id, or an unassigned
// id between the system and user ranges.
func (id ProviderID) IsReserved() bool { return !id.IsUser() }

// String returns a readable name for id.
func (id ProviderID) String() string {
	switch id {
	case Invalid:
		return "invalid"
	case Default:
		return "default"
	case DefaultUnscoped:
		return "default-unscoped"
	case DefaultUncachedUnscoped:
		return "default-uncached-unscoped"
	}
	return strconv.Itoa(int(id))
}
