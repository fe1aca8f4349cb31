package cache

import "math"

// classAlign is the granularity of every class capacity.
const classAlign = 16

// SizeClassConfig defines the size class strategy of a Cache.
// Different configurations trade reuse rate against internal fragmentation.
type SizeClassConfig struct {
	// Name for this configuration (for benchmarking)
	Name string

	// Small classes (linear increments)
	SmallMin       int // Smallest class capacity, header included (typically 16)
	SmallMax       int // Last linear class (typically 512-1024)
	SmallIncrement int // Step between small classes (16 or 32)

	// Medium classes (geometric growth). Blocks above MediumMax are never cached.
	MediumMax    int
	GrowthFactor float64
}

// Predefined configurations.
var (
	// FineGrained: many classes, little rounding waste, lower cross-size reuse.
	// 16-1024 step 16 (64 classes) + 1K-4M at x1.125 (~71 classes).
	ConfigFineGrained = SizeClassConfig{
		Name:           "FineGrained",
		SmallMin:       16,
		SmallMax:       1024,
		SmallIncrement: 16,
		MediumMax:      4 << 20,
		GrowthFactor:   1.125,
	}

	// Balanced: at most 25% rounding waste above 512 bytes.
	// 16-512 step 16 (32 classes) + 512-4M at x1.25 (~41 classes).
	ConfigBalanced = SizeClassConfig{
		Name:           "Balanced",
		SmallMin:       16,
		SmallMax:       512,
		SmallIncrement: 16,
		MediumMax:      4 << 20,
		GrowthFactor:   1.25,
	}

	// Coarse: power-of-two medium classes, highest reuse, up to 50% waste.
	// 16-512 step 32 (16 classes) + 512-4M at x2 (13 classes).
	ConfigCoarse = SizeClassConfig{
		Name:           "Coarse",
		SmallMin:       16,
		SmallMax:       512,
		SmallIncrement: 32,
		MediumMax:      4 << 20,
		GrowthFactor:   2.0,
	}

	// DefaultSizeClasses is used if none is specified.
	DefaultSizeClasses = ConfigBalanced
)

// sizeClassTable holds the computed class capacities in ascending order.
type sizeClassTable struct {
	config     SizeClassConfig
	bounds     []int // Capacity of each class (header included)
	numClasses int
}

// newSizeClassTable computes class capacities from config.
func newSizeClassTable(config SizeClassConfig) *sizeClassTable {
	table := &sizeClassTable{
		config: config,
		bounds: make([]int, 0, 96),
	}

	inc := max(config.SmallIncrement, classAlign)
	first := alignClass(max(config.SmallMin, classAlign))

	// Phase 1: small classes (linear increments)
	for size := first; size <= config.SmallMax; size += inc {
		table.bounds = append(table.bounds, alignClass(size))
	}

	// Phase 2: medium classes (geometric growth)
	size := first
	if n := len(table.bounds); n > 0 {
		size = table.bounds[n-1]
	}
	for size < config.MediumMax {
		next := alignClass(int(math.Ceil(float64(size) * config.GrowthFactor)))
		if next <= size {
			next = size + classAlign // Ensure progress
		}
		next = min(next, config.MediumMax)
		table.bounds = append(table.bounds, next)
		size = next
	}

	table.numClasses = len(table.bounds)
	return table
}

// classFor returns the smallest class whose capacity holds need bytes.
// Returns numClasses when need exceeds every class (uncached).
func (t *sizeClassTable) classFor(need int) int {
	lo, hi := 0, t.numClasses-1
	for lo <= hi {
		mid := (lo + hi) / 2
		if need <= t.bounds[mid] {
			if mid == 0 || need > t.bounds[mid-1] {
				return mid
			}
			hi = mid - 1
		} else {
			lo = mid + 1
		}
	}
	return t.numClasses
}

// floorClass returns the largest class whose capacity is <= capacity, so that any
// block filed there satisfies every request of that class. Returns -1 when the block
// is smaller than the first class or larger than the last.
func (t *sizeClassTable) floorClass(capacity int) int {
	if t.numClasses == 0 || capacity < t.bounds[0] || capacity > t.bounds[t.numClasses-1] {
		return -1
	}
	sc := t.classFor(capacity)
	if sc < t.numClasses && t.bounds[sc] == capacity {
		return sc
	}
	return sc - 1
}

// bound returns the capacity of class sc.
func (t *sizeClassTable) bound(sc int) int { return t.bounds[sc] }

// String returns a human-readable description of the size class table.
func (t *sizeClassTable) String() string {
	return t.config.Name
}

// NumClasses returns the number of size classes.
func (t *sizeClassTable) NumClasses() int {
	return t.numClasses
}

func alignClass(n int) int {
	return (n + classAlign - 1) &^ (classAlign - 1)
}
