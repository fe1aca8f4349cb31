package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSizeClassTables(t *testing.T) {
	for _, cfg := range []SizeClassConfig{ConfigFineGrained, ConfigBalanced, ConfigCoarse} {
		t.Run(cfg.Name, func(t *testing.T) {
			table := newSizeClassTable(cfg)
			require.Positive(t, table.NumClasses())
			require.Equal(t, cfg.Name, table.String())
			require.Equal(t, cfg.MediumMax, table.bound(table.NumClasses()-1))

			prev := 0
			for i := range table.NumClasses() {
				b := table.bound(i)
				require.Greater(t, b, prev, "class %d not ascending", i)
				require.Zero(t, b%classAlign, "class %d misaligned", i)
				prev = b
			}
		})
	}
}

func TestClassFor(t *testing.T) {
	table := newSizeClassTable(ConfigBalanced)

	tests := []struct {
		need int
		want int
	}{
		{1, 16},
		{16, 16},
		{17, 32},
		{512, 512},
		{513, 640},
		{4 << 20, 4 << 20},
	}
	for _, tt := range tests {
		sc := table.classFor(tt.need)
		require.Less(t, sc, table.NumClasses(), "need %d", tt.need)
		require.Equal(t, tt.want, table.bound(sc), "need %d", tt.need)
	}

	require.Equal(t, table.NumClasses(), table.classFor(4<<20+1))
}

func TestFloorClass(t *testing.T) {
	table := newSizeClassTable(ConfigBalanced)

	require.Equal(t, -1, table.floorClass(8))
	require.Equal(t, -1, table.floorClass(4<<20+16))

	sc := table.floorClass(512)
	require.Equal(t, 512, table.bound(sc))

	// A block between two classes files under the smaller one.
	sc = table.floorClass(600)
	require.Equal(t, 512, table.bound(sc))
}
