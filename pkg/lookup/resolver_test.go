package lookup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printops/driver-config/pkg/group"
)

func boolPtr(v bool) *bool { return &v }

func seedStore(t *testing.T, groups ...*group.Group) *group.MemoryStore {
	t.Helper()
	store := group.NewMemoryStore()
	for _, g := range groups {
		_, err := store.Create(context.Background(), g)
		require.NoError(t, err)
	}
	return store
}

func laserGroup() *group.Group {
	return &group.Group{
		GroupID:   "hp-laser",
		GroupName: "HP LaserJet family",
		Enabled:   true,
		Drivers: []group.DriverEntry{
			{Name: "HP LaserJet 4250"},
			{Name: "HP LaserJet M606"},
		},
		DriverSettings: group.DriverSettings{
			{"driverName": "HP LaserJet 4250", "tray": "upper"},
			{"driverName": "HP LaserJet M606", "tray": "lower"},
		},
	}
}

func TestResolve_FoundAndMiss(t *testing.T) {
	resolver := NewResolver(seedStore(t, laserGroup()))

	results, err := resolver.Resolve(context.Background(), []string{"HP LaserJet 4250", "Unknown Driver"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "HP LaserJet 4250", results[0].Driver)
	assert.True(t, results[0].Found)
	require.NotNil(t, results[0].Config)
	assert.Equal(t, "hp-laser", results[0].Config.GroupID)

	assert.Equal(t, "Unknown Driver", results[1].Driver)
	assert.False(t, results[1].Found)
	assert.Nil(t, results[1].Config)
}

func TestResolve_DuplicateNamesResolveIndependently(t *testing.T) {
	resolver := NewResolver(seedStore(t, laserGroup()))

	results, err := resolver.Resolve(context.Background(), []string{"HP LaserJet 4250", "HP LaserJet 4250"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Found)
	assert.True(t, results[1].Found)
}

func TestResolve_SkipsDisabledGroups(t *testing.T) {
	disabled := laserGroup()
	disabled.Enabled = false

	resolver := NewResolver(seedStore(t, disabled))

	results, err := resolver.Resolve(context.Background(), []string{"HP LaserJet 4250"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Found)
}

func TestResolve_SkipsInactiveDriverEntries(t *testing.T) {
	g := laserGroup()
	g.Drivers[0].Enabled = boolPtr(false)

	resolver := NewResolver(seedStore(t, g))

	results, err := resolver.Resolve(context.Background(), []string{"HP LaserJet 4250", "HP LaserJet M606"})
	require.NoError(t, err)
	assert.False(t, results[0].Found, "per-driver disabled entries do not resolve")
	assert.True(t, results[1].Found)
}

func TestResolve_MatchIsCaseSensitive(t *testing.T) {
	resolver := NewResolver(seedStore(t, laserGroup()))

	results, err := resolver.Resolve(context.Background(), []string{"hp laserjet 4250"})
	require.NoError(t, err)
	assert.False(t, results[0].Found)
}

func TestResolve_FirstGroupInPersistedOrderWins(t *testing.T) {
	first := laserGroup()
	second := laserGroup()
	second.GroupID = "hp-laser-legacy"

	resolver := NewResolver(seedStore(t, first, second))

	results, err := resolver.Resolve(context.Background(), []string{"HP LaserJet 4250"})
	require.NoError(t, err)
	require.True(t, results[0].Found)
	assert.Equal(t, "hp-laser", results[0].Config.GroupID)
}

func TestResolve_NarrowsDriverSettings(t *testing.T) {
	resolver := NewResolver(seedStore(t, laserGroup()))

	results, err := resolver.Resolve(context.Background(), []string{"HP LaserJet M606"})
	require.NoError(t, err)
	require.True(t, results[0].Found)

	settings := results[0].Config.DriverSettings
	require.Len(t, settings, 1)
	assert.Equal(t, "HP LaserJet M606", settings[0].DriverName())
	assert.Equal(t, "lower", settings[0]["tray"])
}

func TestResolve_EmptyQuery(t *testing.T) {
	resolver := NewResolver(seedStore(t, laserGroup()))

	results, err := resolver.Resolve(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}
