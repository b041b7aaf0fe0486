package group

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printops/driver-config/pkg/rules"
)

func strPtr(v string) *string { return &v }
func boolPtr(v bool) *bool    { return &v }
func intPtr(v int) *int       { return &v }

func testGroup() *Group {
	ruleMap := rules.NewRuleMap()
	ruleMap.Set("isColor", rules.Rule{Hardcoded: boolPtr(true)})

	return &Group{
		ID:            "doc-1",
		GroupID:       "hp-laser",
		GroupName:     "HP LaserJet family",
		Enabled:       true,
		Drivers:       []DriverEntry{{Name: "HP LaserJet 4250"}},
		MetadataRules: ruleMap,
		Version:       1,
		History:       []HistoryEntry{},
		UpdatedAt:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestDriverEntry_Active(t *testing.T) {
	assert.True(t, DriverEntry{Name: "a"}.Active())
	assert.True(t, DriverEntry{Name: "a", Enabled: boolPtr(true)}.Active())
	assert.False(t, DriverEntry{Name: "a", Enabled: boolPtr(false)}.Active())
}

func TestDriverEntry_JSONForms(t *testing.T) {
	var legacy DriverEntry
	require.NoError(t, json.Unmarshal([]byte(`"HP LaserJet 4250"`), &legacy))
	assert.Equal(t, "HP LaserJet 4250", legacy.Name)
	assert.Nil(t, legacy.Enabled)

	out, err := json.Marshal(legacy)
	require.NoError(t, err)
	assert.Equal(t, `"HP LaserJet 4250"`, string(out))

	var flagged DriverEntry
	require.NoError(t, json.Unmarshal([]byte(`{"name":"Xerox 7845","enabled":false}`), &flagged))
	assert.Equal(t, "Xerox 7845", flagged.Name)
	require.NotNil(t, flagged.Enabled)
	assert.False(t, *flagged.Enabled)

	out, err = json.Marshal(flagged)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Xerox 7845","enabled":false}`, string(out))
}

func TestDriverEntry_RequiresName(t *testing.T) {
	var e DriverEntry
	assert.Error(t, json.Unmarshal([]byte(`{"enabled":true}`), &e))
}

func TestDriverSettings_NormalizesLegacyObject(t *testing.T) {
	var s DriverSettings
	require.NoError(t, json.Unmarshal([]byte(`{"driverName":"HP LaserJet 4250","tray":"upper"}`), &s))
	require.Len(t, s, 1)
	assert.Equal(t, "HP LaserJet 4250", s[0].DriverName())
	assert.Equal(t, "upper", s[0]["tray"])
}

func TestDriverSettings_ListPassesThrough(t *testing.T) {
	var s DriverSettings
	require.NoError(t, json.Unmarshal([]byte(`[{"driverName":"a"},{"driverName":"b"}]`), &s))
	require.Len(t, s, 2)
	assert.Equal(t, "a", s[0].DriverName())
	assert.Equal(t, "b", s[1].DriverName())
}

func TestGroup_MarshalHistoryField(t *testing.T) {
	live := testGroup()
	data, err := json.Marshal(live)
	require.NoError(t, err)

	var asMap map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &asMap))
	histRaw, ok := asMap["history"]
	require.True(t, ok, "live documents carry an explicit history array")
	assert.Equal(t, "[]", string(histRaw))

	snapshot := testGroup()
	snapshot.History = nil
	data, err = json.Marshal(snapshot)
	require.NoError(t, err)
	asMap = map[string]json.RawMessage{}
	require.NoError(t, json.Unmarshal(data, &asMap))
	_, ok = asMap["history"]
	assert.False(t, ok, "snapshots omit the history field")
}

func TestGroup_CloneIsDeep(t *testing.T) {
	g := testGroup()
	g.DriverSettings = DriverSettings{{"driverName": "HP LaserJet 4250", "tray": "upper"}}

	clone := g.Clone()
	clone.Drivers[0].Name = "changed"
	clone.DriverSettings[0]["tray"] = "lower"
	clone.MetadataRules.Set("extra", rules.Rule{Hardcoded: boolPtr(false)})

	assert.Equal(t, "HP LaserJet 4250", g.Drivers[0].Name)
	assert.Equal(t, "upper", g.DriverSettings[0]["tray"])
	assert.Equal(t, 1, g.MetadataRules.Len())
}

func TestGroup_ValidateNamesBadRule(t *testing.T) {
	g := testGroup()
	g.MetadataRules.Set("paperSize", rules.Rule{Offset: intPtr(-2), Type: rules.TypeByte})

	err := g.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `rule "paperSize"`)

	var verr *rules.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestNextVersion_Invariants(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	current := testGroup()

	next := NextVersion(current, Patch{GroupName: strPtr("renamed")}, "rename", now)

	assert.Equal(t, 2, next.Version)
	assert.Equal(t, "renamed", next.GroupName)
	assert.Equal(t, now, next.UpdatedAt)
	require.Len(t, next.History, 1)

	entry := next.History[0]
	assert.Equal(t, 1, entry.Version)
	assert.Equal(t, now, entry.SavedAt)
	assert.Equal(t, "rename", entry.ChangeReason)

	require.NotNil(t, entry.Snapshot)
	assert.Equal(t, "HP LaserJet family", entry.Snapshot.GroupName)
	assert.Nil(t, entry.Snapshot.History, "snapshots never nest history")

	// Input document is untouched.
	assert.Equal(t, 1, current.Version)
	assert.Empty(t, current.History)
	assert.Equal(t, "HP LaserJet family", current.GroupName)
}

func TestNextVersion_DefaultChangeReason(t *testing.T) {
	next := NextVersion(testGroup(), Patch{}, "", time.Now().UTC())
	require.Len(t, next.History, 1)
	assert.Equal(t, DefaultChangeReason, next.History[0].ChangeReason)
}

func TestNextVersion_HistoryLengthTracksVersion(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	g := testGroup()

	for i := 0; i < 5; i++ {
		g = NextVersion(g, Patch{Notes: strPtr("pass")}, "", now.Add(time.Duration(i)*time.Minute))
	}

	assert.Equal(t, 6, g.Version)
	require.Len(t, g.History, 5)
	for i, entry := range g.History {
		assert.Equal(t, i+1, entry.Version)
		assert.Nil(t, entry.Snapshot.History)
	}
}

func TestIsTransient(t *testing.T) {
	base := &TransientError{Err: assert.AnError}
	assert.True(t, IsTransient(base))
	assert.True(t, IsTransient(fmt.Errorf("querying: %w", base)))
	assert.False(t, IsTransient(assert.AnError))
}
