package group

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printops/driver-config/pkg/rules"
)

func TestParsePatch_KnownFields(t *testing.T) {
	body := []byte(`{
		"groupName": "Renamed",
		"enabled": false,
		"drivers": ["HP LaserJet 4250", {"name": "Xerox 7845", "enabled": false}],
		"metadataRules": {"isColor": {"hardcoded": true}},
		"_changeReason": "quarterly cleanup"
	}`)

	p, reason, err := ParsePatch(body)
	require.NoError(t, err)
	assert.Equal(t, "quarterly cleanup", reason)

	require.NotNil(t, p.GroupName)
	assert.Equal(t, "Renamed", *p.GroupName)
	require.NotNil(t, p.Enabled)
	assert.False(t, *p.Enabled)
	require.NotNil(t, p.Drivers)
	require.Len(t, *p.Drivers, 2)
	assert.Equal(t, "HP LaserJet 4250", (*p.Drivers)[0].Name)
	require.NotNil(t, p.MetadataRules)
	assert.Equal(t, []string{"isColor"}, p.MetadataRules.Names())

	assert.Nil(t, p.Notes)
	assert.Nil(t, p.GroupID)
	assert.Nil(t, p.DriverSettings)
}

func TestParsePatch_RejectsStoreOwnedFields(t *testing.T) {
	for _, field := range []string{"_id", "version", "history", "updatedAt"} {
		body := []byte(`{"groupName": "x", "` + field + `": 1}`)
		_, _, err := ParsePatch(body)

		var verr *rules.ValidationError
		require.ErrorAs(t, err, &verr, "field %s", field)
		assert.Equal(t, field, verr.Field)
	}
}

func TestParsePatch_RejectsNonObject(t *testing.T) {
	_, _, err := ParsePatch([]byte(`[1,2]`))
	var verr *rules.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "body", verr.Field)
}

func TestParsePatch_RejectsNonStringChangeReason(t *testing.T) {
	_, _, err := ParsePatch([]byte(`{"_changeReason": 42}`))
	var verr *rules.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "_changeReason", verr.Field)
}

func TestParsePatch_MalformedField(t *testing.T) {
	_, _, err := ParsePatch([]byte(`{"enabled": "yes"}`))
	var verr *rules.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "enabled", verr.Field)
}

func TestParsePatch_SurfacesNestedValidationError(t *testing.T) {
	// A malformed mapping inside metadataRules keeps its own field name.
	_, _, err := ParsePatch([]byte(`{"metadataRules": {"r": {"mapping": [1]}}}`))
	var verr *rules.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "mapping", verr.Field)
}

func TestPatch_ValidateChecksRules(t *testing.T) {
	ruleMap := rules.NewRuleMap()
	ruleMap.Set("bad", rules.Rule{})

	err := Patch{MetadataRules: ruleMap}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `rule "bad"`)

	assert.NoError(t, Patch{}.Validate())
}

func TestPatch_ApplyToLeavesAbsentFieldsAlone(t *testing.T) {
	g := testGroup()
	g.Notes = "original notes"

	Patch{GroupName: strPtr("Renamed")}.applyTo(g)

	assert.Equal(t, "Renamed", g.GroupName)
	assert.Equal(t, "original notes", g.Notes)
	assert.Equal(t, "hp-laser", g.GroupID)
	assert.True(t, g.Enabled)
}

func TestPatch_ApplyToClonesRuleMap(t *testing.T) {
	g := testGroup()
	ruleMap := rules.NewRuleMap()
	ruleMap.Set("isColor", rules.Rule{Hardcoded: boolPtr(true)})

	Patch{MetadataRules: ruleMap}.applyTo(g)

	// Mutating the patch's map afterwards must not reach the document.
	ruleMap.Set("duplexer", rules.Rule{Hardcoded: boolPtr(false)})
	assert.Equal(t, []string{"isColor"}, g.MetadataRules.Names())
}

func TestPatch_ApplyToReplacesWholeCollections(t *testing.T) {
	g := testGroup()
	newDrivers := []DriverEntry{{Name: "only"}}
	newSettings := DriverSettings{{"driverName": "only"}}

	Patch{Drivers: &newDrivers, DriverSettings: &newSettings}.applyTo(g)

	require.Len(t, g.Drivers, 1)
	assert.Equal(t, "only", g.Drivers[0].Name)
	require.Len(t, g.DriverSettings, 1)
}
