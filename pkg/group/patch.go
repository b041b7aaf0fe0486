package group

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/printops/driver-config/pkg/rules"
)

// Patch is a partial DriverGroup. Nil fields are absent from the patch
// and leave the document untouched. The store-owned fields (_id,
// version, history, updatedAt) have no Patch counterpart on purpose.
type Patch struct {
	GroupID        *string
	GroupName      *string
	Notes          *string
	DataSource     *DataSource
	Enabled        *bool
	Drivers        *[]DriverEntry
	MetadataRules  *rules.RuleMap
	DriverSettings *DriverSettings
}

// storeOwnedFields may never appear in a caller-supplied patch body.
var storeOwnedFields = []string{"_id", "version", "history", "updatedAt"}

// ParsePatch decodes a partial-document request body. The _changeReason
// key is extracted and returned separately, never written onto the
// document. A body carrying a store-owned field is rejected with a
// ValidationError naming the field.
func ParsePatch(body []byte) (Patch, string, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return Patch{}, "", &rules.ValidationError{Field: "body", Message: "must be a JSON object"}
	}

	for _, field := range storeOwnedFields {
		if _, ok := raw[field]; ok {
			return Patch{}, "", &rules.ValidationError{Field: field, Message: "is store-owned and cannot be supplied"}
		}
	}

	var changeReason string
	if data, ok := raw["_changeReason"]; ok {
		if err := json.Unmarshal(data, &changeReason); err != nil {
			return Patch{}, "", &rules.ValidationError{Field: "_changeReason", Message: "must be a string"}
		}
	}

	var p Patch
	fields := map[string]any{
		"groupId":        &p.GroupID,
		"groupName":      &p.GroupName,
		"notes":          &p.Notes,
		"dataSource":     &p.DataSource,
		"enabled":        &p.Enabled,
		"drivers":        &p.Drivers,
		"metadataRules":  &p.MetadataRules,
		"driverSettings": &p.DriverSettings,
	}
	for key, dst := range fields {
		data, ok := raw[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(data, dst); err != nil {
			var verr *rules.ValidationError
			if errors.As(err, &verr) {
				return Patch{}, "", verr
			}
			return Patch{}, "", &rules.ValidationError{Field: key, Message: fmt.Sprintf("malformed value: %v", err)}
		}
	}

	return p, changeReason, nil
}

// Validate checks every metadata rule present in the patch.
func (p Patch) Validate() error {
	if p.MetadataRules == nil {
		return nil
	}
	for _, name := range p.MetadataRules.Names() {
		rule, _ := p.MetadataRules.Get(name)
		if err := rules.Validate(rule); err != nil {
			return fmt.Errorf("rule %q: %w", name, err)
		}
	}
	return nil
}

// applyTo writes the patch's present fields onto the document.
func (p Patch) applyTo(g *Group) {
	if p.GroupID != nil {
		g.GroupID = *p.GroupID
	}
	if p.GroupName != nil {
		g.GroupName = *p.GroupName
	}
	if p.Notes != nil {
		g.Notes = *p.Notes
	}
	if p.DataSource != nil {
		g.DataSource = *p.DataSource
	}
	if p.Enabled != nil {
		g.Enabled = *p.Enabled
	}
	if p.Drivers != nil {
		g.Drivers = *p.Drivers
	}
	if p.MetadataRules != nil {
		g.MetadataRules = p.MetadataRules.Clone()
	}
	if p.DriverSettings != nil {
		g.DriverSettings = *p.DriverSettings
	}
}
