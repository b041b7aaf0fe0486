// Package group defines the DriverGroup document model and its storage
// contract. A DriverGroup bundles driver names with the metadata
// decoding rules they share, and carries an append-only history of
// full-state snapshots taken on every mutation.
package group

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/printops/driver-config/pkg/rules"
)

// Sentinel errors returned by Store implementations.
var (
	// ErrNotFound reports an unknown document identifier.
	ErrNotFound = errors.New("driver group not found")

	// ErrConflict reports a concurrent update that raced past the
	// version read at the start of the critical section.
	ErrConflict = errors.New("driver group version conflict")

	// ErrDuplicateGroupID reports a Create with a groupId that another
	// document already owns.
	ErrDuplicateGroupID = errors.New("groupId already in use")
)

// DefaultChangeReason is recorded when an update carries no change reason.
const DefaultChangeReason = "update"

// TransientError wraps a store connectivity failure. Transient errors
// are retried with bounded backoff at the store boundary; validation and
// not-found failures never are.
type TransientError struct {
	Err error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	return fmt.Sprintf("transient store error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// DataSource identifies where a group's capability bytes come from.
type DataSource string

// Supported data sources.
const (
	SourceMetadata DataSource = "metadata"
	SourceData     DataSource = "data"
)

// DriverEntry is one driver name in a group. Later schema revisions pair
// the name with a per-driver enabled flag; legacy entries are bare
// strings and carry no flag.
type DriverEntry struct {
	Name    string
	Enabled *bool
}

// Active reports whether the entry participates in lookup resolution.
// Entries without a flag are active.
func (e DriverEntry) Active() bool {
	return e.Enabled == nil || *e.Enabled
}

// MarshalJSON emits the legacy string form when no flag is present.
func (e DriverEntry) MarshalJSON() ([]byte, error) {
	if e.Enabled == nil {
		return json.Marshal(e.Name)
	}
	return json.Marshal(struct {
		Name    string `json:"name"`
		Enabled bool   `json:"enabled"`
	}{Name: e.Name, Enabled: *e.Enabled})
}

// UnmarshalJSON accepts a bare string or a {name, enabled} object.
func (e *DriverEntry) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return errors.New("empty driver entry")
	}
	if data[0] == '"' {
		e.Enabled = nil
		return json.Unmarshal(data, &e.Name)
	}
	var obj struct {
		Name    string `json:"name"`
		Enabled *bool  `json:"enabled"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("parsing driver entry: %w", err)
	}
	if obj.Name == "" {
		return errors.New("driver entry requires a name")
	}
	e.Name = obj.Name
	e.Enabled = obj.Enabled
	return nil
}

// DriverSetting is one per-driver override block. The driverName key
// identifies the driver; the remaining keys are opaque overrides owned
// by the external consumer.
type DriverSetting map[string]any

// DriverName returns the driver this setting block belongs to.
func (s DriverSetting) DriverName() string {
	name, _ := s["driverName"].(string)
	return name
}

// DriverSettings is the canonical ordered-list shape for per-driver
// overrides. Legacy documents stored a single object; UnmarshalJSON
// normalizes that shape to a one-element list so every reader sees one
// representation.
type DriverSettings []DriverSetting

// UnmarshalJSON accepts a list of setting blocks or a single legacy block.
func (s *DriverSettings) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*s = nil
		return nil
	}
	if data[0] == '[' {
		var list []DriverSetting
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("parsing driverSettings: %w", err)
		}
		*s = list
		return nil
	}
	var single DriverSetting
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("parsing legacy driverSettings object: %w", err)
	}
	*s = DriverSettings{single}
	return nil
}

// Group is a DriverGroup document.
type Group struct {
	// ID is the store-internal identifier, assigned on Create.
	ID string `json:"_id,omitempty"`

	// GroupID is the stable external identifier, unique within the store.
	GroupID string `json:"groupId"`

	GroupName  string     `json:"groupName"`
	Notes      string     `json:"notes,omitempty"`
	DataSource DataSource `json:"dataSource,omitempty"`
	Enabled    bool       `json:"enabled"`

	Drivers []DriverEntry `json:"drivers"`

	MetadataRules *rules.RuleMap `json:"metadataRules,omitempty"`

	DriverSettings DriverSettings `json:"driverSettings,omitempty"`

	// Version starts at 1 and increases by exactly 1 per successful
	// update. History holds one entry per superseded version, so
	// len(History) == Version-1 at all times.
	Version int            `json:"version"`
	History []HistoryEntry `json:"history"`

	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// HistoryEntry records one superseded version of a document.
type HistoryEntry struct {
	// Version is the version being superseded.
	Version      int       `json:"version"`
	SavedAt      time.Time `json:"savedAt"`
	ChangeReason string    `json:"changeReason"`

	// Snapshot is a full copy of the document immediately before the
	// mutation, with its own history stripped to avoid unbounded nesting.
	Snapshot *Group `json:"snapshot"`
}

// MarshalJSON emits history as an explicit (possibly empty) array on
// live documents and omits the field entirely on snapshots, which carry
// a nil history.
func (g Group) MarshalJSON() ([]byte, error) {
	type alias Group
	if g.History == nil {
		return json.Marshal(struct {
			alias
			History []HistoryEntry `json:"history,omitempty"`
		}{alias: alias(g)})
	}
	return json.Marshal(alias(g))
}

// Clone returns a deep copy of the document.
func (g *Group) Clone() *Group {
	if g == nil {
		return nil
	}
	out := *g
	if g.Drivers != nil {
		out.Drivers = make([]DriverEntry, len(g.Drivers))
		for i, e := range g.Drivers {
			out.Drivers[i] = DriverEntry{Name: e.Name}
			if e.Enabled != nil {
				v := *e.Enabled
				out.Drivers[i].Enabled = &v
			}
		}
	}
	out.MetadataRules = g.MetadataRules.Clone()
	if g.DriverSettings != nil {
		out.DriverSettings = make(DriverSettings, len(g.DriverSettings))
		for i, s := range g.DriverSettings {
			setting := make(DriverSetting, len(s))
			for k, v := range s {
				setting[k] = v
			}
			out.DriverSettings[i] = setting
		}
	}
	if g.History != nil {
		out.History = make([]HistoryEntry, len(g.History))
		copy(out.History, g.History)
	}
	return &out
}

// Validate checks every metadata rule in the document, rejecting the
// whole document on the first invalid rule.
func (g *Group) Validate() error {
	if g.MetadataRules == nil {
		return nil
	}
	for _, name := range g.MetadataRules.Names() {
		rule, _ := g.MetadataRules.Get(name)
		if err := rules.Validate(rule); err != nil {
			return fmt.Errorf("rule %q: %w", name, err)
		}
	}
	return nil
}

// NextVersion builds the successor document for an update: a
// history-stripped snapshot of current is appended to the history, the
// patch is applied, and the version advances by exactly one. current is
// not mutated.
func NextVersion(current *Group, p Patch, changeReason string, now time.Time) *Group {
	if changeReason == "" {
		changeReason = DefaultChangeReason
	}

	snapshot := current.Clone()
	snapshot.History = nil

	next := current.Clone()
	p.applyTo(next)
	next.History = append(next.History, HistoryEntry{
		Version:      current.Version,
		SavedAt:      now,
		ChangeReason: changeReason,
		Snapshot:     snapshot,
	})
	next.Version = current.Version + 1
	next.UpdatedAt = now
	return next
}

// Store is the persistence contract for DriverGroup documents. All
// mutations are synchronous: a caller never observes a partially applied
// write.
type Store interface {
	// Create persists a new document with version 1 and empty history,
	// returning the stored form. Every metadata rule is validated first;
	// the document is rejected whole on the first invalid rule.
	Create(ctx context.Context, g *Group) (*Group, error)

	// Get returns the current document or ErrNotFound.
	Get(ctx context.Context, id string) (*Group, error)

	// List returns all documents in persisted order. No pagination; the
	// expected corpus is small.
	List(ctx context.Context) ([]*Group, error)

	// Update applies a partial document on top of the current state,
	// recording a history snapshot and bumping the version by one. The
	// read-modify-write sequence is linearizable per document: a
	// concurrent update racing past the version read fails with
	// ErrConflict. Returns the new version.
	Update(ctx context.Context, id string, p Patch, changeReason string) (int, error)

	// Delete removes the document and its history irrecoverably.
	// Returns ErrNotFound for unknown identifiers on every attempt.
	Delete(ctx context.Context, id string) error
}
