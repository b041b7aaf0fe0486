// Package lookup resolves driver names to their owning enabled driver
// group, the read path used by the external print-processing system.
package lookup

import (
	"context"
	"fmt"

	"github.com/printops/driver-config/pkg/group"
)

// Result is the resolution outcome for one queried driver name. A miss
// is not an error: Found is false and Config is null.
type Result struct {
	Driver string       `json:"driver"`
	Found  bool         `json:"found"`
	Config *group.Group `json:"config"`
}

// Resolver maps driver names to their owning enabled group.
type Resolver struct {
	store group.Store
}

// NewResolver creates a resolver over the given store.
func NewResolver(store group.Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve produces one Result per input name, in input order. Duplicate
// names are resolved independently. Matching is a case-sensitive exact
// comparison against the drivers of enabled groups; entries carrying a
// per-driver enabled flag must have it set. When more than one group
// claims a name the first in persisted order wins.
func (r *Resolver) Resolve(ctx context.Context, names []string) ([]Result, error) {
	groups, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading driver groups: %w", err)
	}

	enabled := groups[:0:0]
	for _, g := range groups {
		if g.Enabled {
			enabled = append(enabled, g)
		}
	}

	results := make([]Result, 0, len(names))
	for _, name := range names {
		result := Result{Driver: name}
		for _, g := range enabled {
			if !ownsDriver(g, name) {
				continue
			}
			result.Found = true
			result.Config = narrow(g, name)
			break
		}
		results = append(results, result)
	}
	return results, nil
}

// ownsDriver reports whether the group lists name as an active driver.
func ownsDriver(g *group.Group, name string) bool {
	for _, e := range g.Drivers {
		if e.Name == name && e.Active() {
			return true
		}
	}
	return false
}

// narrow copies the group with driverSettings reduced to the queried
// driver's own blocks, so a multi-driver group never leaks another
// driver's overrides.
func narrow(g *group.Group, name string) *group.Group {
	out := g.Clone()
	if out.DriverSettings == nil {
		return out
	}
	narrowed := make(group.DriverSettings, 0, 1)
	for _, s := range out.DriverSettings {
		if s.DriverName() == name {
			narrowed = append(narrowed, s)
		}
	}
	out.DriverSettings = narrowed
	return out
}
