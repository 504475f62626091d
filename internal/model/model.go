// Package model defines the typed, immutable resource declarations the
// engine reconciles against real-world state.
package model

import (
	"fmt"
	"sort"
)

// ResourceID identifies a declared resource by kind and name.
type ResourceID struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
}

func (id ResourceID) String() string {
	return fmt.Sprintf("%s.%s", id.Kind, id.Name)
}

// Reference is a typed pointer at another resource's computed output.
type Reference struct {
	Target     ResourceID `json:"target"`
	OutputPath string     `json:"outputPath"`
}

// SecretRef addresses a single key inside a secret-source document.
// The engine fetches the document at execute time and never persists
// the resolved value.
type SecretRef struct {
	Path string `json:"path"`
	Key  string `json:"key"`
}

// Resource is a single declared resource.
type Resource struct {
	ID         ResourceID       `json:"id"`
	Provider   string           `json:"provider"`
	Attributes map[string]Value `json:"attributes"`
	DependsOn  []ResourceID     `json:"dependsOn,omitempty"`
}

// Model is the full desired configuration for one run. It is treated as
// immutable once constructed; declaration order is preserved for stable
// planning.
type Model struct {
	Resources []*Resource `json:"resources"`
}

// Empty returns a model with no resources, the desired state of a destroy run.
func Empty() *Model {
	return &Model{}
}

// Get returns the declared resource with the given id, or nil.
func (m *Model) Get(id ResourceID) *Resource {
	for _, r := range m.Resources {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// ModelError reports a malformed model: unresolved references, duplicate
// ids, or missing required fields. It is always fatal and surfaced before
// any plan is produced.
type ModelError struct {
	Resource ResourceID
	Detail   string
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("invalid model: %s: %s", e.Resource, e.Detail)
}

// ValidateShape checks the model's local invariants: required fields,
// duplicate ids, and self references through attributes or dependsOn.
// Reference targets are deliberately not checked; a reference may legally
// point at a resource that exists only in prior state, and the planner
// classifies those with state in hand.
func (m *Model) ValidateShape() error {
	seen := make(map[ResourceID]bool, len(m.Resources))
	for _, r := range m.Resources {
		if r.ID.Kind == "" || r.ID.Name == "" {
			return &ModelError{Resource: r.ID, Detail: "kind and name are required"}
		}
		if seen[r.ID] {
			return &ModelError{Resource: r.ID, Detail: "duplicate resource id"}
		}
		seen[r.ID] = true
	}

	for _, r := range m.Resources {
		for _, dep := range r.DependsOn {
			if dep == r.ID {
				return &ModelError{Resource: r.ID, Detail: "dependsOn references the resource itself"}
			}
		}
		for attr, v := range r.Attributes {
			for _, ref := range v.References() {
				if ref.Target == r.ID {
					return &ModelError{Resource: r.ID, Detail: fmt.Sprintf("attribute %q references the resource itself", attr)}
				}
			}
		}
	}
	return nil
}

// Validate runs ValidateShape and additionally requires every reference and
// dependsOn target to be declared in the model or listed in resolvable
// (typically ids still present in prior state). A target in neither set is
// a ModelError; whether a resolvable target is safe to destroy is the
// planner's call.
func (m *Model) Validate(resolvable map[ResourceID]bool) error {
	if err := m.ValidateShape(); err != nil {
		return err
	}

	seen := make(map[ResourceID]bool, len(m.Resources))
	for _, r := range m.Resources {
		seen[r.ID] = true
	}
	declared := func(id ResourceID) bool {
		return seen[id] || (resolvable != nil && resolvable[id])
	}

	for _, r := range m.Resources {
		for _, dep := range r.DependsOn {
			if !declared(dep) {
				return &ModelError{Resource: r.ID, Detail: fmt.Sprintf("dependsOn references undeclared resource %s", dep)}
			}
		}
		for attr, v := range r.Attributes {
			for _, ref := range v.References() {
				if !declared(ref.Target) {
					return &ModelError{Resource: r.ID, Detail: fmt.Sprintf("attribute %q references undeclared resource %s", attr, ref.Target)}
				}
			}
		}
	}
	return nil
}

// ReferencedBy returns the ids of model resources that reference or depend
// on target, sorted for deterministic error messages.
func (m *Model) ReferencedBy(target ResourceID) []ResourceID {
	var out []ResourceID
	for _, r := range m.Resources {
		if r.ID == target {
			continue
		}
		found := false
		for _, dep := range r.DependsOn {
			if dep == target {
				found = true
				break
			}
		}
		if !found {
			for _, v := range r.Attributes {
				for _, ref := range v.References() {
					if ref.Target == target {
						found = true
						break
					}
				}
				if found {
					break
				}
			}
		}
		if found {
			out = append(out, r.ID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
