// Package state persists the last-applied record per resource. It is the
// only component with a retained lifecycle; the executor is its sole writer.
package state

import (
	"encoding/json"
	"fmt"

	"github.com/stackform-io/stackform/internal/model"
)

// SchemaVersion tags every persisted record so future engine versions can
// migrate. Unknown fields written by newer versions survive a rewrite.
const SchemaVersion = 1

// Record is the durable result of the last successful apply of one resource.
type Record struct {
	ID            model.ResourceID `json:"id"`
	Provider      string           `json:"provider"`
	SchemaVersion int              `json:"schemaVersion"`
	// Attributes as actually applied: references resolved to concrete
	// values, secrets masked to their opaque tokens.
	Attributes map[string]any `json:"attributes"`
	// Outputs returned by the provider, including the resource handle.
	Outputs      map[string]any     `json:"outputs"`
	Handle       string             `json:"handle"`
	Dependencies []model.ResourceID `json:"dependencies,omitempty"`

	// unknown holds fields this engine version does not understand.
	unknown map[string]json.RawMessage
}

var knownRecordFields = map[string]bool{
	"id": true, "provider": true, "schemaVersion": true,
	"attributes": true, "outputs": true, "handle": true, "dependencies": true,
}

// recordAlias avoids recursing into the custom (un)marshalers.
type recordAlias Record

// UnmarshalJSON decodes known fields and retains the rest verbatim.
func (r *Record) UnmarshalJSON(data []byte) error {
	var alias recordAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k := range raw {
		if knownRecordFields[k] {
			delete(raw, k)
		}
	}
	*r = Record(alias)
	if len(raw) > 0 {
		r.unknown = raw
	}
	return nil
}

// MarshalJSON re-emits retained unknown fields alongside the known ones.
func (r Record) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(recordAlias(r))
	if err != nil {
		return nil, err
	}
	if len(r.unknown) == 0 {
		return data, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for k, v := range r.unknown {
		if _, taken := merged[k]; !taken {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// Snapshot is the in-memory view of persisted state for one run.
type Snapshot struct {
	Serial    int                `json:"serial"`
	Lineage   string             `json:"lineage"`
	Resources map[string]*Record `json:"resources"` // keyed by ResourceID.String()
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{Resources: make(map[string]*Record)}
}

// Get returns the record for id, or nil.
func (s *Snapshot) Get(id model.ResourceID) *Record {
	return s.Resources[id.String()]
}

// IDs returns every resource id present in the snapshot.
func (s *Snapshot) IDs() []model.ResourceID {
	out := make([]model.ResourceID, 0, len(s.Resources))
	for _, rec := range s.Resources {
		out = append(out, rec.ID)
	}
	return out
}

// Clone deep-copies the snapshot via its JSON form. The executor works on a
// clone so the caller's view is untouched until commits land.
func (s *Snapshot) Clone() (*Snapshot, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to clone snapshot: %w", err)
	}
	var out Snapshot
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out.Resources == nil {
		out.Resources = make(map[string]*Record)
	}
	return &out, nil
}

// Store is the durable home of a Snapshot. Commit and Remove are atomic per
// resource: a crash between two commits never leaves a torn record, so a
// partial apply is always resumable. Writes must not be reordered or batched
// across resources.
type Store interface {
	Load() (*Snapshot, error)
	Commit(rec *Record) error
	Remove(id model.ResourceID) error
}
