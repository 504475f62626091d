package model

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// LoadFile reads a model document from disk. The document is a JSON object
// with a "resources" array; attribute values use the wire form understood
// by Value ({"$ref": ...} and {"$secret": ...} markers).
func LoadFile(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a model document and checks its local invariants. Reference
// targets are not resolved here: a document may reference resources that now
// exist only in prior state, which the planner classifies once it has that
// state.
func Parse(data []byte) (*Model, error) {
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode model document: %w", err)
	}
	if err := m.ValidateShape(); err != nil {
		return nil, err
	}
	return &m, nil
}

// ParseID parses an id of the form "kind.name". Kinds may contain dots
// ("EC2.Vpc"); the segment after the last dot is the name.
func ParseID(s string) (ResourceID, error) {
	i := strings.LastIndex(s, ".")
	if i <= 0 || i == len(s)-1 {
		return ResourceID{}, fmt.Errorf("invalid resource id %q: expected kind.name", s)
	}
	return ResourceID{Kind: s[:i], Name: s[i+1:]}, nil
}
