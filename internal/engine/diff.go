package engine

import (
	"reflect"

	"github.com/stackform-io/stackform/internal/model"
	"github.com/stackform-io/stackform/internal/provider"
	"github.com/stackform-io/stackform/internal/state"
)

// AttrDiff is the planned change for one attribute.
type AttrDiff struct {
	Before any
	After  any
	// Unknown marks an After value that depends on an output not yet
	// computed this run.
	Unknown bool
	// ForcesReplacement is set when the provider schema marks this
	// attribute as immutable.
	ForcesReplacement bool
}

// diffAttributes structurally compares the last-applied attributes with the
// desired ones, resolving references that are already known and treating the
// rest as unknown. Unknown values always count as changed: the dependency's
// step will produce fresh outputs.
func diffAttributes(priorAttrs map[string]any, res *model.Resource, snap *state.Snapshot, pending map[model.ResourceID]bool, schema provider.Schema) map[string]AttrDiff {
	diff := make(map[string]AttrDiff)

	for name, v := range res.Attributes {
		after := resolveForPlan(v, snap, pending)
		before, had := priorAttrs[name]
		if isUnknown(after) {
			diff[name] = AttrDiff{Before: before, After: after, Unknown: true}
			continue
		}
		if !had || !equalValues(before, after) {
			diff[name] = AttrDiff{Before: before, After: after}
		}
	}

	for name, before := range priorAttrs {
		if _, declared := res.Attributes[name]; !declared {
			diff[name] = AttrDiff{Before: before, After: nil}
		}
	}

	// Unknown-valued changes never force replacement on their own: an
	// upstream update should not cascade into destroys.
	for _, key := range schema.ForcesReplacement {
		if d, ok := diff[key]; ok && !d.Unknown {
			d.ForcesReplacement = true
			diff[key] = d
		}
	}

	return diff
}

// createDiff renders every attribute of a new resource as a change.
func createDiff(res *model.Resource, snap *state.Snapshot, pending map[model.ResourceID]bool) map[string]AttrDiff {
	diff := make(map[string]AttrDiff, len(res.Attributes))
	for name, v := range res.Attributes {
		after := resolveForPlan(v, snap, pending)
		diff[name] = AttrDiff{After: after, Unknown: isUnknown(after)}
	}
	return diff
}

// destroyDiff renders every recorded attribute as removed.
func destroyDiff(rec *state.Record) map[string]AttrDiff {
	diff := make(map[string]AttrDiff, len(rec.Attributes))
	for name, before := range rec.Attributes {
		diff[name] = AttrDiff{Before: before}
	}
	return diff
}

// forcesReplacement reports whether any changed attribute is marked
// immutable by the provider schema.
func forcesReplacement(diff map[string]AttrDiff) bool {
	for _, d := range diff {
		if d.ForcesReplacement {
			return true
		}
	}
	return false
}

// equalValues compares structurally, normalizing numeric types, since
// attributes round-trip through JSON state.
func equalValues(a, b any) bool {
	if na, ok := toFloat(a); ok {
		if nb, ok := toFloat(b); ok {
			return na == nb
		}
		return false
	}
	switch ta := a.(type) {
	case []any:
		tb, ok := b.([]any)
		if !ok || len(ta) != len(tb) {
			return false
		}
		for i := range ta {
			if !equalValues(ta[i], tb[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		tb, ok := b.(map[string]any)
		if !ok || len(ta) != len(tb) {
			return false
		}
		for k, va := range ta {
			vb, ok := tb[k]
			if !ok || !equalValues(va, vb) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(a, b)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
