package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/stackform-io/stackform/internal/model"
	"github.com/stackform-io/stackform/internal/secret"
	"github.com/stackform-io/stackform/internal/state"
)

// unknown is the placeholder for an output that will only exist once its
// producing step has run. Any attribute resolving to unknown counts as
// changed during diffing.
type unknown struct{}

func (unknown) String() string { return "(known after apply)" }

// isUnknown reports whether any part of a resolved value is still unknown.
func isUnknown(v any) bool {
	switch t := v.(type) {
	case unknown:
		return true
	case []any:
		for _, e := range t {
			if isUnknown(e) {
				return true
			}
		}
	case map[string]any:
		for _, e := range t {
			if isUnknown(e) {
				return true
			}
		}
	}
	return false
}

// resolveForPlan resolves a value tree for diffing. References at resources
// whose outputs are already known (present in state and not changing this
// run) resolve to concrete values; everything else becomes unknown. Secrets
// resolve to their opaque tokens so plan-time diffing never touches the
// secret backend.
func resolveForPlan(v model.Value, snap *state.Snapshot, pending map[model.ResourceID]bool) any {
	switch v.Kind() {
	case model.KindNull:
		return nil
	case model.KindLiteral:
		return literalOf(v)
	case model.KindSecret:
		return v.SecretRef().Token()
	case model.KindRef:
		ref := v.Reference()
		if pending[ref.Target] {
			return unknown{}
		}
		rec := snap.Get(ref.Target)
		if rec == nil {
			return unknown{}
		}
		out, err := lookupPath(rec.Outputs, ref.OutputPath)
		if err != nil {
			return unknown{}
		}
		return out
	case model.KindList:
		list := listOf(v)
		out := make([]any, len(list))
		for i, e := range list {
			out[i] = resolveForPlan(e, snap, pending)
		}
		return out
	case model.KindMap:
		out := make(map[string]any)
		for k, e := range mapOf(v) {
			out[k] = resolveForPlan(e, snap, pending)
		}
		return out
	}
	return nil
}

// resolveForApply resolves a value tree for a provider call. All references
// must land on committed outputs; plan ordering guarantees the producing
// steps have run. Secret values arrive prefetched, keyed by token, so this
// walk never blocks while the caller holds the snapshot lock. It returns the
// value handed to the provider and the value persisted to state; they differ
// only where secrets are masked to tokens.
func resolveForApply(v model.Value, snap *state.Snapshot, secrets map[string]string) (applied any, persisted any, err error) {
	switch v.Kind() {
	case model.KindNull:
		return nil, nil, nil
	case model.KindLiteral:
		lit := literalOf(v)
		return lit, lit, nil
	case model.KindSecret:
		ref := v.SecretRef()
		val, ok := secrets[ref.Token()]
		if !ok {
			return nil, nil, &secret.ResolutionError{Path: ref.Path, Key: ref.Key, Err: fmt.Errorf("secret not prefetched")}
		}
		return val, ref.Token(), nil
	case model.KindRef:
		ref := v.Reference()
		rec := snap.Get(ref.Target)
		if rec == nil {
			return nil, nil, fmt.Errorf("reference target %s has no committed state", ref.Target)
		}
		out, err := lookupPath(rec.Outputs, ref.OutputPath)
		if err != nil {
			return nil, nil, fmt.Errorf("reference %s.%s: %w", ref.Target, ref.OutputPath, err)
		}
		return out, out, nil
	case model.KindList:
		list := listOf(v)
		app := make([]any, len(list))
		per := make([]any, len(list))
		for i, e := range list {
			a, p, err := resolveForApply(e, snap, secrets)
			if err != nil {
				return nil, nil, err
			}
			app[i], per[i] = a, p
		}
		return app, per, nil
	case model.KindMap:
		app := make(map[string]any)
		per := make(map[string]any)
		for k, e := range mapOf(v) {
			a, p, err := resolveForApply(e, snap, secrets)
			if err != nil {
				return nil, nil, err
			}
			app[k], per[k] = a, p
		}
		return app, per, nil
	}
	return nil, nil, nil
}

// lookupPath walks outputs along a dot-separated path; numeric segments
// index into lists.
func lookupPath(outputs map[string]any, path string) (any, error) {
	var cur any = outputs
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, fmt.Errorf("output path segment %q not found", seg)
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("output path segment %q is not a valid list index", seg)
			}
			cur = node[idx]
		default:
			return nil, fmt.Errorf("output path segment %q walks into a scalar", seg)
		}
	}
	return cur, nil
}

func literalOf(v model.Value) any                { return v.AsLiteral() }
func listOf(v model.Value) []model.Value         { return v.AsList() }
func mapOf(v model.Value) map[string]model.Value { return v.AsMap() }
