// Package memory implements an in-process ResourceProvider backed by a map.
// It exists for engine tests and dry runs: every call is recorded, and
// failures can be scripted per resource kind.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/stackform-io/stackform/internal/provider"
)

// Call records one provider invocation for assertions.
type Call struct {
	Op    string // "create", "update", "destroy"
	Kind  string
	ID    string
	Attrs map[string]any
}

// TransientError is classified as retryable by Classify.
type TransientError struct{ Msg string }

func (e *TransientError) Error() string { return e.Msg }

// Provider is a scriptable in-memory resource backend.
type Provider struct {
	mu      sync.Mutex
	nextID  int
	objects map[string]map[string]any // handle -> attrs
	calls   []Call
	schemas map[string]provider.Schema

	// failures holds errors to return, consumed in order, keyed by op+kind.
	failures map[string][]error

	// ExtraOutputs is merged into every create/update response, keyed by kind.
	ExtraOutputs map[string]map[string]any
}

func New() *Provider {
	return &Provider{
		objects:  make(map[string]map[string]any),
		schemas:  make(map[string]provider.Schema),
		failures: make(map[string][]error),
	}
}

// SetSchema registers planning metadata for a kind.
func (p *Provider) SetSchema(kind string, s provider.Schema) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.schemas[kind] = s
}

// FailNext queues errors for the next invocations of op ("create", "update",
// "destroy") on kind, consumed one per call.
func (p *Provider) FailNext(op, kind string, errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := op + ":" + kind
	p.failures[key] = append(p.failures[key], errs...)
}

// Calls returns a copy of the recorded invocations.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}

// Live returns the attributes of the object with the given handle, or nil.
func (p *Provider) Live(handle string) map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.objects[handle]
}

// LiveCount returns the number of objects currently held.
func (p *Provider) LiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.objects)
}

func (p *Provider) takeFailure(op, kind string) error {
	key := op + ":" + kind
	q := p.failures[key]
	if len(q) == 0 {
		return nil
	}
	err := q[0]
	p.failures[key] = q[1:]
	return err
}

func (p *Provider) Create(_ context.Context, kind string, attrs map[string]any) (map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, Call{Op: "create", Kind: kind, Attrs: attrs})
	if err := p.takeFailure("create", kind); err != nil {
		return nil, err
	}
	p.nextID++
	handle := fmt.Sprintf("mem-%s-%d", kind, p.nextID)
	p.objects[handle] = attrs

	outputs := map[string]any{"id": handle}
	for k, v := range attrs {
		outputs[k] = v
	}
	for k, v := range p.ExtraOutputs[kind] {
		outputs[k] = v
	}
	return outputs, nil
}

func (p *Provider) Update(_ context.Context, kind, id string, attrs map[string]any) (map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, Call{Op: "update", Kind: kind, ID: id, Attrs: attrs})
	if err := p.takeFailure("update", kind); err != nil {
		return nil, err
	}
	if _, ok := p.objects[id]; !ok {
		return nil, fmt.Errorf("no such object: %s", id)
	}
	p.objects[id] = attrs

	outputs := map[string]any{"id": id}
	for k, v := range attrs {
		outputs[k] = v
	}
	for k, v := range p.ExtraOutputs[kind] {
		outputs[k] = v
	}
	return outputs, nil
}

func (p *Provider) Destroy(_ context.Context, kind, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, Call{Op: "destroy", Kind: kind, ID: id})
	if err := p.takeFailure("destroy", kind); err != nil {
		return err
	}
	delete(p.objects, id)
	return nil
}

func (p *Provider) Classify(err error) provider.ErrorClass {
	var te *TransientError
	if errors.As(err, &te) {
		return provider.Transient
	}
	return provider.Fatal
}

func (p *Provider) Schema(kind string) (provider.Schema, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.schemas[kind], nil
}
