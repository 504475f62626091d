// Package provider defines the narrow capability surface the engine uses to
// talk to resource backends. The engine never speaks a cloud API directly.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrorClass categorizes a provider failure for the retry policy.
type ErrorClass int

const (
	// Fatal failures abort the run: invalid input, permission denial.
	Fatal ErrorClass = iota
	// Transient failures are expected to succeed on retry: throttling, timeouts.
	Transient
)

func (c ErrorClass) String() string {
	if c == Transient {
		return "transient"
	}
	return "fatal"
}

// Schema describes how the engine must treat a resource kind.
type Schema struct {
	// ForcesReplacement lists attribute names that cannot change in place;
	// a diff on one converts an update into destroy + create.
	ForcesReplacement []string
}

// ResourceProvider is the capability contract per resource kind family.
// Outputs returned from Create/Update feed dependent resources' references.
type ResourceProvider interface {
	// Create provisions a new resource and returns its computed outputs.
	// Outputs must include "id", the provider-side resource handle.
	Create(ctx context.Context, kind string, attrs map[string]any) (map[string]any, error)

	// Update mutates an existing resource in place and returns refreshed outputs.
	Update(ctx context.Context, kind, id string, attrs map[string]any) (map[string]any, error)

	// Destroy removes the resource identified by the provider handle.
	Destroy(ctx context.Context, kind, id string) error

	// Classify decides whether an error from any of the calls above is
	// worth retrying.
	Classify(err error) ErrorClass

	// Schema returns per-kind planning metadata.
	Schema(kind string) (Schema, error)
}

// ErrUnknownKind is returned by providers asked about a kind they do not manage.
var ErrUnknownKind = errors.New("unknown resource kind")

// Registry holds the configured providers for a run, keyed by name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]ResourceProvider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]ResourceProvider)}
}

// Register adds a provider under a name, replacing any previous registration.
func (r *Registry) Register(name string, p ResourceProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// Get returns a registered provider.
func (r *Registry) Get(name string) (ResourceProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not registered: %s", name)
	}
	return p, nil
}
