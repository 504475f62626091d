// Package secret resolves secret tokens against an external secret backend.
// Resolved values live only in memory for the duration of a run; the engine
// persists and logs the opaque token form exclusively.
package secret

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Source is the capability boundary to a secret backend. Fetch returns the
// full key/value document stored at path.
type Source interface {
	Fetch(ctx context.Context, path string) (map[string]string, error)
}

// ResolutionError means a required credential could not be obtained. It is
// fatal for the step that needed it.
type ResolutionError struct {
	Path string
	Key  string
	Err  error
}

func (e *ResolutionError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("failed to resolve secret %s (key %q): %v", e.Path, e.Key, e.Err)
	}
	return fmt.Sprintf("failed to resolve secret %s: %v", e.Path, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Resolver caches fetched documents so each distinct path hits the backend
// exactly once per run, even across concurrent steps.
type Resolver struct {
	source Source

	mu    sync.Mutex
	calls map[string]*call
}

type call struct {
	done   chan struct{}
	values map[string]string
	err    error
}

func NewResolver(source Source) *Resolver {
	return &Resolver{source: source, calls: make(map[string]*call)}
}

// Lookup returns the value for key inside the document at path. Concurrent
// lookups of the same path share a single fetch.
func (r *Resolver) Lookup(ctx context.Context, path, key string) (string, error) {
	r.mu.Lock()
	c, ok := r.calls[path]
	if !ok {
		c = &call{done: make(chan struct{})}
		r.calls[path] = c
		r.mu.Unlock()
		c.values, c.err = r.source.Fetch(ctx, path)
		close(c.done)
	} else {
		r.mu.Unlock()
		select {
		case <-c.done:
		case <-ctx.Done():
			return "", &ResolutionError{Path: path, Key: key, Err: ctx.Err()}
		}
	}

	if c.err != nil {
		return "", &ResolutionError{Path: path, Err: c.err}
	}
	v, ok := c.values[key]
	if !ok {
		return "", &ResolutionError{Path: path, Key: key, Err: fmt.Errorf("key not present in secret document")}
	}
	return v, nil
}

// Static is an in-memory Source used by tests and local dry runs.
type Static struct {
	Docs map[string]map[string]string
}

func (s *Static) Fetch(_ context.Context, path string) (map[string]string, error) {
	doc, ok := s.Docs[path]
	if !ok {
		return nil, fmt.Errorf("secret not found: %s", path)
	}
	return doc, nil
}

// Env reads secret documents from environment variables. The document at
// path is the single variable Prefix + upper(path) with "/" and "-" mapped
// to "_", holding a JSON object of key/value pairs.
type Env struct {
	// Prefix defaults to "STACKFORM_SECRET_".
	Prefix string
}

func (s *Env) Fetch(_ context.Context, path string) (map[string]string, error) {
	prefix := s.Prefix
	if prefix == "" {
		prefix = "STACKFORM_SECRET_"
	}
	name := prefix + envName(path)
	raw, ok := os.LookupEnv(name)
	if !ok {
		return nil, fmt.Errorf("secret not found: %s (env %s unset)", path, name)
	}
	var doc map[string]string
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("secret %s: env %s is not a JSON object: %w", path, name, err)
	}
	return doc, nil
}

func envName(path string) string {
	mapped := strings.Map(func(r rune) rune {
		if r == '/' || r == '-' || r == '.' {
			return '_'
		}
		return r
	}, path)
	return strings.ToUpper(mapped)
}
