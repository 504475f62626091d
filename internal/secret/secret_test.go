package secret

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingSource records how many times each path is fetched.
type countingSource struct {
	docs    map[string]map[string]string
	fetches atomic.Int64
}

func (s *countingSource) Fetch(_ context.Context, path string) (map[string]string, error) {
	s.fetches.Add(1)
	doc, ok := s.docs[path]
	if !ok {
		return nil, errors.New("not found")
	}
	return doc, nil
}

func TestLookup(t *testing.T) {
	src := &countingSource{docs: map[string]map[string]string{
		"prod/db": {"password": "hunter2", "user": "admin"},
	}}
	r := NewResolver(src)

	val, err := r.Lookup(context.Background(), "prod/db", "password")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", val)
}

func TestLookup_FetchesEachPathOnce(t *testing.T) {
	src := &countingSource{docs: map[string]map[string]string{
		"prod/db": {"password": "hunter2", "user": "admin"},
	}}
	r := NewResolver(src)
	ctx := context.Background()

	_, err := r.Lookup(ctx, "prod/db", "password")
	require.NoError(t, err)
	_, err = r.Lookup(ctx, "prod/db", "user")
	require.NoError(t, err)

	assert.Equal(t, int64(1), src.fetches.Load())
}

func TestLookup_ConcurrentSharedFetch(t *testing.T) {
	src := &countingSource{docs: map[string]map[string]string{
		"prod/db": {"password": "hunter2"},
	}}
	r := NewResolver(src)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			val, err := r.Lookup(context.Background(), "prod/db", "password")
			assert.NoError(t, err)
			assert.Equal(t, "hunter2", val)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), src.fetches.Load())
}

func TestLookup_MissingKey(t *testing.T) {
	src := &countingSource{docs: map[string]map[string]string{
		"prod/db": {"password": "hunter2"},
	}}
	r := NewResolver(src)

	_, err := r.Lookup(context.Background(), "prod/db", "nope")
	var re *ResolutionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "prod/db", re.Path)
	assert.Equal(t, "nope", re.Key)
}

func TestLookup_FetchError(t *testing.T) {
	src := &countingSource{docs: map[string]map[string]string{}}
	r := NewResolver(src)

	_, err := r.Lookup(context.Background(), "prod/db", "password")
	var re *ResolutionError
	require.ErrorAs(t, err, &re)

	// The failed fetch is cached too; no second backend call.
	_, _ = r.Lookup(context.Background(), "prod/db", "password")
	assert.Equal(t, int64(1), src.fetches.Load())
}

func TestStaticSource(t *testing.T) {
	s := &Static{Docs: map[string]map[string]string{
		"dev/db": {"user": "dev"},
	}}

	doc, err := s.Fetch(context.Background(), "dev/db")
	require.NoError(t, err)
	assert.Equal(t, "dev", doc["user"])

	_, err = s.Fetch(context.Background(), "missing")
	assert.Error(t, err)
}

func TestEnvSource(t *testing.T) {
	t.Setenv("STACKFORM_SECRET_PROD_DB", `{"password":"hunter2"}`)
	s := &Env{}

	doc, err := s.Fetch(context.Background(), "prod/db")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", doc["password"])

	_, err = s.Fetch(context.Background(), "prod/api")
	assert.Error(t, err)

	t.Setenv("X_PROD_DB", `not json`)
	s = &Env{Prefix: "X_"}
	_, err = s.Fetch(context.Background(), "prod/db")
	assert.Error(t, err)
}
