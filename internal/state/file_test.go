package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackform-io/stackform/internal/model"
)

func tempStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stackform.state.json")
	return NewFileStore(path), path
}

func record(kind, name, handle string) *Record {
	return &Record{
		ID:         model.ResourceID{Kind: kind, Name: name},
		Provider:   "memory",
		Attributes: map[string]any{"size": float64(3)},
		Outputs:    map[string]any{"id": handle},
		Handle:     handle,
	}
}

func TestFileStore_LoadMissingFile(t *testing.T) {
	store, _ := tempStore(t)

	snap, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, snap.Resources)
	assert.NotEmpty(t, snap.Lineage)
	assert.Equal(t, 0, snap.Serial)
}

func TestFileStore_CommitRoundTrip(t *testing.T) {
	store, path := tempStore(t)

	_, err := store.Load()
	require.NoError(t, err)
	require.NoError(t, store.Commit(record("vpc", "main", "vpc-123")))

	// A fresh store reading the same path sees the committed record.
	again := NewFileStore(path)
	snap, err := again.Load()
	require.NoError(t, err)

	rec := snap.Get(model.ResourceID{Kind: "vpc", Name: "main"})
	require.NotNil(t, rec)
	assert.Equal(t, "vpc-123", rec.Handle)
	assert.Equal(t, SchemaVersion, rec.SchemaVersion)
	assert.Equal(t, 1, snap.Serial)
}

func TestFileStore_SerialBumpsPerWrite(t *testing.T) {
	store, _ := tempStore(t)
	_, err := store.Load()
	require.NoError(t, err)

	require.NoError(t, store.Commit(record("vpc", "a", "h1")))
	require.NoError(t, store.Commit(record("vpc", "b", "h2")))
	require.NoError(t, store.Remove(model.ResourceID{Kind: "vpc", Name: "a"}))

	snap, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Serial)
	assert.Nil(t, snap.Get(model.ResourceID{Kind: "vpc", Name: "a"}))
	assert.NotNil(t, snap.Get(model.ResourceID{Kind: "vpc", Name: "b"}))
}

func TestFileStore_RemoveMissingIsNoop(t *testing.T) {
	store, _ := tempStore(t)
	_, err := store.Load()
	require.NoError(t, err)

	require.NoError(t, store.Remove(model.ResourceID{Kind: "vpc", Name: "ghost"}))

	snap, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Serial)
}

func TestFileStore_LineageSurvivesRewrites(t *testing.T) {
	store, path := tempStore(t)
	snap, err := store.Load()
	require.NoError(t, err)
	lineage := snap.Lineage

	require.NoError(t, store.Commit(record("vpc", "main", "vpc-123")))

	again, err := NewFileStore(path).Load()
	require.NoError(t, err)
	assert.Equal(t, lineage, again.Lineage)
}

func TestRecord_UnknownFieldsPreserved(t *testing.T) {
	raw := []byte(`{
	  "id": {"kind": "vpc", "name": "main"},
	  "provider": "aws",
	  "schemaVersion": 1,
	  "attributes": {"cidrBlock": "10.0.0.0/16"},
	  "outputs": {"id": "vpc-123"},
	  "handle": "vpc-123",
	  "futureField": {"added": "by a newer engine"}
	}`)

	var rec Record
	require.NoError(t, json.Unmarshal(raw, &rec))
	assert.Equal(t, "vpc-123", rec.Handle)

	out, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(out), "futureField")
	assert.Contains(t, string(out), "by a newer engine")
}

func TestSnapshot_CloneIsDeep(t *testing.T) {
	snap := NewSnapshot()
	snap.Lineage = "lineage-1"
	snap.Resources["vpc.main"] = record("vpc", "main", "vpc-123")

	clone, err := snap.Clone()
	require.NoError(t, err)

	clone.Resources["vpc.main"].Handle = "changed"
	clone.Resources["vpc.main"].Attributes["size"] = float64(9)

	assert.Equal(t, "vpc-123", snap.Resources["vpc.main"].Handle)
	assert.Equal(t, float64(3), snap.Resources["vpc.main"].Attributes["size"])
}

func TestFileStore_EncryptedRoundTrip(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "state-encryption-key-for-tests!!")

	store, path := tempStore(t)
	_, err := store.Load()
	require.NoError(t, err)
	require.NoError(t, store.Commit(record("vpc", "main", "vpc-123")))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, IsEncrypted(raw))
	assert.NotContains(t, string(raw), "vpc-123")

	snap, err := NewFileStore(path).Load()
	require.NoError(t, err)
	require.NotNil(t, snap.Get(model.ResourceID{Kind: "vpc", Name: "main"}))
}

func TestLock(t *testing.T) {
	store, path := tempStore(t)

	require.NoError(t, store.Lock())
	_, err := os.Stat(path + ".lock")
	require.NoError(t, err)

	// A second locker is refused while the lock is held.
	other := NewFileStore(path)
	assert.Error(t, other.Lock())

	require.NoError(t, store.Unlock())
	assert.NoError(t, other.Lock())
	require.NoError(t, other.Unlock())
}
