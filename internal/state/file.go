package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/stackform-io/stackform/internal/model"
)

// FileStore persists the snapshot as a JSON document on local disk. Every
// commit rewrites the file through a temp-file rename, so each per-resource
// write is atomic even if the process dies mid-run.
type FileStore struct {
	mu   sync.Mutex
	path string
	snap *Snapshot
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the snapshot from disk. A missing file yields a fresh snapshot
// with a new lineage. Encrypted files are transparently decrypted.
func (f *FileStore) Load() (*Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		f.snap = NewSnapshot()
		f.snap.Lineage = uuid.NewString()
		return f.snap.Clone()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", f.path, err)
	}

	if IsEncrypted(raw) {
		raw, err = DecryptState(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt state: %w", err)
		}
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", f.path, err)
	}
	if snap.Resources == nil {
		snap.Resources = make(map[string]*Record)
	}
	if snap.Lineage == "" {
		snap.Lineage = uuid.NewString()
	}
	f.snap = &snap
	return f.snap.Clone()
}

// Commit writes rec and flushes the snapshot to disk before returning, so a
// dependent step never starts ahead of its dependency's durable record.
func (f *FileStore) Commit(rec *Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.snap == nil {
		f.snap = NewSnapshot()
		f.snap.Lineage = uuid.NewString()
	}
	rec.SchemaVersion = SchemaVersion
	f.snap.Resources[rec.ID.String()] = rec
	f.snap.Serial++
	return f.flush()
}

// Remove deletes the record for id after a successful destroy.
func (f *FileStore) Remove(id model.ResourceID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.snap == nil {
		return nil
	}
	if _, ok := f.snap.Resources[id.String()]; !ok {
		return nil
	}
	delete(f.snap.Resources, id.String())
	f.snap.Serial++
	return f.flush()
}

func (f *FileStore) flush() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(f.snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize state: %w", err)
	}

	encrypted, err := EncryptState(append(data, '\n'))
	if err != nil {
		return fmt.Errorf("failed to encrypt state: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, encrypted, 0o600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}
