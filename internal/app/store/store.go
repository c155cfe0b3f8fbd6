// Package store persists session credentials to disk, one JSON file per
// session ID, mirroring the teacher's loadCredentials/saveCredentials
// pattern in internal/client/client.go. This is application-layer
// "thin contract" territory per spec.md §1: the core only produces and
// consumes an opaque session.Snapshot, never touching the filesystem
// itself.
package store

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/duskrelay/wasession/internal/session"
)

// record is the on-disk shape of a session.Snapshot. Byte slices are
// base64-encoded so the file stays plain JSON, matching the teacher's
// preference for human-inspectable session files.
type record struct {
	IdentityPrivate string    `json:"identityPrivate"`
	IdentityPublic  string    `json:"identityPublic"`
	RegistrationID  uint32    `json:"registrationId"`
	ServerToken     string    `json:"serverToken"`
	LastUsed        time.Time `json:"lastUsed"`
}

func toRecord(s session.Snapshot) record {
	return record{
		IdentityPrivate: base64.StdEncoding.EncodeToString(s.IdentityPrivate[:]),
		IdentityPublic:  base64.StdEncoding.EncodeToString(s.IdentityPublic[:]),
		RegistrationID:  s.RegistrationID,
		ServerToken:     base64.StdEncoding.EncodeToString(s.ServerToken),
		LastUsed:        s.LastUsed,
	}
}

func (r record) toSnapshot() (session.Snapshot, error) {
	priv, err := base64.StdEncoding.DecodeString(r.IdentityPrivate)
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("decode identity private key: %w", err)
	}
	pub, err := base64.StdEncoding.DecodeString(r.IdentityPublic)
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("decode identity public key: %w", err)
	}
	token, err := base64.StdEncoding.DecodeString(r.ServerToken)
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("decode server token: %w", err)
	}
	var s session.Snapshot
	copy(s.IdentityPrivate[:], priv)
	copy(s.IdentityPublic[:], pub)
	s.RegistrationID = r.RegistrationID
	s.ServerToken = token
	s.LastUsed = r.LastUsed
	return s, nil
}

// FileStore persists session.Snapshot values under a data directory, one
// file per session ID, guarded by a mutex the way the teacher guards its
// sessions map.
type FileStore struct {
	mu      sync.Mutex
	dataDir string
}

// NewFileStore creates the data directory (if absent) and returns a store
// rooted at it.
func NewFileStore(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create session data dir: %w", err)
	}
	return &FileStore{dataDir: dataDir}, nil
}

func (f *FileStore) path(sessionID string) string {
	return filepath.Join(f.dataDir, sessionID+".json")
}

// Save writes snap to disk, overwriting any prior snapshot for sessionID.
func (f *FileStore) Save(sessionID string, snap session.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(toRecord(snap), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session snapshot: %w", err)
	}
	return os.WriteFile(f.path(sessionID), data, 0o600)
}

// Load reads back a previously saved snapshot. Returns (Snapshot{}, false,
// nil) if no file exists for sessionID yet.
func (f *FileStore) Load(sessionID string) (session.Snapshot, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path(sessionID))
	if os.IsNotExist(err) {
		return session.Snapshot{}, false, nil
	}
	if err != nil {
		return session.Snapshot{}, false, fmt.Errorf("read session file: %w", err)
	}

	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return session.Snapshot{}, false, fmt.Errorf("unmarshal session file: %w", err)
	}
	snap, err := r.toSnapshot()
	if err != nil {
		return session.Snapshot{}, false, err
	}
	return snap, true, nil
}

// Delete removes the persisted snapshot for sessionID, if any.
func (f *FileStore) Delete(sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(f.path(sessionID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete session file: %w", err)
	}
	return nil
}

// List returns the session IDs with a persisted snapshot on disk, used at
// startup to repopulate the manager the way the teacher's
// LoadPersistedSessions walks its data directory.
func (f *FileStore) List() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.dataDir)
	if err != nil {
		return nil, fmt.Errorf("list session dir: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		const ext = ".json"
		if filepath.Ext(name) == ext {
			ids = append(ids, name[:len(name)-len(ext)])
		}
	}
	return ids, nil
}
