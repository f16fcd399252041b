// Package sessionfile persists the current auth session encrypted at rest
// and watches it for changes made by other processes.
package sessionfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/and161185/juniordebug/internal/model"
)

const (
	sessionFileName = "session.enc"
	keyFileName     = "session.key"
)

// File stores one session per namespace directory. It is safe for
// concurrent use within a process; across processes the last writer wins.
type File struct {
	dir       string
	namespace []byte

	mu sync.Mutex
}

// New returns a store under dir. namespace binds the file to one identity
// provider (e.g. its host) so a session can't be replayed against another.
func New(dir, namespace string) *File {
	return &File{dir: dir, namespace: []byte(namespace)}
}

// Dir is the directory holding the session and key files.
func (f *File) Dir() string { return f.dir }

// Path is the encrypted session file.
func (f *File) Path() string { return filepath.Join(f.dir, sessionFileName) }

// KeyPath is the master key file.
func (f *File) KeyPath() string { return filepath.Join(f.dir, keyFileName) }

// Load returns the stored session, or nil when there is none.
func (f *File) Load() (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	blob, err := os.ReadFile(f.Path())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	master, err := os.ReadFile(f.KeyPath())
	if err != nil {
		return nil, fmt.Errorf("read session key: %w", err)
	}
	bx, err := newBox(master, f.namespace)
	if err != nil {
		return nil, err
	}
	pt, err := bx.open(blob)
	if err != nil {
		return nil, err
	}
	var s model.Session
	if err := json.Unmarshal(pt, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if s.AccessToken == "" {
		return nil, nil
	}
	return &s, nil
}

// Save encrypts and atomically replaces the stored session.
func (f *File) Save(s *model.Session) error {
	if s == nil {
		return f.Clear()
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(f.dir, 0o700); err != nil {
		return err
	}
	master, err := f.masterKey()
	if err != nil {
		return err
	}
	bx, err := newBox(master, f.namespace)
	if err != nil {
		return err
	}
	pt, err := json.Marshal(s)
	if err != nil {
		return err
	}
	blob, err := bx.seal(pt)
	if err != nil {
		return err
	}
	return writeAtomic(f.Path(), blob)
}

// Clear removes the stored session. The master key is kept.
func (f *File) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// masterKey loads the master key, creating it on first use.
func (f *File) masterKey() ([]byte, error) {
	b, err := os.ReadFile(f.KeyPath())
	if err == nil && len(b) == MasterKeyLen {
		return b, nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	b, err = randBytes(MasterKeyLen)
	if err != nil {
		return nil, err
	}
	if err := writeAtomic(f.KeyPath(), b); err != nil {
		return nil, err
	}
	return b, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	defer func() { _ = os.Remove(name) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(name, path)
}
