package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileBackend stores one directory per identity and one JSON file per collection.
// Writes go through a temp file and rename.
type FileBackend struct {
	dir string
	mu  sync.Mutex
}

type fileDocument struct {
	Revision int64           `json:"revision"`
	Records  json.RawMessage `json:"records"`
}

// NewFileBackend creates a FileBackend rooted at dir.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("cannot create store directory: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

// DefaultDir returns the default store directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "agentgov-state")
	}
	return filepath.Join(home, ".agentgov", "state")
}

func (f *FileBackend) Load(_ context.Context, identity, collection string) (Document, error) {
	path, err := f.path(identity, collection)
	if err != nil {
		return Document{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read(path)
}

func (f *FileBackend) Save(_ context.Context, identity, collection string, payload []byte, expected int64) (int64, error) {
	path, err := f.path(identity, collection)
	if err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	cur, err := f.read(path)
	if err != nil {
		return 0, err
	}
	if cur.Revision != expected {
		return cur.Revision, ErrRevisionConflict
	}

	data, err := json.MarshalIndent(fileDocument{Revision: expected + 1, Records: payload}, "", "  ")
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return 0, err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return 0, err
	}
	return expected + 1, nil
}

func (f *FileBackend) Clear(_ context.Context, identity, collection string) error {
	path, err := f.path(identity, collection)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (f *FileBackend) Identities(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() || ValidateKey(e.Name()) != nil {
			continue
		}
		files, err := os.ReadDir(filepath.Join(f.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			if strings.HasSuffix(file.Name(), ".json") {
				out = append(out, e.Name())
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *FileBackend) Close() error { return nil }

func (f *FileBackend) path(identity, collection string) (string, error) {
	if err := ValidateKey(identity); err != nil {
		return "", fmt.Errorf("invalid identity key: %w", err)
	}
	if err := ValidateKey(collection); err != nil {
		return "", fmt.Errorf("invalid collection name: %w", err)
	}
	return filepath.Join(f.dir, identity, collection+".json"), nil
}

func (f *FileBackend) read(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Document{}, nil
		}
		return Document{}, err
	}
	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("corrupt collection file %s: %w", filepath.Base(path), err)
	}
	return Document{Payload: doc.Records, Revision: doc.Revision}, nil
}
