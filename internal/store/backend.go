// Package store persists per-identity governance collections.
//
// Every collection is a JSON array stored under (identity, collection).
// Writers go through a per-key mutex and a revision compare-and-swap, so
// concurrent upserts on one identity never lose an update.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrRevisionConflict is returned by Backend.Save when the stored revision
// no longer matches the revision the caller loaded.
var ErrRevisionConflict = errors.New("store: revision conflict")

// ErrDuplicateID is returned when appending a record whose id already exists.
var ErrDuplicateID = errors.New("store: duplicate record id")

// ErrNotFound is returned by Update when no record has the requested id.
var ErrNotFound = errors.New("store: record not found")

// Document is the raw stored form of one collection.
// Revision 0 means the collection has never been written.
type Document struct {
	Payload  []byte
	Revision int64
}

// Backend is the raw key-value contract the store is built on.
type Backend interface {
	// Load returns the collection, or an empty Document if absent.
	Load(ctx context.Context, identity, collection string) (Document, error)
	// Save writes payload if the stored revision equals expected and
	// returns the new revision. A mismatch returns ErrRevisionConflict.
	Save(ctx context.Context, identity, collection string, payload []byte, expected int64) (int64, error)
	// Clear removes the collection. Clearing an absent collection is not an error.
	Clear(ctx context.Context, identity, collection string) error
	// Identities lists every identity with at least one stored collection.
	Identities(ctx context.Context) ([]string, error)
	Close() error
}

// PersistenceError reports a backend failure. It is never swallowed:
// losing a governance record silently would break audit completeness.
type PersistenceError struct {
	Op         string
	Identity   string
	Collection string
	Err        error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store: %s %s/%s: %v", e.Op, e.Identity, e.Collection, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// validKey matches alphanumeric, dash, underscore, and dot characters only.
var validKey = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// ValidateKey rejects identity or collection keys that could cause path traversal.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key must not be empty")
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("key must not contain '..'")
	}
	if !validKey.MatchString(key) {
		return fmt.Errorf("key %q contains invalid characters: only alphanumeric, dash, underscore, and dot are allowed", key)
	}
	return nil
}
