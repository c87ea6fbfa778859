package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ppiankov/agentgov/internal/model"
)

// maxAttempts bounds compare-and-swap retries for one mutation.
const maxAttempts = 8

// Collection is a typed view over one stored collection.
// Reads drop records that fail validation; writes reject them.
type Collection[T model.Record] struct {
	name string
	st   *Store
}

func newCollection[T model.Record](st *Store, name string) *Collection[T] {
	c := &Collection[T]{name: name, st: st}
	st.registry = append(st.registry, c)
	return c
}

// Name returns the stored collection name.
func (c *Collection[T]) Name() string { return c.name }

// Load returns every valid record for identity, in stored order.
func (c *Collection[T]) Load(ctx context.Context, identity string) ([]T, error) {
	if err := ValidateKey(identity); err != nil {
		return nil, fmt.Errorf("invalid identity key: %w", err)
	}
	doc, err := c.st.backend.Load(ctx, identity, c.name)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Identity: identity, Collection: c.name, Err: err}
	}
	return c.decode(identity, doc.Payload), nil
}

// Get returns the record with id, if present.
func (c *Collection[T]) Get(ctx context.Context, identity, id string) (T, bool, error) {
	var zero T
	recs, err := c.Load(ctx, identity)
	if err != nil {
		return zero, false, err
	}
	for _, r := range recs {
		if r.RecordID() == id {
			return r, true, nil
		}
	}
	return zero, false, nil
}

// Upsert replaces the record with the same id or appends it.
// Upserting the same id twice leaves exactly one record.
func (c *Collection[T]) Upsert(ctx context.Context, identity string, rec T) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	return c.mutate(ctx, identity, "upsert", func(recs []T) ([]T, bool, error) {
		for i, r := range recs {
			if r.RecordID() == rec.RecordID() {
				recs[i] = rec
				return recs, true, nil
			}
		}
		return append(recs, rec), true, nil
	})
}

// Append adds an append-only record. Existing ids are never overwritten.
func (c *Collection[T]) Append(ctx context.Context, identity string, rec T) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	return c.mutate(ctx, identity, "append", func(recs []T) ([]T, bool, error) {
		for _, r := range recs {
			if r.RecordID() == rec.RecordID() {
				return nil, false, fmt.Errorf("%s %q: %w", c.name, rec.RecordID(), ErrDuplicateID)
			}
		}
		return append(recs, rec), true, nil
	})
}

// InsertIfAbsent appends rec unless a record with its id exists.
// It reports whether rec was written.
func (c *Collection[T]) InsertIfAbsent(ctx context.Context, identity string, rec T) (bool, error) {
	if err := rec.Validate(); err != nil {
		return false, err
	}
	inserted := false
	err := c.mutate(ctx, identity, "insert", func(recs []T) ([]T, bool, error) {
		inserted = false
		for _, r := range recs {
			if r.RecordID() == rec.RecordID() {
				return recs, false, nil
			}
		}
		inserted = true
		return append(recs, rec), true, nil
	})
	return inserted, err
}

// Update applies fn to the record with id and stores the result.
// fn may run more than once if a concurrent writer wins the revision race.
func (c *Collection[T]) Update(ctx context.Context, identity, id string, fn func(*T) error) (T, error) {
	var out T
	err := c.mutate(ctx, identity, "update", func(recs []T) ([]T, bool, error) {
		for i := range recs {
			if recs[i].RecordID() != id {
				continue
			}
			next := recs[i]
			if err := fn(&next); err != nil {
				return nil, false, err
			}
			if next.RecordID() != id {
				return nil, false, fmt.Errorf("%s %q: update must not change the id", c.name, id)
			}
			if err := next.Validate(); err != nil {
				return nil, false, err
			}
			recs[i] = next
			out = next
			return recs, true, nil
		}
		return nil, false, fmt.Errorf("%s %q: %w", c.name, id, ErrNotFound)
	})
	return out, err
}

// Mutate applies fn to the record with id, or to a zero T when none exists,
// and upserts the result. exists tells fn which case it is in.
func (c *Collection[T]) Mutate(ctx context.Context, identity, id string, fn func(rec *T, exists bool) error) error {
	return c.mutate(ctx, identity, "mutate", func(recs []T) ([]T, bool, error) {
		idx := -1
		var next T
		for i := range recs {
			if recs[i].RecordID() == id {
				idx, next = i, recs[i]
				break
			}
		}
		if err := fn(&next, idx >= 0); err != nil {
			return nil, false, err
		}
		if next.RecordID() != id {
			return nil, false, fmt.Errorf("%s %q: mutate must not change the id", c.name, id)
		}
		if err := next.Validate(); err != nil {
			return nil, false, err
		}
		if idx >= 0 {
			recs[idx] = next
		} else {
			recs = append(recs, next)
		}
		return recs, true, nil
	})
}

// ReplaceAll stores the valid subset of recs as the whole collection and
// returns the records that were rejected and not written.
func (c *Collection[T]) ReplaceAll(ctx context.Context, identity string, recs []T) ([]T, error) {
	valid := make([]T, 0, len(recs))
	var rejected []T
	for _, r := range recs {
		if err := r.Validate(); err != nil {
			rejected = append(rejected, r)
			continue
		}
		valid = append(valid, r)
	}
	err := c.mutate(ctx, identity, "replace", func([]T) ([]T, bool, error) {
		return valid, true, nil
	})
	return rejected, err
}

// Clear removes the collection. Reserved for explicit administrative clears.
func (c *Collection[T]) Clear(ctx context.Context, identity string) error {
	if err := ValidateKey(identity); err != nil {
		return fmt.Errorf("invalid identity key: %w", err)
	}
	mu := c.st.lock(identity, c.name)
	mu.Lock()
	defer mu.Unlock()
	if err := c.st.backend.Clear(ctx, identity, c.name); err != nil {
		return &PersistenceError{Op: "clear", Identity: identity, Collection: c.name, Err: err}
	}
	return nil
}

func (c *Collection[T]) mutate(ctx context.Context, identity, op string, fn func([]T) ([]T, bool, error)) error {
	if err := ValidateKey(identity); err != nil {
		return fmt.Errorf("invalid identity key: %w", err)
	}
	mu := c.st.lock(identity, c.name)
	mu.Lock()
	defer mu.Unlock()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc, err := c.st.backend.Load(ctx, identity, c.name)
		if err != nil {
			return &PersistenceError{Op: op, Identity: identity, Collection: c.name, Err: err}
		}
		next, changed, err := fn(c.decode(identity, doc.Payload))
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		if next == nil {
			next = []T{}
		}
		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode %s: %w", c.name, err)
		}
		_, err = c.st.backend.Save(ctx, identity, c.name, payload, doc.Revision)
		if errors.Is(err, ErrRevisionConflict) {
			c.st.log.Debug("revision conflict, retrying",
				zap.String("identity", identity),
				zap.String("collection", c.name),
				zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return &PersistenceError{Op: op, Identity: identity, Collection: c.name, Err: err}
		}
		return nil
	}
	return &PersistenceError{Op: op, Identity: identity, Collection: c.name, Err: ErrRevisionConflict}
}

func (c *Collection[T]) decode(identity string, payload []byte) []T {
	if len(payload) == 0 {
		return nil
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(payload, &raws); err != nil {
		c.st.log.Warn("dropping unreadable collection",
			zap.String("identity", identity),
			zap.String("collection", c.name),
			zap.Error(err))
		return nil
	}
	out := make([]T, 0, len(raws))
	for i, raw := range raws {
		var rec T
		if err := model.DecodeStrict(raw, &rec); err != nil {
			c.st.log.Warn("dropping undecodable record",
				zap.String("collection", c.name), zap.Int("index", i), zap.Error(err))
			continue
		}
		if err := rec.Validate(); err != nil {
			c.st.log.Warn("dropping invalid record",
				zap.String("collection", c.name), zap.Int("index", i), zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	return out
}

func (c *Collection[T]) exportRaw(ctx context.Context, identity string) (json.RawMessage, error) {
	recs, err := c.Load(ctx, identity)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []T{}
	}
	return json.Marshal(recs)
}

func (c *Collection[T]) importRaw(ctx context.Context, identity string, raw json.RawMessage) (int, int, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(raw, &raws); err != nil {
		return 0, 0, fmt.Errorf("decode %s: %w", c.name, err)
	}
	recs := make([]T, 0, len(raws))
	undecodable := 0
	for _, r := range raws {
		var rec T
		if err := model.DecodeStrict(r, &rec); err != nil {
			undecodable++
			continue
		}
		recs = append(recs, rec)
	}
	rejected, err := c.ReplaceAll(ctx, identity, recs)
	if err != nil {
		return 0, 0, err
	}
	return len(recs) - len(rejected), len(rejected) + undecodable, nil
}
