package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/ppiankov/agentgov/internal/model"
)

// SnapshotVersion is the current snapshot format version.
const SnapshotVersion = 1

// Snapshot is the full exported state of one identity.
type Snapshot struct {
	Version     int                        `json:"version" cbor:"version"`
	Identity    string                     `json:"identity" cbor:"identity"`
	ExportedAt  time.Time                  `json:"exportedAt" cbor:"exportedAt"`
	Collections map[string]json.RawMessage `json:"collections" cbor:"collections"`
	Digest      string                     `json:"digest" cbor:"digest"`
}

// ImportReport counts written and rejected records per collection.
type ImportReport struct {
	Written  map[string]int `json:"written"`
	Rejected map[string]int `json:"rejected"`
}

// Format is a snapshot encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCBOR Format = "cbor"
)

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	cborEnc, err = opts.EncMode()
	if err != nil {
		panic("store: CBOR encoder initialization failed: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("store: CBOR decoder initialization failed: " + err.Error())
	}
}

// Export captures every collection of identity. Only valid records are exported.
func (s *Store) Export(ctx context.Context, identity string, now time.Time) (Snapshot, error) {
	snap := Snapshot{
		Version:     SnapshotVersion,
		Identity:    identity,
		ExportedAt:  now.UTC(),
		Collections: make(map[string]json.RawMessage, len(s.registry)),
	}
	for _, c := range s.registry {
		raw, err := c.exportRaw(ctx, identity)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Collections[c.Name()] = raw
	}
	snap.Digest = snap.ComputeDigest()
	return snap, nil
}

// Import replaces identity's collections with the snapshot's contents.
// Collections absent from the snapshot are left untouched. Invalid records
// are rejected and counted, never written.
func (s *Store) Import(ctx context.Context, identity string, snap Snapshot) (ImportReport, error) {
	if snap.Version != SnapshotVersion {
		return ImportReport{}, fmt.Errorf("unsupported snapshot version %d (want %d)", snap.Version, SnapshotVersion)
	}
	if snap.Digest != snap.ComputeDigest() {
		return ImportReport{}, fmt.Errorf("snapshot digest mismatch")
	}
	known := make(map[string]rawCollection, len(s.registry))
	for _, c := range s.registry {
		known[c.Name()] = c
	}
	for name := range snap.Collections {
		if _, ok := known[name]; !ok {
			return ImportReport{}, fmt.Errorf("snapshot contains unknown collection %q", name)
		}
	}

	rep := ImportReport{Written: map[string]int{}, Rejected: map[string]int{}}
	for _, name := range sortedKeys(snap.Collections) {
		written, rejected, err := known[name].importRaw(ctx, identity, snap.Collections[name])
		if err != nil {
			return rep, err
		}
		rep.Written[name] = written
		rep.Rejected[name] = rejected
	}
	return rep, nil
}

// ComputeDigest returns the SHA-256 over the snapshot's identity and compacted
// collections in sorted name order, so re-indenting does not change it.
func (snap Snapshot) ComputeDigest() string {
	h := sha256.New()
	fmt.Fprintf(h, "v%d\x00%s\x00", snap.Version, snap.Identity)
	for _, name := range sortedKeys(snap.Collections) {
		h.Write([]byte(name))
		h.Write([]byte{0})
		var buf bytes.Buffer
		if err := json.Compact(&buf, snap.Collections[name]); err != nil {
			buf.Reset()
			buf.Write(snap.Collections[name])
		}
		h.Write(buf.Bytes())
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// EncodeSnapshot serializes snap in the given format.
func EncodeSnapshot(snap Snapshot, format Format) ([]byte, error) {
	switch format {
	case FormatJSON, "":
		return json.MarshalIndent(snap, "", "  ")
	case FormatCBOR:
		return cborEnc.Marshal(snap)
	default:
		return nil, fmt.Errorf("unknown snapshot format %q", format)
	}
}

// DecodeSnapshot parses data in the given format. JSON input is decoded strictly.
func DecodeSnapshot(data []byte, format Format) (Snapshot, error) {
	var snap Snapshot
	switch format {
	case FormatJSON, "":
		if err := model.DecodeStrict(data, &snap); err != nil {
			return Snapshot{}, err
		}
	case FormatCBOR:
		if err := cborDec.Unmarshal(data, &snap); err != nil {
			return Snapshot{}, fmt.Errorf("decode cbor snapshot: %w", err)
		}
	default:
		return Snapshot{}, fmt.Errorf("unknown snapshot format %q", format)
	}
	return snap, nil
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
