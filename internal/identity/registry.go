// Package identity loads the agent directory: the registered AgentProfiles
// and the identities each applies to.
package identity

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/agentgov/internal/model"
)

// Entry is one agent in the directory file. An empty Identities list
// applies the agent to every identity.
type Entry struct {
	model.AgentProfile `yaml:",inline"`
	Identities         []string `yaml:"identities,omitempty"`
}

// File is the on-disk YAML layout of an agent directory.
type File struct {
	Agents []Entry `yaml:"agents"`
}

// Fallback resolves agents missing from the directory file.
type Fallback interface {
	Lookup(ctx context.Context, identity, agentID string) (model.AgentProfile, bool, error)
}

// Registry maps agent IDs to their profiles.
type Registry struct {
	agents   map[string]Entry
	fallback Fallback
}

// NewRegistry creates a Registry from directory entries. fallback may be nil.
func NewRegistry(entries []Entry, fallback Fallback) *Registry {
	agents := make(map[string]Entry, len(entries))
	for _, e := range entries {
		agents[e.AgentID] = e
	}
	return &Registry{agents: agents, fallback: fallback}
}

// LoadFile reads an agent directory from YAML.
func LoadFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent directory: %w", err)
	}
	return Parse(data)
}

// Parse decodes agent directory entries. Unknown keys, duplicate agent ids and
// invalid profiles are errors.
func Parse(data []byte) ([]Entry, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse agent directory: %w", err)
	}
	seen := make(map[string]bool, len(f.Agents))
	for i, e := range f.Agents {
		if seen[e.AgentID] {
			return nil, fmt.Errorf("agents[%d]: duplicate agent %q", i, e.AgentID)
		}
		seen[e.AgentID] = true
		if err := e.AgentProfile.Validate(); err != nil {
			return nil, fmt.Errorf("agents[%d]: %w", i, err)
		}
	}
	return f.Agents, nil
}

// Lookup returns the profile of agentID when the directory applies it to
// identity, then falls back.
func (r *Registry) Lookup(ctx context.Context, identity, agentID string) (model.AgentProfile, bool, error) {
	if e, ok := r.agents[agentID]; ok && e.AppliesTo(identity) {
		return e.AgentProfile, true, nil
	}
	if r.fallback == nil {
		return model.AgentProfile{}, false, nil
	}
	return r.fallback.Lookup(ctx, identity, agentID)
}

// IsRegistered returns true if the agent ID exists in the directory file.
func (r *Registry) IsRegistered(agentID string) bool {
	_, ok := r.agents[agentID]
	return ok
}

// ProfilesFor returns the profiles the directory applies to identity,
// sorted by agent id.
func (r *Registry) ProfilesFor(identity string) []model.AgentProfile {
	var out []model.AgentProfile
	for _, e := range r.agents {
		if e.AppliesTo(identity) {
			out = append(out, e.AgentProfile)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// AppliesTo reports whether the entry covers identity.
func (e Entry) AppliesTo(identity string) bool {
	if len(e.Identities) == 0 {
		return true
	}
	for _, p := range e.Identities {
		if MatchPattern(p, identity) {
			return true
		}
	}
	return false
}

// MatchPattern checks if a value matches a glob-like pattern.
// Supports: *x* (contains), *x (suffix), x* (prefix), exact match.
// Matching is case-insensitive.
func MatchPattern(pattern, value string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}

	lowerValue := strings.ToLower(value)
	lowerPattern := strings.ToLower(pattern)

	if strings.HasPrefix(lowerPattern, "*") && strings.HasSuffix(lowerPattern, "*") {
		return strings.Contains(lowerValue, lowerPattern[1:len(lowerPattern)-1])
	}
	if strings.HasPrefix(lowerPattern, "*") {
		return strings.HasSuffix(lowerValue, lowerPattern[1:])
	}
	if strings.HasSuffix(lowerPattern, "*") {
		return strings.HasPrefix(lowerValue, lowerPattern[:len(lowerPattern)-1])
	}
	return lowerValue == lowerPattern
}
