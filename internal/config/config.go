// Package config loads the agentgov YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/agentgov/internal/alert"
	"github.com/ppiankov/agentgov/internal/assess"
	"github.com/ppiankov/agentgov/internal/drift"
	"github.com/ppiankov/agentgov/internal/evalharness"
	"github.com/ppiankov/agentgov/internal/model"
	"github.com/ppiankov/agentgov/internal/referee"
	"github.com/ppiankov/agentgov/internal/trust"
)

// StoreConfig selects the policy store backend.
type StoreConfig struct {
	Backend string `yaml:"backend"` // memory | file | sqlite
	Path    string `yaml:"path"`
}

// ServerConfig holds listen addresses. An empty address disables that listener.
type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// GovernanceConfig tunes the engines behind the pipeline.
type GovernanceConfig struct {
	InitialTier model.PermissionTier       `yaml:"initial_tier"`
	Promotion   trust.Thresholds           `yaml:"promotion"`
	Epistemic   assess.EpistemicThresholds `yaml:"epistemic"`
	Referee     referee.Thresholds         `yaml:"referee"`
	Drift       drift.Thresholds           `yaml:"drift"`
	Evaluation  evalharness.Thresholds     `yaml:"evaluation"`
	Horizons    assess.HorizonLimits       `yaml:"horizons"`
}

// Config is the top-level configuration file.
type Config struct {
	Store      StoreConfig      `yaml:"store"`
	AuditLog   string           `yaml:"audit_log"`
	RolesFile  string           `yaml:"roles_file"`
	AgentsFile string           `yaml:"agents_file"`
	Identities []string         `yaml:"identities"`
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Governance GovernanceConfig `yaml:"governance"`
	Alerts     []alert.Webhook  `yaml:"alerts"`
}

// DefaultDir returns ~/.agentgov, or .agentgov when the home directory is unknown.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentgov"
	}
	return filepath.Join(home, ".agentgov")
}

// DefaultPath returns the config file used when none is given.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	dir := DefaultDir()
	return &Config{
		Store:      StoreConfig{Backend: "sqlite", Path: filepath.Join(dir, "agentgov.db")},
		AuditLog:   filepath.Join(dir, "audit.jsonl"),
		Identities: []string{"default"},
		Server:     ServerConfig{GRPCAddr: "127.0.0.1:7444", HTTPAddr: "127.0.0.1:7445"},
		Log:        LogConfig{Level: "info"},
		Governance: GovernanceConfig{
			InitialTier: model.TierSuggest,
			Promotion:   trust.DefaultThresholds(),
			Epistemic:   assess.DefaultEpistemicThresholds(),
			Referee:     referee.DefaultThresholds(),
			Drift:       drift.DefaultThresholds(),
			Evaluation:  evalharness.DefaultThresholds(),
			Horizons:    assess.DefaultHorizonLimits(),
		},
	}
}

// Load reads configuration from a YAML file. Empty path falls back to
// DefaultPath. Missing file returns defaults. Invalid YAML returns an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// Start with defaults, YAML overwrites only specified fields
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	for _, p := range []*string{&cfg.Store.Path, &cfg.AuditLog, &cfg.RolesFile, &cfg.AgentsFile} {
		*p = ExpandHome(*p)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory":
	case "file", "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("config: store.path required for %s backend", c.Store.Backend)
		}
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}
	if !c.Governance.InitialTier.Valid() {
		return fmt.Errorf("config: invalid governance.initial_tier %q", c.Governance.InitialTier)
	}
	for _, id := range c.Identities {
		if id == "" {
			return fmt.Errorf("config: empty identity")
		}
	}
	for _, a := range c.Alerts {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	return nil
}

// ExpandHome replaces a leading ~/ with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// DefaultConfigYAML returns a commented YAML string for agentgov init.
func DefaultConfigYAML() string {
	return `# agentgov configuration
# Generated by: agentgov init
#
# Unset keys keep their built-in defaults.

# Policy store backend: memory | file | sqlite.
# file keeps one JSON document per identity and collection under path.
store:
  backend: sqlite
  path: ~/.agentgov/agentgov.db

# Hash-chained JSONL log of every governance decision. Empty disables it.
audit_log: ~/.agentgov/audit.jsonl

# Role constitutions and the agent directory. Both are hot-reloaded by
# agentgov serve and written into every identity below.
# roles_file: ~/.agentgov/roles.yaml
# agents_file: ~/.agentgov/agents.yaml

# Identities seeded with default roles, controls, value anchor and norms.
identities:
  - default

server:
  grpc_addr: 127.0.0.1:7444
  http_addr: 127.0.0.1:7445

log:
  level: info
  json: false

governance:
  # Tier granted to agents with no trust history.
  initial_tier: suggest

  # Evidence required before an agent is promoted one tier.
  promotion:
    min_pass_rate: 0.9
    max_uncertainty_variance: 0.05
    max_rollback_rate: 0.1
    min_stable_runs: 5

  # Proposals from a pair below min_trust_index escalate to a human.
  referee:
    min_trust_index: 0.35
    min_score: 0.5
    merge_margin: 0.1
    review_below: 0.6

# Webhooks fired when matching governance events are audited.
# alerts:
#   - url: https://hooks.slack.com/services/...
#     format: slack            # generic | slack | pagerduty
#     events: [deny, emergency_stop_engaged]
`
}
