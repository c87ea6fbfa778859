package roles

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/agentgov/internal/model"
)

// File is the on-disk YAML layout of a role constitution file.
type File struct {
	Roles []model.RolePolicy `yaml:"roles"`
}

// LoadFile reads role constitutions from a YAML file. Unknown keys, duplicate
// roles and invalid constitutions are errors.
func LoadFile(path string) ([]model.RolePolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roles file: %w", err)
	}
	return Parse(data)
}

// Parse decodes role constitutions from YAML.
func Parse(data []byte) ([]model.RolePolicy, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse roles: %w", err)
	}

	seen := make(map[string]bool, len(f.Roles))
	for i, r := range f.Roles {
		if seen[r.Role] {
			return nil, fmt.Errorf("roles[%d]: duplicate role %q", i, r.Role)
		}
		seen[r.Role] = true
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("roles[%d]: %w", i, err)
		}
	}
	return f.Roles, nil
}

// Marshal renders roles in the YAML file layout.
func Marshal(roles []model.RolePolicy) ([]byte, error) {
	return yaml.Marshal(File{Roles: roles})
}
