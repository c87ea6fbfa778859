package roles

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ppiankov/agentgov/internal/model"
)

func TestRoleFileRoundTrip(t *testing.T) {
	data, err := Marshal(DefaultRoles())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "roles.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	got, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, got, len(DefaultRoles()))
	require.Equal(t, "ceo", got[0].Role)
	require.Equal(t, model.ImpactDifficult, got[0].AuthorityCeiling.MaxImpact)
	require.Equal(t, int64(250_000), *got[0].EscalationRules.EscalateAboveCostCents)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte(`
roles:
  - role: ops
    version: 1
    superpowers: true
`))
	require.Error(t, err)
}

func TestParseRejectsDuplicatesAndInvalid(t *testing.T) {
	dup := []byte(`
roles:
  - role: ops
    version: 1
    jurisdiction: {domains: [ops]}
    authority_ceiling: {max_tier: draft, max_task_class: routine, max_impact: reversible, max_estimated_cost_cents: 0}
  - role: ops
    version: 2
    jurisdiction: {domains: [ops]}
    authority_ceiling: {max_tier: draft, max_task_class: routine, max_impact: reversible, max_estimated_cost_cents: 0}
`)
	_, err := Parse(dup)
	require.ErrorContains(t, err, "duplicate role")

	invalid := []byte(`
roles:
  - role: ops
    version: 1
    jurisdiction: {domains: [ops]}
    authority_ceiling: {max_tier: root, max_task_class: routine, max_impact: reversible}
`)
	_, err = Parse(invalid)
	require.Error(t, err)
}
