package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/agentgov/internal/config"
	"github.com/ppiankov/agentgov/internal/roles"
)

var (
	initDir   string
	initForce bool
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVar(&initDir, "dir", "", "Directory to write into (default ~/.agentgov)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing files")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config, role constitutions and agent directory",
	Long:  "Creates config.yaml, roles.yaml and agents.yaml. Existing files are kept\nunless --force is given.",
	Args:  cobra.NoArgs,
	// init must work before any config exists.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE:              runInit,
}

const sampleAgentsYAML = `# Agent directory. Each agent is bound to one role and capped at a
# permission tier. identities limits the agent to listed identities
# (glob patterns allowed); omit it to apply everywhere.
agents:
  - agent_id: support-bot
    role: support
    max_permission_tier: suggest
    scope:
      domains: [support]
      decision_scopes: ["*"]
      allowed_tools: ["*"]
  - agent_id: revops-bot
    role: revenue_ops
    max_permission_tier: draft
    identities: ["*"]
    scope:
      domains: [revenue_ops, sales]
      decision_scopes: ["*"]
      allowed_tools: ["*"]
`

func runInit(cmd *cobra.Command, args []string) error {
	dir := initDir
	if dir == "" {
		dir = config.DefaultDir()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	rolesYAML, err := roles.Marshal(roles.DefaultRoles())
	if err != nil {
		return err
	}
	files := []struct {
		name string
		data []byte
	}{
		{"config.yaml", []byte(config.DefaultConfigYAML())},
		{"roles.yaml", rolesYAML},
		{"agents.yaml", []byte(sampleAgentsYAML)},
	}
	out := cmd.OutOrStdout()
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		written, err := writeFile(path, f.data, initForce)
		if err != nil {
			return err
		}
		if written {
			fmt.Fprintf(out, "wrote %s\n", path)
		} else {
			fmt.Fprintf(out, "kept %s (use --force to overwrite)\n", path)
		}
	}
	fmt.Fprintln(out, "\nSet roles_file and agents_file in config.yaml to enable them.")
	return nil
}

func writeFile(path string, data []byte, force bool) (bool, error) {
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return false, err
	}
	return true, f.Close()
}
