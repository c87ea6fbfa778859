package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/agentgov/internal/controlroom"
	"github.com/ppiankov/agentgov/internal/store"
)

var (
	snapFormat string
	snapOutput string
)

func init() {
	controlCmd.AddCommand(snapshotCmd)
	snapshotCmd.AddCommand(snapshotExportCmd, snapshotImportCmd)
	snapshotCmd.PersistentFlags().StringVar(&snapFormat, "format", "", "json or cbor (default from file extension, else json)")
	snapshotExportCmd.Flags().StringVarP(&snapOutput, "output", "o", "", "Write to file instead of stdout")
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Export or import an identity's full governance state",
}

var snapshotExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format := snapshotFormat(snapOutput)
		return withService(cmd, func(svc *controlroom.Service) error {
			snap, err := svc.ExportSnapshot(cmd.Context(), identityOr(ctlIdentity), ctlActor)
			if err != nil {
				return err
			}
			data, err := store.EncodeSnapshot(snap, format)
			if err != nil {
				return err
			}
			if snapOutput == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(snapOutput, data, 0o600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%s, digest %s)\n", snapOutput, format, snap.Digest)
			return nil
		})
	},
}

var snapshotImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replace an identity's state with a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		snap, err := store.DecodeSnapshot(data, snapshotFormat(args[0]))
		if err != nil {
			return err
		}
		return withService(cmd, func(svc *controlroom.Service) error {
			rep, err := svc.ImportSnapshot(cmd.Context(), identityOr(ctlIdentity), ctlActor, snap)
			if err != nil {
				return err
			}
			return printJSON(cmd, rep)
		})
	},
}

func snapshotFormat(path string) store.Format {
	if snapFormat != "" {
		return store.Format(strings.ToLower(snapFormat))
	}
	if strings.EqualFold(filepath.Ext(path), ".cbor") {
		return store.FormatCBOR
	}
	return store.FormatJSON
}
