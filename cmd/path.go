package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/haestore/internal/app"
	"github.com/Zerofisher/haestore/pkg/query"
)

var pathCmd = &cobra.Command{
	Use:     "path",
	Short:   "Print the message history database location",
	GroupID: "manage",
	RunE:    runPath,
}

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Print the effective configuration as YAML",
	Example: `  haestore config --config ./haestore.yaml`,
	GroupID: "manage",
	RunE:    runConfig,
}

func runPath(cmd *cobra.Command, args []string) error {
	a, cleanup, err := openApp(cmd, app.Options{ReadOnly: true})
	if err != nil {
		return err
	}
	defer cleanup()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, a.Store.DatabaseLocation())
	if !a.Store.Available() {
		fmt.Fprintln(out, "  (unavailable)")
		return nil
	}
	if v, err := a.Store.SchemaVersion(cmd.Context()); err == nil {
		fmt.Fprintf(out, "  schema version: %d\n", v)
	}
	fmt.Fprintf(out, "  messages:       %d\n", a.Store.CountMatching(cmd.Context(), query.Filter{}))
	return nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	data, err := cfg.YAML()
	if err != nil {
		return fmt.Errorf("render config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
