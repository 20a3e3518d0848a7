package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/haestore/internal/app"
)

// delete command flags
var deleteHost string

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete messages by host pattern",
	Long: `Delete every message whose host matches the pattern, using the same
matching as "list --host". "*" deletes everything.`,
	Example: `  haestore delete --host tracker
  haestore delete --host '*.ads.example.com'`,
	GroupID: "manage",
	RunE:    runDelete,
}

// clear command flags
var clearYes bool

var clearCmd = &cobra.Command{
	Use:     "clear",
	Short:   "Delete every stored message",
	Example: `  haestore clear --yes`,
	GroupID: "manage",
	RunE:    runClear,
}

func init() {
	deleteCmd.Flags().StringVar(&deleteHost, "host", "", "Host pattern (required)")
	_ = deleteCmd.MarkFlagRequired("host")

	clearCmd.Flags().BoolVarP(&clearYes, "yes", "y", false, "Confirm deleting the whole history")
}

func runDelete(cmd *cobra.Command, args []string) error {
	a, cleanup, err := openApp(cmd, app.Options{})
	if err != nil {
		return err
	}
	defer cleanup()

	n := a.Store.DeleteByHostPattern(cmd.Context(), deleteHost)
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d messages\n", n)
	return nil
}

func runClear(cmd *cobra.Command, args []string) error {
	if !clearYes {
		return errors.New("refusing to clear the history without --yes")
	}

	a, cleanup, err := openApp(cmd, app.Options{})
	if err != nil {
		return err
	}
	defer cleanup()

	n := a.Store.DeleteAll(cmd.Context())
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d messages\n", n)
	return nil
}
