package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/haestore/export"
	"github.com/Zerofisher/haestore/internal/app"
)

var showHex bool

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show payloads and matches of one message",
	Long:  `Print the endpoint, the extracted rule values and the request/response payloads of a stored message.`,
	Example: `  haestore show 0192f1c4-7e2a-7c3b-9a51-2f0e5d7c1a10
  haestore show 0192f1c4-7e2a-7c3b-9a51-2f0e5d7c1a10 -x`,
	Args:    cobra.ExactArgs(1),
	GroupID: "query",
	RunE:    runShow,
}

func init() {
	showCmd.Flags().BoolVarP(&showHex, "hex", "x", false, "Show payloads as a hex dump")
}

func runShow(cmd *cobra.Command, args []string) error {
	a, cleanup, err := openApp(cmd, app.Options{ReadOnly: true})
	if err != nil {
		return err
	}
	defer cleanup()

	id := args[0]
	tx, ok := a.Store.LoadByID(cmd.Context(), id)
	if !ok {
		return fmt.Errorf("message %s not found", id)
	}
	export.WriteTransaction(cmd.OutOrStdout(), id, tx, a.Store.Matches(cmd.Context(), id), showHex)
	return nil
}
