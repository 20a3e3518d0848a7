package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Zerofisher/haestore/internal/app"
	"github.com/Zerofisher/haestore/pkg/query"
	"github.com/Zerofisher/haestore/stats"
)

// stats command flags
var (
	statsHost    string
	statsComment string
)

var statsCmd = &cobra.Command{
	Use:     "stats",
	Short:   "Message history statistics",
	Long:    `Summarize stored messages by host, color or matching rule.`,
	GroupID: "query",
}

var statsHostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "Show per-host statistics",
	Example: `  haestore stats hosts
  haestore stats hosts --host '*.example.com'`,
	RunE: runStats(func(m *stats.Manager, cmd *cobra.Command) { m.PrintHosts(cmd.OutOrStdout()) }),
}

var statsColorsCmd = &cobra.Command{
	Use:   "colors",
	Short: "Show per-color statistics",
	RunE:  runStats(func(m *stats.Manager, cmd *cobra.Command) { m.PrintColors(cmd.OutOrStdout()) }),
}

var statsRulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Show per-rule statistics",
	RunE:  runStats(func(m *stats.Manager, cmd *cobra.Command) { m.PrintRules(cmd.OutOrStdout()) }),
}

func init() {
	statsCmd.PersistentFlags().StringVar(&statsHost, "host", query.AllToken, "Host pattern")
	statsCmd.PersistentFlags().StringVar(&statsComment, "comment", "", "Comment keyword (substring)")

	statsCmd.AddCommand(statsHostsCmd)
	statsCmd.AddCommand(statsColorsCmd)
	statsCmd.AddCommand(statsRulesCmd)
}

func runStats(render func(*stats.Manager, *cobra.Command)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp(cmd, app.Options{ReadOnly: true})
		if err != nil {
			return err
		}
		defer cleanup()

		m := stats.NewManager()
		for _, msg := range a.Store.LoadAllMetadata(cmd.Context(), query.Filter{Host: statsHost, Comment: statsComment}) {
			m.Add(msg)
		}
		render(m, cmd)
		return nil
	}
}
