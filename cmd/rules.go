package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/haestore/pkg/extract"
	"github.com/Zerofisher/haestore/pkg/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List the configured highlight rules",
	Long:  `Load and validate the rules file named by rules.file and print each rule.`,
	Example: `  haestore rules
  HAESTORE_RULES_FILE=./Rules.yml haestore rules`,
	GroupID: "manage",
	RunE:    runRules,
}

func runRules(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Rules.File == "" {
		fmt.Fprintln(os.Stderr, "No rules file configured (set rules.file or HAESTORE_RULES_FILE).")
		return nil
	}

	engine, err := rules.Load(cfg.Rules.File, extract.NewAggregator(cfg.Extract.Boundary))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSCOPE\tCOLOR\tPATTERN\tWHEN")
	for _, r := range engine.Rules() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Name, r.Scope, r.Color, r.Pattern, r.When)
	}
	return w.Flush()
}
