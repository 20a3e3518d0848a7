package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/haestore/export"
	"github.com/Zerofisher/haestore/internal/app"
	"github.com/Zerofisher/haestore/pkg/query"
)

// list command flags
var (
	listHost     string
	listComment  string
	listRule     string
	listValue    string
	listPage     int
	listPageSize int
	listAll      bool
	listFormat   string
	listFields   []string
	listCount    int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored messages",
	Long: `List one page of stored messages in insertion order, filtered by host
pattern, comment keyword and rule name/value. Filters combine with AND.

Host patterns: "*" matches everything, "*.example.com" matches example.com
and its subdomains, anything else matches hosts containing the text.`,
	Example: `  haestore list
  haestore list --host '*.example.com' --page 2 --page-size 50
  haestore list --comment Token
  haestore list --rule Email --value alice@example.com
  haestore list --all -T fields -e id -e url -e comment`,
	Aliases: []string{"ls"},
	GroupID: "query",
	RunE:    runList,
}

func init() {
	listCmd.Flags().StringVar(&listHost, "host", query.AllToken, "Host pattern")
	listCmd.Flags().StringVar(&listComment, "comment", "", "Comment keyword (substring)")
	listCmd.Flags().StringVar(&listRule, "rule", "", "Rule name (requires --value)")
	listCmd.Flags().StringVar(&listValue, "value", "", "Extracted value for --rule (exact)")
	listCmd.Flags().IntVarP(&listPage, "page", "p", 1, "Page number")
	listCmd.Flags().IntVar(&listPageSize, "page-size", 0, "Page size: 50, 100, 200, 500 or 1000 (default from config)")
	listCmd.Flags().BoolVar(&listAll, "all", false, "Print every matching message, ignoring paging")
	listCmd.Flags().StringVarP(&listFormat, "format", "T", string(export.FormatText), "Output format: text, json, fields")
	listCmd.Flags().StringArrayVarP(&listFields, "field", "e", nil, "Field for -T fields (repeatable): id, method, url, comment, length, color, status, hash")
	listCmd.Flags().IntVarP(&listCount, "count", "c", 0, "Stop after n messages (0 = unlimited)")
}

func runList(cmd *cobra.Command, args []string) error {
	format, err := export.ParseFormat(listFormat)
	if err != nil {
		return err
	}

	a, cleanup, err := openApp(cmd, app.Options{ReadOnly: true})
	if err != nil {
		return err
	}
	defer cleanup()

	p, err := a.RunList(cmd.Context(), cmd.OutOrStdout(), app.ListConfig{
		Host:      listHost,
		Comment:   listComment,
		RuleName:  listRule,
		RuleValue: listValue,
		Page:      listPage,
		PageSize:  listPageSize,
		All:       listAll,
		Format:    format,
		Fields:    listFields,
		MaxCount:  listCount,
	})
	if err != nil {
		return err
	}
	if !listAll && format == export.FormatText {
		fmt.Fprintln(os.Stderr, p.String())
	}
	return nil
}
