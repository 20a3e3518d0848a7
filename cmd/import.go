package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/haestore/internal/app"
	"github.com/Zerofisher/haestore/pkg/ingest"
)

// import command flags
var (
	importWorkers int
	importQuiet   bool
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Record captures from a JSONL file",
	Long: `Read one JSON capture per line and record each one: rules extract values,
a comment and color are derived when missing, duplicates are suppressed and
the result is saved. Use "-" to read from stdin.

Each line looks like:
  {"url":"https://api.example.com/x","method":"GET","status":"200",
   "service":{"host":"api.example.com","port":443,"secure":true},
   "request":"<base64>","response":"<base64>"}`,
	Example: `  haestore import captures.jsonl
  haestore import - < captures.jsonl
  haestore import captures.jsonl -w 4 --config ./haestore.yaml`,
	Args:    cobra.ExactArgs(1),
	GroupID: "input",
	RunE:    runImport,
}

func init() {
	importCmd.Flags().IntVarP(&importWorkers, "workers", "w", 0, "Number of parallel workers (default: GOMAXPROCS)")
	importCmd.Flags().BoolVarP(&importQuiet, "quiet", "q", false, "Suppress progress output")
}

func runImport(cmd *cobra.Command, args []string) error {
	var in io.Reader = os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("error opening file: %w", err)
		}
		defer closeQuietly(f)
		in = f
	}

	a, cleanup, err := openApp(cmd, app.Options{})
	if err != nil {
		return err
	}
	defer cleanup()

	if a.Rules == nil {
		fmt.Fprintln(os.Stderr, "Warning: no rules file configured; only captures with a comment and color are recorded.")
	}

	cfg := ingest.Config{Workers: importWorkers, Logger: a.Log}
	if !importQuiet {
		cfg.ProgressCallback = func(processed int, elapsed time.Duration) {
			rate := float64(processed) / elapsed.Seconds()
			fmt.Fprintf(os.Stderr, "\rProcessed %d captures (%.0f/s)...", processed, rate)
		}
	}

	res, err := ingest.NewPipeline(a.Recorder, cfg).Run(in)
	if !importQuiet {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Imported %d captures in %v\n", res.Total, res.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "  Saved:      %d\n", res.Saved)
	fmt.Fprintf(out, "  Duplicates: %d\n", res.Duplicates)
	fmt.Fprintf(out, "  Skipped:    %d\n", res.Skipped)
	fmt.Fprintf(out, "  Failed:     %d\n", res.Failed)
	fmt.Fprintf(out, "  Malformed:  %d\n", res.Malformed)
	fmt.Fprintf(out, "Database: %s\n", a.Store.DatabaseLocation())
	return nil
}
