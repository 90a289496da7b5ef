package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/secfin/internal/pipeline"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Convert a partition's archive members to parquet tables",
	Long: `Extract every member of the raw archive for a partition and write one
parquet table per member under extracted/{year}Q{quarter}/.

Members missing from the archive are skipped with a warning. Rerunning
overwrites the previous output unless --skip-existing is set.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runMode(cmd, pipeline.ModeParquet)
	},
}

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert a partition's filings to per-submission JSON documents",
	Long: `Join the sub, tag, num, and pre members of a partition's archive and
write one JSON document per filing under JSON_Conversion/{year}/Q{quarter}/.

Filings without a usable reporting period are skipped. Facts that cannot be
placed on a statement are dropped and counted in the run ledger.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runMode(cmd, pipeline.ModeJSON)
	},
}

func runMode(cmd *cobra.Command, mode pipeline.Mode) error {
	ctx := cmd.Context()

	p, err := partitionFromFlags(cmd)
	if err != nil {
		return err
	}

	env, err := initPipeline(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	if skip, _ := cmd.Flags().GetBool("skip-existing"); skip && mode == pipeline.ModeParquet {
		present, err := env.Runner.Exists(ctx, p.Year, p.Quarter)
		if err != nil {
			return err
		}
		if present {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: columnar output already present, skipping\n", p)
			return nil
		}
	}

	res, err := env.Runner.Run(ctx, p, mode)
	if err != nil {
		return eris.Wrapf(err, "%s %s", mode, p)
	}

	formatResult(os.Stdout, res)
	return nil
}

func init() {
	addPartitionFlags(extractCmd)
	extractCmd.Flags().Bool("skip-existing", false, "do nothing if columnar output already exists")
	addPartitionFlags(convertCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(convertCmd)
}

// formatResult writes a one-run summary to out.
func formatResult(out io.Writer, res *pipeline.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Partition:\t%s\n", res.Partition)
	_, _ = fmt.Fprintf(w, "Mode:\t%s\n", res.Mode)
	if res.RunID != "" {
		_, _ = fmt.Fprintf(w, "Run:\t%s\n", res.RunID)
	}
	switch res.Mode {
	case pipeline.ModeParquet:
		_, _ = fmt.Fprintf(w, "Tables:\t%d\n", res.Counts.Tables)
		_, _ = fmt.Fprintf(w, "Rows:\t%s\n", humanize.Comma(res.Counts.Rows))
	case pipeline.ModeJSON:
		_, _ = fmt.Fprintf(w, "Submissions:\t%s\n", humanize.Comma(res.Counts.Submissions))
		_, _ = fmt.Fprintf(w, "Emitted:\t%s\n", humanize.Comma(res.Counts.Emitted))
		_, _ = fmt.Fprintf(w, "Skipped:\t%d\n", res.Counts.Skipped)
		_, _ = fmt.Fprintf(w, "Failed:\t%d\n", res.Counts.Failed)
		_, _ = fmt.Fprintf(w, "Facts:\t%s\n", humanize.Comma(res.Counts.Facts))
		_, _ = fmt.Fprintf(w, "  Dropped:\t%d\n", res.Counts.FactsDropped)
		_, _ = fmt.Fprintf(w, "  Null values:\t%d\n", res.Facts.NullValues)
	}
	_, _ = fmt.Fprintf(w, "Written:\t%s\n", humanize.Bytes(uint64(res.Counts.Bytes)))
	_, _ = fmt.Fprintf(w, "Duration:\t%s\n", res.Duration.Round(time.Millisecond))
	_ = w.Flush()
}
