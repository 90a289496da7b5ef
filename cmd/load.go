package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/secfin/internal/warehouse"
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load JSON documents into the Postgres warehouse",
	Long: `Resolve the newest year/quarter under --root and upsert every JSON
document there into warehouse.table, keyed by accession number.

Use --prefix to load a specific partition directory instead.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "load"))

		root, _ := cmd.Flags().GetString("root")
		prefix, _ := cmd.Flags().GetString("prefix")

		store, err := initBlob()
		if err != nil {
			return err
		}
		loader, pool, err := initWarehouse(ctx, store)
		if err != nil {
			return err
		}
		defer pool.Close()

		var res *warehouse.Result
		if prefix != "" {
			res, err = loader.LoadPrefix(ctx, prefix, prefixLabel(root, prefix))
		} else {
			res, err = loader.LoadLatest(ctx, root)
		}
		if err != nil {
			return eris.Wrap(err, "load")
		}

		log.Info("load complete", zap.String("partition", res.Partition), zap.Int64("loaded", res.Loaded))
		formatLoad(os.Stdout, res)
		return nil
	},
}

func init() {
	loadCmd.Flags().String("root", warehouse.DefaultRoot, "root prefix of the JSON output")
	loadCmd.Flags().String("prefix", "", "load this prefix instead of the newest partition")
	rootCmd.AddCommand(loadCmd)
}

func formatLoad(out io.Writer, res *warehouse.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Partition:\t%s\n", res.Partition)
	_, _ = fmt.Fprintf(w, "Documents:\t%d\n", res.Documents)
	_, _ = fmt.Fprintf(w, "Loaded:\t%d\n", res.Loaded)
	_, _ = fmt.Fprintf(w, "Invalid:\t%d\n", res.Invalid)
	_, _ = fmt.Fprintf(w, "Read:\t%s\n", humanize.Bytes(uint64(res.Bytes)))
	_ = w.Flush()
}

// prefixLabel turns "JSON_Conversion/2024/Q1/" into "2024/Q1".
func prefixLabel(root, prefix string) string {
	label := strings.Trim(strings.TrimPrefix(prefix, root), "/")
	if label == "" {
		return strings.Trim(prefix, "/")
	}
	return label
}
