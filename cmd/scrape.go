package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/secfin/internal/scrape"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Download raw quarterly archives from sec.gov",
	Long: `Read the Financial Statement Data Sets listing page and download the
archive for --year (every quarter) or --year with --quarter into the raw
area of the blob store.

Use --list to print the archives the listing offers without downloading.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if list, _ := cmd.Flags().GetBool("list"); list {
			links, err := env.Scraper.Discover(ctx)
			if err != nil {
				return eris.Wrap(err, "scrape list")
			}
			formatLinks(os.Stdout, links)
			return nil
		}

		year, _ := cmd.Flags().GetInt("year")
		quarter, _ := cmd.Flags().GetInt("quarter")
		if year == 0 {
			return eris.New("--year is required unless --list is set")
		}
		if quarter < 0 || quarter > 4 {
			return eris.Errorf("--quarter must be 1-4 (or omitted for the whole year), got %d", quarter)
		}

		got, err := env.Scraper.Fetch(ctx, year, quarter)
		if err != nil {
			return eris.Wrap(err, "scrape")
		}
		formatDownloads(os.Stdout, got)
		return nil
	},
}

func init() {
	scrapeCmd.Flags().Int("year", 0, "year to download")
	scrapeCmd.Flags().Int("quarter", 0, "quarter to download (default every quarter of --year)")
	scrapeCmd.Flags().Bool("list", false, "list available archives without downloading")
	rootCmd.AddCommand(scrapeCmd)
}

func formatLinks(out io.Writer, links []scrape.Link) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PARTITION\tURL")
	for _, l := range links {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", l.Partition, l.URL)
	}
	_ = w.Flush()
}

func formatDownloads(out io.Writer, got []scrape.Downloaded) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PARTITION\tKEY\tSIZE")
	for _, d := range got {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", d.Partition, d.Key, humanize.Bytes(uint64(d.Size)))
	}
	_ = w.Flush()
}
