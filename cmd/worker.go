package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/secfin/internal/orchestrate"
	"github.com/sells-group/secfin/internal/pipeline"
	"github.com/sells-group/secfin/internal/warehouse"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a Temporal worker for the ingest workflow",
	Long: `Poll temporal.task_queue and execute IngestWorkflow and its activities.

The warehouse activity is only available when warehouse.database_url is set.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		log := zap.L().With(zap.String("command", "worker"))

		if err := cfg.Validate("worker"); err != nil {
			return err
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		acts := &orchestrate.Activities{Scraper: env.Scraper, Converter: env.Runner}
		if cfg.Warehouse.DatabaseURL != "" {
			loader, pool, err := initWarehouse(ctx, env.Store)
			if err != nil {
				return err
			}
			defer pool.Close()
			acts.Warehouse = loader
		} else {
			log.Warn("warehouse.database_url not set, LoadWarehouse activity disabled")
		}

		c, err := orchestrate.Dial(temporalOptions())
		if err != nil {
			return err
		}
		defer c.Close()

		w := orchestrate.NewWorker(c, cfg.Temporal.TaskQueue, acts)
		log.Info("worker starting", zap.String("task_queue", cfg.Temporal.TaskQueue))
		if err := w.Run(interruptOn(ctx)); err != nil {
			return eris.Wrap(err, "worker")
		}
		return nil
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Start an ingest workflow for a partition",
	Long: `Start IngestWorkflow on temporal.task_queue for one partition.

By default the workflow scrapes the archive, runs both conversion modes,
and loads the JSON documents into the warehouse. Use --wait to block until
it finishes and print its result.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("worker"); err != nil {
			return err
		}

		params, err := parseIngestParams(cmd)
		if err != nil {
			return err
		}

		c, err := orchestrate.Dial(temporalOptions())
		if err != nil {
			return err
		}
		defer c.Close()

		run, err := orchestrate.StartIngest(ctx, c, cfg.Temporal.TaskQueue, params)
		if err != nil {
			return err
		}
		zap.L().Info("ingest started",
			zap.String("workflow_id", run.GetID()),
			zap.String("run_id", run.GetRunID()),
		)

		if wait, _ := cmd.Flags().GetBool("wait"); !wait {
			return nil
		}

		var res orchestrate.IngestResult
		if err := run.Get(ctx, &res); err != nil {
			return eris.Wrap(err, "ingest")
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	addIngestFlags(ingestCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(ingestCmd)
}

func addIngestFlags(cmd *cobra.Command) {
	addPartitionFlags(cmd)
	cmd.Flags().StringSlice("modes", []string{string(pipeline.ModeParquet), string(pipeline.ModeJSON)}, "conversion modes to run")
	cmd.Flags().Bool("no-scrape", false, "use the raw archive already in the store")
	cmd.Flags().Bool("no-load", false, "skip the warehouse load")
	cmd.Flags().Bool("force", false, "rerun scrape and parquet even if columnar output exists")
	cmd.Flags().String("root", warehouse.DefaultRoot, "JSON root the warehouse load reads from")
	cmd.Flags().Bool("wait", false, "wait for the workflow to finish")
}

func temporalOptions() orchestrate.ClientOptions {
	return orchestrate.ClientOptions{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	}
}

// parseIngestParams extracts orchestrate.IngestParams from the command flags.
func parseIngestParams(cmd *cobra.Command) (orchestrate.IngestParams, error) {
	p, err := partitionFromFlags(cmd)
	if err != nil {
		return orchestrate.IngestParams{}, err
	}
	modes, _ := cmd.Flags().GetStringSlice("modes")
	noScrape, _ := cmd.Flags().GetBool("no-scrape")
	noLoad, _ := cmd.Flags().GetBool("no-load")
	root, _ := cmd.Flags().GetString("root")
	force, _ := cmd.Flags().GetBool("force")

	hasJSON := false
	for _, m := range modes {
		mode, err := pipeline.ParseMode(m)
		if err != nil {
			return orchestrate.IngestParams{}, err
		}
		hasJSON = hasJSON || mode == pipeline.ModeJSON
	}

	return orchestrate.IngestParams{
		Year:     p.Year,
		Quarter:  p.Quarter,
		Modes:    modes,
		Scrape:   !noScrape,
		Load:     !noLoad && hasJSON,
		LoadRoot: root,
		Force:    force,
	}, nil
}

// interruptOn adapts ctx to the channel worker.Run stops on.
func interruptOn(ctx context.Context) <-chan interface{} {
	ch := make(chan interface{}, 1)
	go func() {
		<-ctx.Done()
		ch <- struct{}{}
	}()
	return ch
}
