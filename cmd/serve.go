package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/secfin/internal/api"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read API over the blob store and run ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		store, err := initBlob()
		if err != nil {
			return err
		}
		ledger, closeLedger, err := initRunLog(ctx)
		if err != nil {
			return err
		}
		defer closeLedger()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		if cfg.Monitoring.WebhookURL != "" {
			go newChecker(store, ledger).Run(ctx)
		}

		srv := api.New(store, ledger, cfg.Server.CORSOrigins)
		if err := srv.ListenAndServe(ctx, fmt.Sprintf(":%d", port)); err != nil {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
