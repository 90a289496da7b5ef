package main

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/secfin/internal/partition"
	"github.com/sells-group/secfin/internal/warehouse"
)

var latestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Print the newest year/quarter prefix under a root",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		root, _ := cmd.Flags().GetString("root")

		store, err := initBlob()
		if err != nil {
			return err
		}

		latest, err := partition.Resolve(ctx, store, root)
		if errors.Is(err, partition.ErrNoPartitionFound) {
			return eris.Errorf("no partition found under %s", root)
		}
		if err != nil {
			return eris.Wrap(err, "latest")
		}

		fmt.Println(latest.Prefix(root))
		return nil
	},
}

func init() {
	latestCmd.Flags().String("root", warehouse.DefaultRoot, "root prefix to search")
	rootCmd.AddCommand(latestCmd)
}
