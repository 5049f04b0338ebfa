package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch the liked-video listing and merge it into the catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if a.client.Identity() == "" {
			return fmt.Errorf("no session cookie configured (set REMOTE_COOKIE)")
		}

		result := a.syncer.Synchronize(cmd.Context())
		if result.Err != nil {
			return fmt.Errorf("sync failed after %d pages: %w", result.Pages, result.Err)
		}
		if result.Reset {
			fmt.Println("Account changed, catalog was reset.")
		}
		fmt.Printf("Fetched %s items over %d pages in %s. Catalog holds %s items.\n",
			humanize.Comma(int64(result.Fetched)),
			result.Pages,
			result.Duration.Round(time.Millisecond),
			humanize.Comma(int64(result.Count)),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
