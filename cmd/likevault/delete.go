package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iconidentify/likevault/internal/deletion"
)

var deleteAll bool

var deleteCmd = &cobra.Command{
	Use:   "delete [post-id...]",
	Short: "Delete liked posts remotely and drop them from the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		if deleteAll == (len(args) > 0) {
			return fmt.Errorf("pass either post ids or --all")
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ids := args
		if deleteAll {
			current, err := a.repo.Load(cmd.Context())
			if err != nil {
				return err
			}
			for _, item := range current.Snapshot() {
				if item.Deletable() {
					ids = append(ids, item.PostID)
				}
			}
			if len(ids) == 0 {
				fmt.Println("Nothing to delete.")
				return nil
			}
		}

		orch := deletion.NewOrchestrator(a.cfg.Delete, a.client, a.repo, a.syncer, a.events, a.logger)
		result, err := orch.DeleteMany(cmd.Context(), ids)
		if err != nil {
			return err
		}

		for _, id := range result.Failed {
			fmt.Printf("failed: %s\n", id)
		}
		fmt.Println(result.Summary())
		if len(result.Failed) > 0 {
			return fmt.Errorf("%d deletions failed", len(result.Failed))
		}
		return nil
	},
}

func init() {
	deleteCmd.Flags().BoolVar(&deleteAll, "all", false, "Delete every post in the catalog")
	rootCmd.AddCommand(deleteCmd)
}
