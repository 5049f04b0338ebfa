package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/iconidentify/likevault/internal/catalog"
)

var (
	listDeletable bool
	listJSON      bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the local catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		current, err := a.repo.Load(cmd.Context())
		if err != nil {
			return err
		}

		items := current.Snapshot()
		if listDeletable {
			kept := items[:0]
			for _, item := range items {
				if item.Deletable() {
					kept = append(kept, item)
				}
			}
			items = kept
		}

		if listJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(items)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tPOST\tLIKED\tORIGIN")
		for _, item := range items {
			liked := "-"
			if t, ok := catalog.ParseTimestamp(item.CreatedAt); ok {
				liked = humanize.Time(t)
			}
			post := item.PostID
			if post == "" {
				post = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", item.Key(), post, liked, item.Origin)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("\n%s items, updated %s\n", humanize.Comma(int64(len(items))), humanize.Time(current.UpdatedAt))
		return nil
	},
}

func init() {
	listCmd.Flags().BoolVar(&listDeletable, "deletable", false, "Only items that can be deleted remotely")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Print JSON instead of a table")
	rootCmd.AddCommand(listCmd)
}
