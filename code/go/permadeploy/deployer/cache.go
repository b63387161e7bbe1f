package main

import (
	"fmt"

	"github.com/permadeploy/deployer/code/go/permadeploy/core/common"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/config"
	"github.com/spf13/cobra"
)

func newCacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the content hash cache",
	}
	cmd.AddCommand(newCacheListCommand())
	return cmd
}

func newCacheListCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored content hashes, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !config.Configuration.DedupEnabled {
				return common.NewError("cache_disabled", "dedup.enabled is false, there is no hash cache")
			}
			ctx := common.GetRootContext()
			a, err := openRuntime(ctx, false)
			if err != nil {
				return err
			}
			defer a.close()

			entries, err := a.cache.List(ctx, limit)
			if err != nil {
				return err
			}
			table := newTable(cmd.OutOrStdout(), "Hash", "Transaction", "Size", "Type", "Stored")
			for _, e := range entries {
				table.Append([]string{
					e.ContentHash,
					e.TransactionID,
					bytesOf(e.ByteSize),
					e.ContentType,
					e.CreatedAt.Format("2006-01-02 15:04:05"),
				})
			}
			table.Render()
			fmt.Fprintf(cmd.OutOrStdout(), "%d entries\n", len(entries))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries to show, 0 for all")
	return cmd
}
