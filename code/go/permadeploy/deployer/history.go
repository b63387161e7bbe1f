package main

import (
	"fmt"

	"github.com/permadeploy/deployer/code/go/permadeploy/core/common"
	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past deployments, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := common.GetRootContext()
			a, err := openRuntime(ctx, false)
			if err != nil {
				return err
			}
			defer a.close()

			list, err := a.history.List(ctx, limit)
			if err != nil {
				return err
			}
			table := newTable(cmd.OutOrStdout(), "ID", "When", "Status", "Token", "Files (all/cached/new/failed)", "Bytes", "Manifest")
			for _, d := range list {
				table.Append([]string{
					d.ID,
					d.CreatedAt.Format("2006-01-02 15:04:05"),
					d.Status,
					d.Token,
					fmt.Sprintf("%d/%d/%d/%d", d.TotalFiles, d.CachedFiles, d.UploadedFiles, d.FailedFiles),
					bytesOf(d.TotalBytes),
					d.ManifestID,
				})
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum deployments to show, 0 for all")
	return cmd
}
