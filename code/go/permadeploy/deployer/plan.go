package main

import (
	"fmt"

	"github.com/permadeploy/deployer/code/go/permadeploy/core/common"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/config"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/files"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/transport"
	"github.com/spf13/cobra"
)

func newPlanCommand() *cobra.Command {
	var noSmart bool

	cmd := &cobra.Command{
		Use:   "plan <folder>",
		Short: "Show what a deploy would upload and what it would cost",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := common.GetRootContext()

			list, err := files.Walk(args[0])
			if err != nil {
				return err
			}
			a, err := openRuntime(ctx, false)
			if err != nil {
				return err
			}
			defer a.close()

			c := config.Configuration
			pricer := transport.NewTurboClient(transport.TurboOptions{
				UploadURL:  c.UploadURL,
				PaymentURL: c.PaymentURL,
			})
			est, err := a.engine.Estimate(ctx, list, !noSmart, pricer)
			if err != nil {
				return err
			}
			maxAmount, err := c.X402MaxAmount()
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "files:      %d total, %d cached, %d new\n",
				est.Stats.TotalFiles, est.Stats.CachedFiles, est.Stats.NewFiles)
			fmt.Fprintf(w, "bytes:      %s total, %s billable, %s saved\n",
				bytesOf(est.Stats.TotalBytes), bytesOf(est.Stats.BillableBytes), bytesOf(est.Stats.SavedBytes))
			fmt.Fprintf(w, "cost:       %s winc\n", est.Cost.String())
			fmt.Fprintf(w, "saved:      %s winc\n", est.SavedCost.String())
			fmt.Fprintf(w, "x402 cap:   %s\n", formatUnits(maxAmount))
			return nil
		},
	}
	cmd.Flags().BoolVar(&noSmart, "no-smart-deploy", false, "price every file as new")
	return cmd
}
