package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/permadeploy/deployer/code/go/permadeploy/core/common"
	"github.com/permadeploy/deployer/code/go/permadeploy/core/logging"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/config"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/deploy"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/files"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/manifest"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/upload"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/wallet"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newDeployCommand() *cobra.Command {
	var (
		noSmart  bool
		token    string
		index    string
		fallback string
		quiet    bool
	)

	cmd := &cobra.Command{
		Use:   "deploy <folder>",
		Short: "Upload a folder and publish its path manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := common.GetRootContext()

			list, err := files.Walk(args[0])
			if err != nil {
				return err
			}
			logging.Logger.Info("deploying folder",
				zap.String("root", args[0]),
				zap.Int("files", len(list)),
				zap.Int64("bytes", files.TotalSize(list)))

			a, err := openRuntime(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()
			watchConfig(a)

			payment, err := paymentConfig()
			if err != nil {
				return err
			}
			opts := deploy.Options{
				SmartDeploy: !noSmart,
				Payment:     payment,
				Manifest:    manifestOptions(cmd.Flags().Changed, index, fallback),
			}
			if token != "" {
				t, err := wallet.ParseTokenType(token)
				if err != nil {
					return err
				}
				opts.Token = &t
			}

			var wg sync.WaitGroup
			if !quiet {
				sink := upload.NewChannelSink(256)
				opts.Sink = sink
				wg.Add(1)
				go func() {
					defer wg.Done()
					printProgress(cmd.ErrOrStderr(), sink.Events())
				}()
				defer func() {
					sink.Close()
					wg.Wait()
				}()
			}

			res, err := a.engine.Deploy(ctx, list, opts)
			if res != nil {
				printResult(cmd.OutOrStdout(), res)
			}
			return err
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&noSmart, "no-smart-deploy", false, "upload every file even if its content is already stored")
	flags.StringVar(&token, "token", "", "payment token for this deploy, overrides wallet.token")
	flags.StringVar(&index, "index", manifest.DefaultIndex, "manifest index path, overrides manifest.index")
	flags.StringVar(&fallback, "fallback", "", "manifest fallback path, e.g. 404.html, overrides manifest.fallback")
	flags.BoolVarP(&quiet, "quiet", "q", false, "do not print upload progress")
	return cmd
}

// manifestOptions prefers flags the user set over the manifest.* config keys.
func manifestOptions(changed func(string) bool, index, fallback string) manifest.Options {
	c := config.Configuration
	opts := manifest.Options{Index: c.ManifestIndex, Fallback: c.ManifestFallback}
	if changed("index") || opts.Index == "" {
		opts.Index = index
	}
	if changed("fallback") {
		opts.Fallback = fallback
	}
	return opts
}

func printProgress(w io.Writer, events <-chan upload.Event) {
	for e := range events {
		if !e.State.Terminal() {
			continue
		}
		fmt.Fprintf(w, "[%5.1f%%] %-9s %s\n", e.OverallPercent, e.State, e.Path)
	}
}

func printResult(w io.Writer, res *deploy.Result) {
	fmt.Fprintf(w, "deployment %s (%s)\n", res.ID, res.Rail)
	fmt.Fprintf(w, "  files:    %d total, %d cached, %d uploaded, %d failed\n",
		res.Stats.TotalFiles, len(res.Cached), len(res.Uploaded), len(res.Failures))
	fmt.Fprintf(w, "  bytes:    %s total, %s billable, %s saved\n",
		bytesOf(res.Stats.TotalBytes), bytesOf(res.Stats.BillableBytes), bytesOf(res.Stats.SavedBytes))
	for _, f := range res.Funding {
		fmt.Fprintf(w, "  funding:  %s %s for %s winc, %s (tx %s)\n", f.TokenAmount, f.Token, f.Winc, f.Status, f.TxID)
	}
	for _, f := range res.Failures {
		fmt.Fprintf(w, "  failed:   %s: %v\n", f.Path, f.Err)
	}
	for p, err := range res.HashFailures {
		fmt.Fprintf(w, "  unhashed: %s: %v\n", p, err)
	}
	if res.ManifestID != "" {
		fmt.Fprintf(w, "  manifest: %s\n", res.ManifestID)
	}
}
