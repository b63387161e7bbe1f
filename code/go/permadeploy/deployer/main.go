package main

import (
	"fmt"
	"os"

	"github.com/permadeploy/deployer/code/go/permadeploy/core/common"
	"github.com/permadeploy/deployer/code/go/permadeploy/core/logging"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/errors"
	"go.uber.org/zap"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	defer common.Done()

	if err := newRootCommand().Execute(); err != nil {
		ue := errors.Translate(err)
		logging.Logger.Error("command failed",
			zap.String("category", string(ue.Category)),
			zap.Error(err))
		fmt.Fprintf(os.Stderr, "error: %v\n", ue)
		os.Exit(1)
	}
}
