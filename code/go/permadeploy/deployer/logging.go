package main

import (
	"github.com/permadeploy/deployer/code/go/permadeploy/core/config"
	"github.com/permadeploy/deployer/code/go/permadeploy/core/logging"
)

func setupLogging() {
	if config.Development() {
		logging.InitLogging(config.DeploymentDevelopment, logDir, "permadeploy.log")
	} else {
		logging.InitLogging(config.DeploymentProduction, logDir, "permadeploy.log")
	}
}
