package main

import (
	"fmt"

	coreconfig "github.com/permadeploy/deployer/code/go/permadeploy/core/config"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/config"
	"github.com/spf13/viper"
)

func setupConfig(configDir, mode string) error {
	config.SetupDefaultConfig()
	viper.SetDefault("app.version", Version)

	if err := config.SetupConfig(configDir); err != nil {
		return err
	}

	switch mode {
	case coreconfig.DeploymentDevelopment, coreconfig.DeploymentProduction:
		coreconfig.Configuration.DeploymentMode = mode
	default:
		return fmt.Errorf("unknown --deployment_mode %q", mode)
	}
	coreconfig.Configuration.LogDir = logDir

	return config.ReadConfig()
}
