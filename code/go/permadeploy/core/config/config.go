package config

const (
	DeploymentDevelopment = "development"
	DeploymentProduction  = "production"
)

/*Config - process wide options shared by every domain package */
type Config struct {
	DeploymentMode string
	AppName        string
	AppVersion     string
	LogDir         string
}

var Configuration = Config{
	DeploymentMode: DeploymentProduction,
	AppName:        "PermaDeploy",
	AppVersion:     "dev",
}

/*Development - is the program running in development mode? */
func Development() bool {
	return Configuration.DeploymentMode == DeploymentDevelopment
}
