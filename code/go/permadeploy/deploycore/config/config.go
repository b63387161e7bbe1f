package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/permadeploy/deployer/code/go/permadeploy/core/config"
	"github.com/spf13/viper"
)

const ConfigName = "permadeploy"

// SetupDefaultConfig - setup the default config options that can be overridden via the config file
func SetupDefaultConfig() {
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.console", false)
	viper.SetDefault("logging.format", "console")
	viper.SetDefault("logging.max_size_mb", 100)
	viper.SetDefault("logging.max_backups", 3)
	viper.SetDefault("logging.max_age_days", 28)

	viper.SetDefault("app.name", "PermaDeploy")
	viper.SetDefault("app.version", "dev")

	viper.SetDefault("upload.url", "https://upload.ardrive.io")
	viper.SetDefault("upload.batch_size", 5)
	viper.SetDefault("upload.max_attempts", 3)
	viper.SetDefault("upload.backoff", 2*time.Second)
	viper.SetDefault("upload.attempt_timeout", 5*time.Minute)
	viper.SetDefault("upload.max_failure_ratio", 0.1)

	viper.SetDefault("payment.url", "https://payment.ardrive.io")
	viper.SetDefault("payment.mode", "credits")

	viper.SetDefault("hashing.max_concurrency", 8)
	viper.SetDefault("hashing.max_file_size", int64(100<<20))
	viper.SetDefault("hashing.timeout", 30*time.Second)

	viper.SetDefault("dedup.enabled", true)
	viper.SetDefault("dedup.backend", "sqlite")
	viper.SetDefault("dedup.memo_ttl", 10*time.Minute)
	viper.SetDefault("dedup.pebble_dir", "./data/hashcache")

	viper.SetDefault("free_tier_bytes", int64(0))

	viper.SetDefault("wallet.type", "ethereum")
	viper.SetDefault("wallet.token", "base-usdc")
	viper.SetDefault("wallet.client_cache_size", 4)

	viper.SetDefault("jit.buffer_multiplier", 1.1)
	viper.SetDefault("jit.max_resubmits", 3)
	viper.SetDefault("jit.confirm_interval", 5*time.Second)

	viper.SetDefault("x402.network", "base")
	viper.SetDefault("x402.timeout_buffer", 60*time.Second)

	viper.SetDefault("db.driver", "sqlite")
	viper.SetDefault("db.path", "./data/permadeploy.db")
	viper.SetDefault("db.port", "5432")

	viper.SetDefault("manifest.index", "index.html")
}

/*SetupConfig - setup the configuration system */
func SetupConfig(configPath string) error {
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.SetEnvPrefix("PERMADEPLOY")
	viper.AutomaticEnv()
	viper.SetConfigName(ConfigName)

	if configPath == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
	} else {
		viper.AddConfigPath(configPath)
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("fatal error config file: %w", err)
	}
	return nil
}

// X402Config is decoded from the x402 section with mapstructure tags.
type X402Config struct {
	Network       string        `mapstructure:"network"`
	MaxAmount     string        `mapstructure:"max_amount"`
	TimeoutBuffer time.Duration `mapstructure:"timeout_buffer"`
	Endpoint      string        `mapstructure:"endpoint"`
}

type Config struct {
	*config.Config

	UploadURL       string
	PaymentURL      string
	BatchSize       int
	MaxAttempts     int
	Backoff         time.Duration
	AttemptTimeout  time.Duration
	MaxFailureRatio float64

	PaymentMode string

	HashConcurrency int
	HashMaxFileSize int64
	HashTimeout     time.Duration

	DedupEnabled   bool
	DedupBackend   string
	DedupMemoTTL   time.Duration
	DedupPebbleDir string
	FreeTierBytes  int64

	WalletType      string
	WalletToken     string
	WalletKeyFile   string
	WalletKeySecret string
	WalletRPCURL    string
	ClientCacheSize int

	JITMaxTokenAmount   string
	JITBufferMultiplier float64
	JITMaxResubmits     int
	JITConfirmInterval  time.Duration

	X402 X402Config

	DBDriver   string
	DBPath     string
	DBHost     string
	DBPort     string
	DBName     string
	DBUserName string
	DBPassword string

	ManifestIndex    string
	ManifestFallback string
}

/*Configuration of the system */
var Configuration = Config{Config: &config.Configuration}

// ReadConfig copies viper state into Configuration.
func ReadConfig() error {
	config.Configuration.AppName = viper.GetString("app.name")
	config.Configuration.AppVersion = viper.GetString("app.version")

	c := &Configuration
	c.UploadURL = strings.TrimRight(viper.GetString("upload.url"), "/")
	c.PaymentURL = strings.TrimRight(viper.GetString("payment.url"), "/")
	c.BatchSize = viper.GetInt("upload.batch_size")
	c.MaxAttempts = viper.GetInt("upload.max_attempts")
	c.Backoff = viper.GetDuration("upload.backoff")
	c.AttemptTimeout = viper.GetDuration("upload.attempt_timeout")
	c.MaxFailureRatio = viper.GetFloat64("upload.max_failure_ratio")

	c.PaymentMode = viper.GetString("payment.mode")

	c.HashConcurrency = viper.GetInt("hashing.max_concurrency")
	c.HashMaxFileSize = viper.GetInt64("hashing.max_file_size")
	c.HashTimeout = viper.GetDuration("hashing.timeout")

	c.DedupEnabled = viper.GetBool("dedup.enabled")
	c.DedupBackend = viper.GetString("dedup.backend")
	c.DedupMemoTTL = viper.GetDuration("dedup.memo_ttl")
	c.DedupPebbleDir = viper.GetString("dedup.pebble_dir")
	c.FreeTierBytes = viper.GetInt64("free_tier_bytes")

	c.WalletType = viper.GetString("wallet.type")
	c.WalletToken = viper.GetString("wallet.token")
	c.WalletKeyFile = viper.GetString("wallet.key_file")
	c.WalletKeySecret = viper.GetString("wallet.key_secret")
	c.WalletRPCURL = viper.GetString("wallet.rpc_url")
	c.ClientCacheSize = viper.GetInt("wallet.client_cache_size")

	c.JITMaxTokenAmount = viper.GetString("jit.max_token_amount")
	c.JITBufferMultiplier = viper.GetFloat64("jit.buffer_multiplier")
	c.JITMaxResubmits = viper.GetInt("jit.max_resubmits")
	c.JITConfirmInterval = viper.GetDuration("jit.confirm_interval")

	if err := viper.UnmarshalKey("x402", &c.X402); err != nil {
		return fmt.Errorf("decode x402 config: %w", err)
	}

	c.DBDriver = viper.GetString("db.driver")
	c.DBPath = viper.GetString("db.path")
	c.DBHost = viper.GetString("db.host")
	c.DBPort = viper.GetString("db.port")
	c.DBName = viper.GetString("db.name")
	c.DBUserName = viper.GetString("db.user")
	c.DBPassword = viper.GetString("db.password")

	c.ManifestIndex = viper.GetString("manifest.index")
	c.ManifestFallback = viper.GetString("manifest.fallback")

	return c.Validate()
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.BatchSize < 1:
		return fmt.Errorf("upload.batch_size must be positive, got %d", c.BatchSize)
	case c.MaxAttempts < 1:
		return fmt.Errorf("upload.max_attempts must be positive, got %d", c.MaxAttempts)
	case c.MaxFailureRatio < 0 || c.MaxFailureRatio > 1:
		return fmt.Errorf("upload.max_failure_ratio must be within [0,1], got %v", c.MaxFailureRatio)
	case c.HashConcurrency < 1:
		return fmt.Errorf("hashing.max_concurrency must be positive, got %d", c.HashConcurrency)
	case c.FreeTierBytes < 0:
		return fmt.Errorf("free_tier_bytes must not be negative, got %d", c.FreeTierBytes)
	}
	if _, err := c.X402MaxAmount(); err != nil {
		return err
	}
	if _, err := c.JITMaxTokens(); err != nil {
		return err
	}
	return nil
}

// X402MaxAmount is x402.max_amount in the asset's smallest unit, nil when unset.
func (c *Config) X402MaxAmount() (*big.Int, error) {
	return parseUnits("x402.max_amount", c.X402.MaxAmount)
}

// JITMaxTokens is jit.max_token_amount in the token's smallest unit, nil when unset.
func (c *Config) JITMaxTokens() (*big.Int, error) {
	return parseUnits("jit.max_token_amount", c.JITMaxTokenAmount)
}

func parseUnits(key, v string) (*big.Int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	n, ok := new(big.Int).SetString(v, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("%s must be a non-negative integer amount, got %q", key, v)
	}
	return n, nil
}

// WatchConfig re-reads the config file whenever it changes on disk and hands the new
// Configuration to onChange. Only settings read per operation (log level, payment caps)
// take effect without a restart.
func WatchConfig(onChange func(fsnotify.Event, *Config)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		if err := ReadConfig(); err != nil {
			return
		}
		onChange(e, &Configuration)
	})
	viper.WatchConfig()
}
