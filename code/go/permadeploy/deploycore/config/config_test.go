package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestReadConfigDefaults(t *testing.T) {
	viper.Reset()
	SetupDefaultConfig()

	require.NoError(t, ReadConfig())

	c := Configuration
	require.Equal(t, 5, c.BatchSize)
	require.Equal(t, 3, c.MaxAttempts)
	require.Equal(t, 2*time.Second, c.Backoff)
	require.Equal(t, 5*time.Minute, c.AttemptTimeout)
	require.Equal(t, 0.1, c.MaxFailureRatio)
	require.EqualValues(t, 100<<20, c.HashMaxFileSize)
	require.EqualValues(t, 0, c.FreeTierBytes)
	require.Equal(t, "base", c.X402.Network)
	require.Equal(t, 60*time.Second, c.X402.TimeoutBuffer)
	require.Equal(t, "PermaDeploy", c.AppName)
}

func TestSetupConfigFromFile(t *testing.T) {
	viper.Reset()
	SetupDefaultConfig()

	dir := t.TempDir()
	yaml := []byte(`
upload:
  batch_size: 3
  url: https://upload.example.com/
free_tier_bytes: 102400
x402:
  network: base-sepolia
  max_amount: "250000"
  timeout_buffer: 90s
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigName+".yaml"), yaml, 0o600))

	require.NoError(t, SetupConfig(dir))
	require.NoError(t, ReadConfig())

	c := Configuration
	require.Equal(t, 3, c.BatchSize)
	require.Equal(t, "https://upload.example.com", c.UploadURL)
	require.EqualValues(t, 102400, c.FreeTierBytes)
	require.Equal(t, "base-sepolia", c.X402.Network)
	require.Equal(t, "250000", c.X402.MaxAmount)
	require.Equal(t, 90*time.Second, c.X402.TimeoutBuffer)
}

func TestSetupConfigMissingFile(t *testing.T) {
	viper.Reset()
	SetupDefaultConfig()
	require.NoError(t, SetupConfig(t.TempDir()))
}

func TestValidate(t *testing.T) {
	viper.Reset()
	SetupDefaultConfig()

	viper.Set("upload.batch_size", 0)
	require.Error(t, ReadConfig())

	viper.Set("upload.batch_size", 5)
	viper.Set("upload.max_failure_ratio", 1.5)
	require.Error(t, ReadConfig())

	viper.Set("upload.max_failure_ratio", 0.1)
	viper.Set("free_tier_bytes", -1)
	require.Error(t, ReadConfig())
}

func TestAmounts(t *testing.T) {
	viper.Reset()
	SetupDefaultConfig()
	require.NoError(t, ReadConfig())

	limit, err := Configuration.X402MaxAmount()
	require.NoError(t, err)
	require.Nil(t, limit, "no cap unless configured")

	viper.Set("x402.max_amount", "2500000")
	viper.Set("jit.max_token_amount", "1000000000000000")
	require.NoError(t, ReadConfig())

	limit, err = Configuration.X402MaxAmount()
	require.NoError(t, err)
	require.Equal(t, "2500000", limit.String())
	jit, err := Configuration.JITMaxTokens()
	require.NoError(t, err)
	require.Equal(t, "1000000000000000", jit.String())

	viper.Set("x402.max_amount", "1.5")
	require.Error(t, ReadConfig())
}
