package logging

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestRotatingDefaults(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	r := rotating("/tmp/permadeploy.log")
	assert.Equal(t, 100, r.MaxSize)
	assert.Equal(t, "/tmp/permadeploy.log", r.Filename)

	viper.Set("logging.max_size_mb", 5)
	viper.Set("logging.max_backups", 2)
	r = rotating("/tmp/permadeploy.log")
	assert.Equal(t, 5, r.MaxSize)
	assert.Equal(t, 2, r.MaxBackups)
}

func TestBuildHonoursLevel(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	viper.Set("logging.level", "warn")

	l := build("production", t.TempDir()+"/test.log")
	assert.False(t, l.Core().Enabled(zap.InfoLevel))
	assert.True(t, l.Core().Enabled(zap.WarnLevel))

	assert.NoError(t, SetLevel("debug"))
	assert.True(t, l.Core().Enabled(zap.DebugLevel))
	assert.Error(t, SetLevel("loud"))
}

func TestEncoderFormat(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	cfg := zap.NewProductionEncoderConfig()
	assert.IsType(t, zapcore.NewConsoleEncoder(cfg), encoder(cfg))
	viper.Set("logging.format", "json")
	assert.IsType(t, zapcore.NewJSONEncoder(cfg), encoder(cfg))
}
