package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/djdv/go-imagecache"
	"github.com/djdv/go-imagecache/config"
	"github.com/djdv/go-imagecache/memory"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fileConfig = `
server:
  port: 9000
logging:
  level: debug
  format: json
cache:
  units: MB
  ram: 512
  video: 256
  maxLoaders: 4
  hardwareRank: 0.5
  loadTimeout: 30s
  gpuDataFull: true
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)

	defaults := imagecache.DefaultConfig()
	got := cfg.Controller()
	assert.Equal(t, defaults.Units, got.Units)
	assert.Equal(t, defaults.RAMSize, got.RAMSize)
	assert.Equal(t, defaults.VideoSize, got.VideoSize)
	assert.Equal(t, defaults.MaxLoaders, got.MaxLoaders)
	assert.Equal(t, ":8080", cfg.Address())
}

func TestLoadFile(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, fileConfig))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, config.Cache{
		Units:        memory.Megabytes,
		RAM:          512,
		Video:        256,
		MaxLoaders:   4,
		HardwareRank: 0.5,
		LoadTimeout:  30 * time.Second,
		GPUDataFull:  true,
	}, cfg.Cache)
}

func TestLoadPartialFile(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, "cache:\n  ram: 3\n"))
	require.NoError(t, err)
	assert.Equal(t, 3.0, cfg.Cache.RAM)
	assert.Equal(t, config.Default().Cache.Video, cfg.Cache.Video, "unset keys keep defaults")
}

func TestLoadEnv(t *testing.T) {
	t.Setenv(config.EnvRAM, "1.5")
	t.Setenv(config.EnvVideo, "0.5")
	t.Setenv(config.EnvUnits, "GiB")
	t.Setenv(config.EnvLoaders, "2")
	t.Setenv(config.EnvHardwareRank, "0")
	t.Setenv(config.EnvGPUDataFull, "true")
	t.Setenv(config.EnvLoadTimeout, "1m")
	t.Setenv(config.EnvLogLevel, "warn")
	t.Setenv(config.EnvServerPort, "3030")

	cfg, err := config.Load(writeConfig(t, fileConfig))
	require.NoError(t, err)

	assert.Equal(t, config.Cache{
		Units:        memory.Gibibytes,
		RAM:          1.5,
		Video:        0.5,
		MaxLoaders:   2,
		HardwareRank: 0,
		LoadTimeout:  time.Minute,
		GPUDataFull:  true,
	}, cfg.Cache)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format, "file value survives without override")
	assert.Equal(t, ":3030", cfg.Address())
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
	t.Run("malformed file", func(t *testing.T) {
		_, err := config.Load(writeConfig(t, "cache: ["))
		assert.Error(t, err)
	})
	t.Run("bad env", func(t *testing.T) {
		t.Setenv(config.EnvLoaders, "many")
		_, err := config.Load("")
		assert.ErrorIs(t, err, config.ErrInvalidEnv)
	})
}

func TestControllerConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.Units = "parsecs"
	_, err := imagecache.New(nil, cfg.Controller())
	assert.ErrorIs(t, err, imagecache.ErrInvalidConfig)
}

func TestNewLogger(t *testing.T) {
	log, err := config.NewLogger(config.Logging{Level: "debug", Format: "json"})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)

	log, err = config.NewLogger(config.Logging{Level: "info"})
	require.NoError(t, err)
	assert.IsType(t, &logrus.TextFormatter{}, log.Formatter)

	_, err = config.NewLogger(config.Logging{Level: "loud"})
	assert.Error(t, err)
	_, err = config.NewLogger(config.Logging{Level: "info", Format: "xml"})
	assert.ErrorIs(t, err, config.ErrInvalidFormat)
}
