// Package config loads the settings of the imagecached daemon
// from a YAML file and the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/djdv/go-imagecache"
	"github.com/djdv/go-imagecache/memory"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

type (
	// Config is the daemon configuration.
	Config struct {
		Server  Server  `yaml:"server"`
		Logging Logging `yaml:"logging"`
		Cache   Cache   `yaml:"cache"`
	}
	Server struct {
		Port int `yaml:"port"`
	}
	Logging struct {
		// Level is any level logrus can parse.
		Level string `yaml:"level"`
		// Format is "text" or "json".
		Format string `yaml:"format"`
	}
	// Cache mirrors [imagecache.Config].
	Cache struct {
		Units        memory.Units  `yaml:"units"`
		RAM          float64       `yaml:"ram"`
		Video        float64       `yaml:"video"`
		MaxLoaders   int           `yaml:"maxLoaders"`
		HardwareRank float64       `yaml:"hardwareRank"`
		LoadTimeout  time.Duration `yaml:"loadTimeout"`
		GPUDataFull  bool          `yaml:"gpuDataFull"`
	}

	constError string
)

const (
	ErrInvalidEnv    = constError("invalid environment value")
	ErrInvalidFormat = constError("invalid log format")

	DefaultPort = 8080
)

// Environment overrides, applied after the file.
const (
	EnvRAM          = "IMAGECACHE_RAM"
	EnvVideo        = "IMAGECACHE_VIDEO"
	EnvUnits        = "IMAGECACHE_UNITS"
	EnvLoaders      = "IMAGECACHE_LOADERS"
	EnvHardwareRank = "IMAGECACHE_HW_RANK"
	EnvGPUDataFull  = "IMAGECACHE_GPU_DATA_FULL"
	EnvLoadTimeout  = "IMAGECACHE_LOAD_TIMEOUT"
	EnvLogLevel     = "LOG_LEVEL"
	EnvLogFormat    = "LOG_FORMAT"
	EnvServerPort   = "SERVER_PORT"
)

func (errStr constError) Error() string { return string(errStr) }

func envError(key, value string, err error) error {
	return fmt.Errorf("%w: %s=%q: %w", ErrInvalidEnv, key, value, err)
}

// Default returns the daemon defaults; the cache
// section matches [imagecache.DefaultConfig].
func Default() *Config {
	defaults := imagecache.DefaultConfig()
	return &Config{
		Server: Server{Port: DefaultPort},
		Logging: Logging{
			Level:  logrus.InfoLevel.String(),
			Format: "text",
		},
		Cache: Cache{
			Units:        defaults.Units,
			RAM:          defaults.RAMSize,
			Video:        defaults.VideoSize,
			MaxLoaders:   defaults.MaxLoaders,
			HardwareRank: defaults.HardwareRank,
			LoadTimeout:  defaults.LoadTimeout,
			GPUDataFull:  defaults.GPUDataFull,
		},
	}
}

// Load reads path over [Default] and then applies the environment.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	config := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	if err := config.loadEnv(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) loadEnv() error {
	for _, parse := range []struct {
		key   string
		apply func(string) error
	}{
		{EnvRAM, floatSetter(&c.Cache.RAM)},
		{EnvVideo, floatSetter(&c.Cache.Video)},
		{EnvHardwareRank, floatSetter(&c.Cache.HardwareRank)},
		{EnvLoaders, intSetter(&c.Cache.MaxLoaders)},
		{EnvServerPort, intSetter(&c.Server.Port)},
		{EnvGPUDataFull, func(value string) (err error) {
			c.Cache.GPUDataFull, err = strconv.ParseBool(value)
			return err
		}},
		{EnvLoadTimeout, func(value string) (err error) {
			c.Cache.LoadTimeout, err = time.ParseDuration(value)
			return err
		}},
		{EnvUnits, func(value string) error {
			c.Cache.Units = memory.Units(value)
			return nil
		}},
		{EnvLogLevel, func(value string) error {
			c.Logging.Level = value
			return nil
		}},
		{EnvLogFormat, func(value string) error {
			c.Logging.Format = value
			return nil
		}},
	} {
		value, ok := os.LookupEnv(parse.key)
		if !ok || value == "" {
			continue
		}
		if err := parse.apply(strings.TrimSpace(value)); err != nil {
			return envError(parse.key, value, err)
		}
	}
	return nil
}

func floatSetter(target *float64) func(string) error {
	return func(value string) (err error) {
		*target, err = strconv.ParseFloat(value, 64)
		return err
	}
}

func intSetter(target *int) func(string) error {
	return func(value string) (err error) {
		*target, err = strconv.Atoi(value)
		return err
	}
}

// Controller converts the cache section.
// Validation is left to [imagecache.New].
func (c *Config) Controller() imagecache.Config {
	return imagecache.Config{
		Units:        c.Cache.Units,
		RAMSize:      c.Cache.RAM,
		VideoSize:    c.Cache.Video,
		MaxLoaders:   c.Cache.MaxLoaders,
		HardwareRank: c.Cache.HardwareRank,
		LoadTimeout:  c.Cache.LoadTimeout,
		GPUDataFull:  c.Cache.GPUDataFull,
	}
}

// Address is the listen address for the server port.
func (c *Config) Address() string { return ":" + strconv.Itoa(c.Server.Port) }

// NewLogger builds the daemon logger from the logging section.
func NewLogger(settings Logging) (*logrus.Logger, error) {
	log := logrus.New()
	level, err := logrus.ParseLevel(settings.Level)
	if err != nil {
		return nil, err
	}
	log.SetLevel(level)
	switch strings.ToLower(settings.Format) {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, settings.Format)
	}
	return log, nil
}
