// Package config loads daemon configuration from a yaml file and WARDEN_*
// environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the daemon configuration.
type Config struct {
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
	DataDir    string `mapstructure:"data_dir" yaml:"data_dir"`
	LogLevel   string `mapstructure:"log_level" yaml:"log_level"`

	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Container ContainerConfig `mapstructure:"container" yaml:"container"`
}

// StoreConfig selects and configures the durable state store.
type StoreConfig struct {
	Type string `mapstructure:"type" yaml:"type"` // sqlite or memory
	Path string `mapstructure:"path" yaml:"path"`
}

// ContainerConfig holds the defaults applied to supervised containers.
type ContainerConfig struct {
	Image        string        `mapstructure:"image" yaml:"image"`
	ProbePort    int           `mapstructure:"probe_port" yaml:"probe_port"`
	ProbePath    string        `mapstructure:"probe_path" yaml:"probe_path"`
	TickInterval time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`
	Network      string        `mapstructure:"network" yaml:"network"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() Config {
	return Config{
		ListenAddr: ":8080",
		DataDir:    "./data",
		LogLevel:   "info",
		Store: StoreConfig{
			Type: "sqlite",
			Path: "./data/warden.db",
		},
		Container: ContainerConfig{
			ProbePort:    8000,
			ProbePath:    "/health",
			TickInterval: 500 * time.Millisecond,
		},
	}
}

// Load reads configuration from the given file (optional) with environment
// overrides such as WARDEN_LISTEN_ADDR and WARDEN_CONTAINER_PROBE_PORT.
func Load(path string) (Config, error) {
	v := viper.New()

	defaults := Default()
	v.SetDefault("listen_addr", defaults.ListenAddr)
	v.SetDefault("data_dir", defaults.DataDir)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("store.type", defaults.Store.Type)
	v.SetDefault("store.path", defaults.Store.Path)
	v.SetDefault("container.image", defaults.Container.Image)
	v.SetDefault("container.probe_port", defaults.Container.ProbePort)
	v.SetDefault("container.probe_path", defaults.Container.ProbePath)
	v.SetDefault("container.tick_interval", defaults.Container.TickInterval)
	v.SetDefault("container.network", defaults.Container.Network)

	v.SetEnvPrefix("WARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}
