package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type StorageConfig struct {
	Driver string       `mapstructure:"driver"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type GatewayConfig struct {
	BridgeURL       string        `mapstructure:"bridge_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MinSendInterval time.Duration `mapstructure:"min_send_interval"`
}

type DispatchConfig struct {
	DelayMin             time.Duration `mapstructure:"delay_min"`
	DelayMax             time.Duration `mapstructure:"delay_max"`
	DefaultCountryPrefix string        `mapstructure:"default_country_prefix"`
	ProgressGrace        time.Duration `mapstructure:"progress_grace"`
	ReconcileOnStart     bool          `mapstructure:"reconcile_on_start"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("blastline")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/blastline")
	}

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("BLASTLINE")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	viper.SetDefault("storage.driver", "sqlite")
	viper.SetDefault("storage.sqlite.path", "./data/blastline.db")

	viper.SetDefault("gateway.bridge_url", "http://127.0.0.1:3000")
	viper.SetDefault("gateway.timeout", 60*time.Second)
	viper.SetDefault("gateway.min_send_interval", 1*time.Second)

	// The delay window is deliberately wide. The remote platform flags
	// sessions that blast at machine cadence.
	viper.SetDefault("dispatch.delay_min", 2*time.Second)
	viper.SetDefault("dispatch.delay_max", 5*time.Second)
	viper.SetDefault("dispatch.default_country_prefix", "1")
	viper.SetDefault("dispatch.progress_grace", 10*time.Second)
	viper.SetDefault("dispatch.reconcile_on_start", true)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}
