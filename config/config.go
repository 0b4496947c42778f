// Package config loads the service configuration from configs/config.yml
// with environment variable overrides.
package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully resolved service configuration.
type Config struct {
	Port    string `mapstructure:"port"`
	Env     string `mapstructure:"env"`
	DataDir string `mapstructure:"data_dir"`

	DB struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"db"`

	VXI11 struct {
		// EnableMock allows the mock transport for allow-listed hosts.
		EnableMock bool `mapstructure:"enable_mock"`
		// AllowTCPSCPI enables the raw-TCP compatibility transport for
		// addresses that carry an explicit port.
		AllowTCPSCPI bool `mapstructure:"allow_tcp_scpi"`
		// AutoUnlock releases the device lock after every operation.
		AutoUnlock bool          `mapstructure:"auto_unlock"`
		Timeout    time.Duration `mapstructure:"timeout"`
	} `mapstructure:"vxi11"`

	Machine struct {
		TickInterval time.Duration `mapstructure:"tick_interval"`
	} `mapstructure:"machine"`
}

// Load reads configs/config.yml (when present) and applies environment
// overrides. VXI11_ENABLE_MOCK, VXI11_ALLOW_TCP_SCPI and VXI11_AUTO_UNLOCK
// override the vxi11 section directly.
func Load() (*Config, error) {
	v := viper.New()
	v.AddConfigPath("configs")
	v.SetConfigName("config")

	v.SetDefault("port", "8000")
	v.SetDefault("env", "production")
	v.SetDefault("data_dir", "data")
	v.SetDefault("db.path", "vxidash.db")
	v.SetDefault("vxi11.enable_mock", false)
	v.SetDefault("vxi11.allow_tcp_scpi", false)
	v.SetDefault("vxi11.auto_unlock", true)
	v.SetDefault("vxi11.timeout", 5*time.Second)
	v.SetDefault("machine.tick_interval", time.Second)

	// legacy flat env names used by deployments
	_ = v.BindEnv("vxi11.enable_mock", "VXI11_ENABLE_MOCK")
	_ = v.BindEnv("vxi11.allow_tcp_scpi", "VXI11_ALLOW_TCP_SCPI")
	_ = v.BindEnv("vxi11.auto_unlock", "VXI11_AUTO_UNLOCK")
	_ = v.BindEnv("port", "PORT")
	_ = v.BindEnv("env", "ENV")
	_ = v.BindEnv("data_dir", "DATA_DIR")
	_ = v.BindEnv("db.path", "DB_PATH")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		// defaults plus env overrides still apply without a file
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
