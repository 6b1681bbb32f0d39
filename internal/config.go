package internal

import (
	"fmt"

	"github.com/spf13/viper"
)

type NovaViewConfig struct {
	AppName string `mapstructure:"app_name"`

	Engine struct {
		Debug bool `mapstructure:"debug"`
	} `mapstructure:"engine"`

	Server struct {
		Addr    string `mapstructure:"addr"`
		Enabled bool   `mapstructure:"enabled"`
	} `mapstructure:"server"`
}

func LoadConfig(path string) (*NovaViewConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg NovaViewConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}
