// Package config loads pktcanalyzer settings from flags, environment and an
// optional YAML file through viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/Zerofisher/pktcanalyzer/pktc"
)

// Keys
const (
	KeyPorts          = "ports"
	KeyKerberosStrict = "kerberos.strict"
	KeyLogLevel       = "log.level"
	KeyLogConsole     = "log.console"
	KeyIndexBatchSize = "index.batch_size"
)

// EnvPrefix prefixes environment overrides, e.g. PKTC_LOG_LEVEL=debug.
const EnvPrefix = "PKTC"

// Config is the resolved configuration.
type Config struct {
	Ports    []int `mapstructure:"ports"`
	Kerberos struct {
		Strict bool `mapstructure:"strict"`
	} `mapstructure:"kerberos"`
	Log struct {
		Level   string `mapstructure:"level"`
		Console bool   `mapstructure:"console"`
	} `mapstructure:"log"`
	Index struct {
		BatchSize int `mapstructure:"batch_size"`
	} `mapstructure:"index"`
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyPorts, []int{pktc.DefaultPort})
	v.SetDefault(KeyKerberosStrict, false)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogConsole, true)
	v.SetDefault(KeyIndexBatchSize, 1000)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads cfgFile, or $HOME/.pktcanalyzer.yaml when cfgFile is empty, and
// resolves the configuration. A missing default file is not an error.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigName(".pktcanalyzer")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if len(c.Ports) == 0 {
		return errors.New("config: at least one port is required")
	}
	for _, p := range c.Ports {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("config: port %d out of range", p)
		}
	}
	if c.Index.BatchSize <= 0 {
		return fmt.Errorf("config: index.batch_size must be positive, got %d", c.Index.BatchSize)
	}
	return nil
}

// PortList returns the configured ports as UDP port numbers.
func (c *Config) PortList() []uint16 {
	ports := make([]uint16, 0, len(c.Ports))
	for _, p := range c.Ports {
		ports = append(ports, uint16(p))
	}
	return ports
}
