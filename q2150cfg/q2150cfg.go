// Package q2150cfg loads CLI/daemon configuration from flags, the
// environment, and a config file, in that precedence order, via viper.
package q2150cfg

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds the engine's runtime parameters.
type Config struct {
	Port string `mapstructure:"port"`
	Baud int    `mapstructure:"baud"`

	LogLevel string `mapstructure:"log_level"`

	Averaging int     `mapstructure:"averaging"`
	ADCRateHz int     `mapstructure:"adc_rate_hz"`
	PollHz    float64 `mapstructure:"poll_hz"`

	ChunkDir      string        `mapstructure:"chunk_dir"`
	Mission       string        `mapstructure:"mission"`
	SchemaVersion string        `mapstructure:"schema_version"`
	RollInterval  time.Duration `mapstructure:"roll_interval"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
}

// Defaults returns the config's documented defaults.
func Defaults() Config {
	return Config{
		Port:          "SIM",
		Baud:          9600,
		LogLevel:      "info",
		Averaging:     12,
		ADCRateHz:     16,
		PollHz:        1,
		ChunkDir:      "./recordings",
		SchemaVersion: "1",
		RollInterval:  60 * time.Second,
		PollInterval:  1 * time.Second,
	}
}

// Load reads configuration from (in ascending precedence) the defaults,
// an optional config file, environment variables prefixed Q2150_, and
// already-parsed flags.
func Load(flags *pflag.FlagSet, configFile string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("q2150")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	def := Defaults()
	v.SetDefault("port", def.Port)
	v.SetDefault("baud", def.Baud)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("averaging", def.Averaging)
	v.SetDefault("adc_rate_hz", def.ADCRateHz)
	v.SetDefault("poll_hz", def.PollHz)
	v.SetDefault("chunk_dir", def.ChunkDir)
	v.SetDefault("schema_version", def.SchemaVersion)
	v.SetDefault("roll_interval", def.RollInterval)
	v.SetDefault("poll_interval", def.PollInterval)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "reading config file %s", configFile)
		}
	}
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, errors.Wrap(err, "binding command-line flags")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "unmarshalling config")
	}
	return cfg, nil
}
