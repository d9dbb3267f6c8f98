package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from environment variables and, optionally, a
// config file. Environment variables (prefix NETOPS_, nested keys joined
// with underscores, e.g. NETOPS_FETCH_LOG_LEVEL) take precedence over file
// values, which take precedence over defaults. Pass an empty path to skip
// the file entirely.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("fetch.log_level", "info")
	v.SetDefault("fetch.max_concurrent", 0)
	v.SetDefault("fetch.output_dir", ".")
	v.SetDefault("fetch.journal_path", "")
	v.SetDefault("fetch.timeout_seconds", 0)

	v.SetEnvPrefix("NETOPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config file %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}
