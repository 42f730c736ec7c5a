// Package config loads the CLI configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds every setting the CLI accepts. Flags override file values.
type Config struct {
	DatabaseURL      string        `yaml:"database_url" validate:"required"`
	SchemaDirs       []string      `yaml:"schema_dirs" validate:"omitempty,dive,required"`
	Format           string        `yaml:"format" validate:"oneof=text markdown"`
	OutputDir        string        `yaml:"output_dir"`
	OperationTimeout time.Duration `yaml:"operation_timeout" validate:"gte=0"`
	DisableLock      bool          `yaml:"disable_lock"`
	DisableJournal   bool          `yaml:"disable_journal"`
	LockKey          string        `yaml:"lock_key" validate:"required"`
	Namespaces       []string      `yaml:"namespaces"`
	MetricsTextfile  string        `yaml:"metrics_textfile"`
	Log              LogConfig     `yaml:"log"`
}

// LogConfig selects the logger level and output format
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

// Default returns the configuration used when neither file nor flags set a value
func Default() *Config {
	return &Config{
		Format:           "text",
		OperationTimeout: 30 * time.Second,
		LockKey:          "plugmigrate",
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the merged configuration
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Errorf("%s is required", fe.Namespace()))
		case "oneof":
			msgs = append(msgs, fmt.Errorf("%s must be one of [%s], got %q", fe.Namespace(), fe.Param(), fe.Value()))
		default:
			msgs = append(msgs, fmt.Errorf("%s failed %s validation", fe.Namespace(), fe.Tag()))
		}
	}
	return errors.Join(msgs...)
}
