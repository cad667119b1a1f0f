package config

import (
	"fmt"
	"os"
	"time"

	"github.com/atrniv/coproc/coproc"
	"github.com/atrniv/coproc/protocol"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config is the harness configuration.
type Config struct {
	LogLevel      string `yaml:"log_level"`
	Transform     string `yaml:"transform"`
	Debug         bool   `yaml:"debug"`
	MaxBatchBytes int64  `yaml:"max_batch_bytes"`
	// BatchTimeout bounds the time spent on one batch; zero disables it.
	BatchTimeout time.Duration    `yaml:"batch_timeout"`
	Output       OutputConfig     `yaml:"output"`
	Injection    *InjectionConfig `yaml:"injection"`
}

type OutputConfig struct {
	// Compression names the output codec; empty keeps the input's codec.
	Compression      string `yaml:"compression"`
	CompressionLevel *int   `yaml:"compression_level"`
}

type InjectionConfig struct {
	TriggerAfter int    `yaml:"trigger_after"`
	Category     string `yaml:"category"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		LogLevel:  "info",
		Transform: "identity",
	}
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.Transform == "" {
		return fmt.Errorf("transform is required")
	}
	if c.MaxBatchBytes < 0 {
		return fmt.Errorf("max_batch_bytes must not be negative")
	}
	if c.BatchTimeout < 0 {
		return fmt.Errorf("batch_timeout must not be negative")
	}
	if c.Output.Compression != "" {
		codec, err := protocol.ParseCompressionCodec(c.Output.Compression)
		if err != nil {
			return fmt.Errorf("output.compression: %w", err)
		}
		if c.Output.CompressionLevel != nil && (codec == protocol.CompressionNone || codec == protocol.CompressionSnappy) {
			return fmt.Errorf("output.compression_level: %s does not take a level", codec)
		}
	} else if c.Output.CompressionLevel != nil {
		return fmt.Errorf("output.compression_level requires output.compression")
	}
	if c.Injection != nil {
		if c.Injection.TriggerAfter <= 0 {
			return fmt.Errorf("injection.trigger_after must be positive")
		}
		if _, err := coproc.ParsePolicyError(c.Injection.Category); err != nil {
			return fmt.Errorf("injection.category: %w", err)
		}
	}
	return nil
}

// Level returns the parsed log level; Validate has already checked it.
func (c Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// ScriptOptions translates the output settings into script options.
func (c Config) ScriptOptions() []coproc.Option {
	opts := []coproc.Option{}
	if c.Output.Compression != "" {
		codec, _ := protocol.ParseCompressionCodec(c.Output.Compression)
		level := protocol.CompressionLevelDefault
		if c.Output.CompressionLevel != nil {
			level = *c.Output.CompressionLevel
		}
		opts = append(opts, coproc.WithOutputCompression(codec, level))
	}
	if c.MaxBatchBytes > 0 {
		opts = append(opts, coproc.WithMaxBatchBytes(c.MaxBatchBytes))
	}
	return opts
}

// PolicyInjection returns the configured injection, if any.
func (c Config) PolicyInjection() (coproc.PolicyInjection, bool) {
	if c.Injection == nil {
		return coproc.PolicyInjection{}, false
	}
	category, _ := coproc.ParsePolicyError(c.Injection.Category)
	return coproc.PolicyInjection{
		TriggerAfter:   c.Injection.TriggerAfter,
		ForcedCategory: category,
	}, true
}
