package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/michaelbrown/kata/internal/logger"
	"github.com/michaelbrown/kata/internal/runner"
	"github.com/michaelbrown/kata/internal/sandbox"
)

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

type ExercisesConfig struct {
	Dir string `mapstructure:"dir"`
}

type SandboxConfig struct {
	Mode     string `mapstructure:"mode"`
	Binary   string `mapstructure:"binary"`
	Image    string `mapstructure:"image"`
	Memory   string `mapstructure:"memory"`
	NanoCPUs int64  `mapstructure:"nano_cpus"`
	Network  bool   `mapstructure:"network"`
}

type PoolConfig struct {
	Size int `mapstructure:"size"`
}

type ExecutionConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	BatchSize     int           `mapstructure:"batch_size"`
}

type GradingConfig struct {
	// Mode is local, http or nats.
	Mode    string `mapstructure:"mode"`
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
	NATSURL string `mapstructure:"nats_url"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Exercises ExercisesConfig `mapstructure:"exercises"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Grading   GradingConfig   `mapstructure:"grading"`
	Log       LogConfig       `mapstructure:"log"`
}

// Load reads kata.yaml from path, or from . and $HOME/.kata when path is
// empty. A missing file is not an error. A .env file in the working
// directory and KATA_* environment variables override file values.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("kata")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.kata")
	}

	v.SetEnvPrefix("KATA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Expand environment variables in the grading token
	cfg.Grading.Token = expandEnv(cfg.Grading.Token)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := sandbox.DefaultPolicy()

	v.SetDefault("server.port", 8080)
	v.SetDefault("storage.db_path", filepath.Join(os.Getenv("HOME"), ".kata", "kata.db"))
	v.SetDefault("exercises.dir", "exercises")
	v.SetDefault("sandbox.mode", def.Mode)
	v.SetDefault("sandbox.binary", "")
	v.SetDefault("sandbox.image", def.Image)
	v.SetDefault("sandbox.memory", def.MaxMemory)
	v.SetDefault("sandbox.nano_cpus", def.NanoCPUs)
	v.SetDefault("sandbox.network", def.Network)
	v.SetDefault("pool.size", 2)
	v.SetDefault("execution.timeout", 10*time.Second)
	v.SetDefault("execution.flush_interval", runner.DefaultFlushInterval)
	v.SetDefault("execution.batch_size", runner.DefaultBatchSize)
	v.SetDefault("grading.mode", "local")
	v.SetDefault("grading.base_url", "")
	v.SetDefault("grading.token", "")
	v.SetDefault("grading.nats_url", "nats://127.0.0.1:4222")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stderr")
}

// expandEnv resolves a "${VAR}" value from the environment.
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	return s
}

// Policy returns the sandbox policy described by the config.
func (c *Config) Policy() sandbox.Policy {
	p := sandbox.DefaultPolicy()
	p.Mode = c.Sandbox.Mode
	p.Binary = c.Sandbox.Binary
	p.Image = c.Sandbox.Image
	p.MaxMemory = c.Sandbox.Memory
	p.NanoCPUs = c.Sandbox.NanoCPUs
	p.Network = c.Sandbox.Network
	return p
}

// RunnerOptions returns the batching options passed to sandbox runners.
func (c *Config) RunnerOptions() runner.Options {
	return runner.Options{
		FlushInterval: c.Execution.FlushInterval,
		BatchSize:     c.Execution.BatchSize,
	}
}

// Logger returns the logger configuration.
func (c *Config) Logger() logger.Config {
	return logger.Config{Level: c.Log.Level, Format: c.Log.Format, Output: c.Log.Output}
}
