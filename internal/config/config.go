package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"taskapi/pkg/config"

	"gopkg.in/yaml.v3"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type StoreConfig struct {
	// Driver is "memory" or "postgres".
	Driver string `yaml:"driver"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type Config struct {
	Server config.ServerConfig `yaml:"server"`
	Store  StoreConfig         `yaml:"store"`
	DB     config.DBConfig     `yaml:"db"`
	Redis  config.RedisConfig  `yaml:"redis"`
	MQ     config.MQConfig     `yaml:"mq"`
	Otel   config.OtelConfig   `yaml:"otel"`
	Log    LogConfig           `yaml:"log"`
}

// Defaults is a configuration that runs with no external dependencies.
func Defaults() Config {
	return Config{
		Server: config.ServerConfig{
			Port:            "8000",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Store: StoreConfig{Driver: StoreMemory},
		DB: config.DBConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Name:     "tasks",
			MaxConns: 10,
		},
		Otel: config.OtelConfig{ServiceName: "task-api"},
		Log:  LogConfig{Level: "info"},
	}
}

// Load reads config/base.yaml merged with the CONFIG_ENV overlay, then applies
// environment variables. A missing base.yaml is not an error.
func Load() (*Config, error) {
	cfg := Defaults()

	// 使用统一配置中心
	env := config.GetConfigEnv()
	configDir := config.GetEnv("CONFIG_DIR", "config")

	cfgMap, err := config.LoadConfig(env, configDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to load config: %w", err)
	default:
		// 转换为 Config 结构
		cfgData, err := yaml.Marshal(cfgMap)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal config: %w", err)
		}
		if err := yaml.Unmarshal(cfgData, &cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	// 环境变量覆盖（优先级最高）
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideOtelFromEnv(&cfg.Otel)
	if driver := os.Getenv("STORE_DRIVER"); driver != "" {
		cfg.Store.Driver = driver
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreMemory, StorePostgres:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Server.Port == "" {
		return errors.New("server port is required")
	}
	return nil
}
