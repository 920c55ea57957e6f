package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/judgebox/judgebox/container"
)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig                `mapstructure:"server"`
	Runtime      RuntimeConfig               `mapstructure:"runtime"`
	Orchestrator OrchestratorConfig          `mapstructure:"orchestrator"`
	Logging      LoggingConfig               `mapstructure:"logging"`
	Languages    map[string]container.Runner `mapstructure:"languages"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
}

// RuntimeConfig selects and parameterizes the container backend
type RuntimeConfig struct {
	Backend             string `mapstructure:"backend"`
	ContainerdSocket    string `mapstructure:"containerd_socket"`
	ContainerdNamespace string `mapstructure:"containerd_namespace"`
}

// OrchestratorConfig bounds container runs and the message network
type OrchestratorConfig struct {
	RunTimeoutSec int `mapstructure:"run_timeout_sec"`
	HistorySize   int `mapstructure:"history_size"`
	InboxCapacity int `mapstructure:"inbox_capacity"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// New loads and validates the application configuration
func New() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Set default values
	viper.SetDefault("server.transport", "stdio")
	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("runtime.backend", "docker")
	viper.SetDefault("runtime.containerd_socket", "/run/containerd/containerd.sock")
	viper.SetDefault("runtime.containerd_namespace", "judgebox")
	viper.SetDefault("orchestrator.run_timeout_sec", 30)
	viper.SetDefault("orchestrator.history_size", container.DefaultHistorySize)
	viper.SetDefault("orchestrator.inbox_capacity", container.DefaultInboxCapacity)
	viper.SetDefault("logging.mode", "production")
	viper.SetDefault("logging.level", "info")

	// Python defaults
	viper.SetDefault("languages.python.image", "python:3.11-slim")
	viper.SetDefault("languages.python.run_cmd", "python3 {source}")
	viper.SetDefault("languages.python.workdir", "/workspace")
	viper.SetDefault("languages.python.memory_mb", 256)
	viper.SetDefault("languages.python.cpu_limit", 1.0)

	// Go defaults
	viper.SetDefault("languages.go.image", "golang:1.23-alpine")
	viper.SetDefault("languages.go.compile_cmd", "go build -o app {source}")
	viper.SetDefault("languages.go.run_cmd", "./app")
	viper.SetDefault("languages.go.workdir", "/workspace")
	viper.SetDefault("languages.go.memory_mb", 512)
	viper.SetDefault("languages.go.cpu_limit", 1.0)

	// C++ defaults
	viper.SetDefault("languages.cpp.image", "gcc:13")
	viper.SetDefault("languages.cpp.compile_cmd", "g++ -std=c++17 -O2 -o app {source}")
	viper.SetDefault("languages.cpp.run_cmd", "./app")
	viper.SetDefault("languages.cpp.workdir", "/workspace")
	viper.SetDefault("languages.cpp.memory_mb", 256)
	viper.SetDefault("languages.cpp.cpu_limit", 1.0)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	supportedBackends := map[string]bool{
		"docker":     true,
		"podman":     true,
		"containerd": true,
	}
	if !supportedBackends[c.Runtime.Backend] {
		return fmt.Errorf("unsupported runtime.backend: %s", c.Runtime.Backend)
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	if c.Orchestrator.RunTimeoutSec <= 0 {
		return fmt.Errorf("orchestrator.run_timeout_sec must be positive, got: %d", c.Orchestrator.RunTimeoutSec)
	}

	if c.Orchestrator.HistorySize <= 0 {
		return fmt.Errorf("orchestrator.history_size must be positive, got: %d", c.Orchestrator.HistorySize)
	}

	for language, runner := range c.Languages {
		if runner.Image == "" {
			return fmt.Errorf("languages.%s.image must be set", language)
		}
		if runner.RunCmd == "" {
			return fmt.Errorf("languages.%s.run_cmd must be set", language)
		}
	}

	return nil
}

// RunTimeout returns the per-container run deadline as a duration
func (c *Config) RunTimeout() time.Duration {
	return time.Duration(c.Orchestrator.RunTimeoutSec) * time.Second
}

// Backend maps the runtime section onto the container package's selector
func (c *Config) Backend() container.BackendConfig {
	return container.BackendConfig{
		Kind:      c.Runtime.Backend,
		Address:   c.Runtime.ContainerdSocket,
		Namespace: c.Runtime.ContainerdNamespace,
	}
}

// LoadRunners reads an extra runner catalog from a standalone YAML file and
// merges it over the configured languages. Entries in the file win.
func (c *Config) LoadRunners(fs container.FileSystem, path string) error {
	data, err := fs.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read runner catalog: %w", err)
	}

	var extra map[string]container.Runner
	if err := yaml.Unmarshal(data, &extra); err != nil {
		return fmt.Errorf("parse runner catalog: %w", err)
	}

	if c.Languages == nil {
		c.Languages = make(map[string]container.Runner)
	}
	for language, runner := range extra {
		c.Languages[language] = runner
	}
	return nil
}
