package runtimeconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Providers Providers     `yaml:"providers"`
	Quota     QuotaConfig   `yaml:"quota"`
	Watch     WatchConfig   `yaml:"watch"`
	History   HistoryConfig `yaml:"history"`
}

type Providers struct {
	Sandbox ProviderConfig `yaml:"sandbox"`
	Piston  ProviderConfig `yaml:"piston"`
}

type ProviderConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int64  `yaml:"timeout_seconds"`
}

type QuotaConfig struct {
	// DefaultServerLimit applies until the backend declares its own limit.
	DefaultServerLimit int `yaml:"default_server_limit"`
}

type WatchConfig struct {
	RefreshSeconds      int64 `yaml:"refresh_seconds"`
	WarningCheckSeconds int64 `yaml:"warning_check_seconds"`
}

type HistoryConfig struct {
	Path     string `yaml:"path"`
	Disabled bool   `yaml:"disabled"`
}

func Path() (string, error) {
	configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	if configHome != "" {
		return filepath.Join(configHome, "runplane", "config.yaml"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "runplane", "config.yaml"), nil
}

func Load() (Config, string, error) {
	path, err := Path()
	if err != nil {
		return Config{}, "", err
	}

	cfg := Config{}
	b, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, path, fmt.Errorf("read %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, path, fmt.Errorf("parse %s: %w", path, err)
	}

	applyEnv(&cfg)
	return cfg, path, nil
}

// applyEnv lets provider endpoints be set or overridden without a config file.
func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("RUNPLANE_SANDBOX_URL")); v != "" {
		cfg.Providers.Sandbox.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("RUNPLANE_PISTON_URL")); v != "" {
		cfg.Providers.Piston.BaseURL = v
	}
	cfg.Providers.Sandbox.BaseURL = strings.TrimSpace(cfg.Providers.Sandbox.BaseURL)
	cfg.Providers.Piston.BaseURL = strings.TrimSpace(cfg.Providers.Piston.BaseURL)
}
