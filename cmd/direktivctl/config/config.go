// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the direktivctl settings.
//
// Settings come from, in increasing priority: built-in defaults, the YAML
// file (~/.direktiv/config.yaml, created on first run), DIREKTIV_*
// environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/direktiv/direktiv-sub000/pkg/schema"
)

// EnvPrefix is the prefix of environment overrides, e.g. DIREKTIV_API_URL.
const EnvPrefix = "DIREKTIV"

// Config holds the CLI settings. Keys are the mapstructure names.
type Config struct {
	APIURL       string        `yaml:"api_url" mapstructure:"api_url" validate:"omitempty,url"`
	Token        string        `yaml:"token,omitempty" mapstructure:"token"`
	Namespace    string        `yaml:"namespace" mapstructure:"namespace" validate:"omitempty,nsname"`
	Output       string        `yaml:"output" mapstructure:"output" validate:"oneof=table json"`
	LogLevel     string        `yaml:"log_level" mapstructure:"log_level"`
	LogDir       string        `yaml:"log_dir,omitempty" mapstructure:"log_dir"`
	CacheDir     string        `yaml:"cache_dir,omitempty" mapstructure:"cache_dir"`
	MetricsAddr  string        `yaml:"metrics_addr,omitempty" mapstructure:"metrics_addr"`
	OTLPEndpoint string        `yaml:"otlp_endpoint,omitempty" mapstructure:"otlp_endpoint"`
	Timeout      time.Duration `yaml:"-" mapstructure:"timeout" validate:"gte=0"`
}

// DefaultConfig returns the settings used when nothing else is given.
func DefaultConfig() Config {
	return Config{
		APIURL:    "http://localhost:8080",
		Namespace: "default",
		Output:    "table",
		LogLevel:  "warn",
		Timeout:   30 * time.Second,
	}
}

// Keys lists every setting, for flag binding.
var Keys = []string{
	"api_url", "token", "namespace", "output", "log_level", "log_dir",
	"cache_dir", "metrics_addr", "otlp_endpoint", "timeout",
}

// DefaultPath returns ~/.direktiv/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".direktiv", "config.yaml"), nil
}

// New returns a viper instance with defaults and environment overrides
// registered. Bind flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	d := DefaultConfig()
	v.SetDefault("api_url", d.APIURL)
	v.SetDefault("token", d.Token)
	v.SetDefault("namespace", d.Namespace)
	v.SetDefault("output", d.Output)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_dir", d.LogDir)
	v.SetDefault("cache_dir", d.CacheDir)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("otlp_endpoint", d.OTLPEndpoint)
	v.SetDefault("timeout", d.Timeout)
	return v
}

// Load reads the file at path into v and returns the merged settings.
//
// An empty path means DefaultPath, which is created with defaults when it
// does not exist. An explicit path must exist.
func Load(v *viper.Viper, path string) (Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return Config{}, err
		}
		if err := EnsureFile(p); err != nil {
			return Config{}, err
		}
		path = p
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("failed to read the config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode the config: %w", err)
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if err := schema.Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// EnsureFile writes the default config to path unless a file exists.
func EnsureFile(path string) error {
	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to stat the config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	// The file may later hold a token.
	return os.WriteFile(path, data, 0o600)
}
