// config_load.go: Loading and saving configuration files
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package styx

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides: STYX_FILE_MAX_SIZE overrides
// file.max_size.
const EnvPrefix = "STYX"

// LoadConfig reads the YAML file at path over DefaultConfig, then applies
// STYX_* environment overrides. An empty path loads defaults plus
// environment only. The result is validated.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	defaults, err := MarshalConfig(DefaultConfig())
	if err != nil {
		return nil, err
	}
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, newError(CategoryConfiguration, "defaults", "", err)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, newError(CategoryConfiguration, "read", "", fmt.Errorf("%s: %w", path, err))
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationHook,
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hooks); err != nil {
		return nil, newError(CategoryConfiguration, "decode", "", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// durationHook decodes string durations with ParseDuration so "1d" and "2w"
// are accepted alongside the time.ParseDuration forms.
func durationHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	return ParseDuration(strings.TrimSpace(reflect.ValueOf(data).String()))
}

// MarshalConfig renders cfg as YAML.
func MarshalConfig(cfg *Config) ([]byte, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, newError(CategoryConfiguration, "encode", "", err)
	}
	return out, nil
}

// SaveConfig writes cfg to path as YAML, replacing the file atomically.
func SaveConfig(path string, cfg *Config) error {
	data, err := MarshalConfig(cfg)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return newError(CategoryFileIO, "save", "", err)
	}
	tmp, err := os.CreateTemp(dir, ".styx-*.yaml")
	if err != nil {
		return newError(CategoryFileIO, "save", "", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return newError(CategoryFileIO, "save", "", err)
	}
	if err := tmp.Close(); err != nil {
		return newError(CategoryFileIO, "save", "", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return newError(CategoryFileIO, "save", "", err)
	}
	return nil
}
