package main

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk agent configuration. Every field has a
// flag counterpart; flags take precedence over the file.
type FileConfig struct {
	StateDir    string `yaml:"state-dir,omitempty"`
	ClaimURL    string `yaml:"claim-url,omitempty"`
	ClaimSecret string `yaml:"claim-secret,omitempty"`
	TimeSync    bool   `yaml:"time-sync,omitempty"`
	NTPServer   string `yaml:"ntp-server,omitempty"`
	LogLevel    string `yaml:"log-level,omitempty"`

	NodeName string `yaml:"node-name,omitempty"`
	NodeType string `yaml:"node-type,omitempty"`
}

// LoadFileConfig reads a YAML configuration file. A missing file is
// not an error: an empty FileConfig is returned so flags and defaults
// apply.
func LoadFileConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &FileConfig{}, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}
