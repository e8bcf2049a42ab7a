package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ScannerConfig holds the configuration for the directory scanner.
type ScannerConfig struct {
	Root string `yaml:"root"`
}

// WriterDef defines a single report writer from the config file.
type WriterDef struct {
	Type    string `yaml:"type"`
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ReportConfig holds the configuration for report output.
type ReportConfig struct {
	Writers []WriterDef `yaml:"writers"`
}

// APIConfig holds the configuration for the report API server.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Scanner ScannerConfig `yaml:"scanner"`
	Report  ReportConfig  `yaml:"report"`
	API     APIConfig     `yaml:"api"`
}

// LoadConfig reads the configuration from a YAML file and returns a Config struct.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	if cfg.Scanner.Root == "" {
		return nil, fmt.Errorf("scanner root must not be empty")
	}

	return &cfg, nil
}
