// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the startup configuration object: the listen
// port and the set of operator-configured LLM providers, per spec.md
// §6.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultPort = 3000

// AdvertisedModel is one entry of a provider's authoritative model
// list.
type AdvertisedModel struct {
	Type string `yaml:"type" json:"type"`
	Name string `yaml:"name" json:"name"`
}

// ProviderConfig describes one operator-configured LLM backend.
type ProviderConfig struct {
	Endpoint    string            `yaml:"endpoint" json:"endpoint"`
	APIKey      string            `yaml:"apiKey" json:"apiKey"`
	AdapterType string            `yaml:"adapterType" json:"adapterType"`
	Models      []AdvertisedModel `yaml:"models" json:"models"`

	// CACertificate and InsecureSkipVerify configure outbound TLS for
	// this provider's requests. Only meaningful for adapterType "custom":
	// a self-hosted backend is the one kind of endpoint likely to sit
	// behind an internal CA or a dev-only self-signed certificate.
	CACertificate      string `yaml:"caCertificate,omitempty" json:"caCertificate,omitempty"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify,omitempty" json:"insecureSkipVerify,omitempty"`
}

// ModelsConfig is the "models" section of the configuration object.
type ModelsConfig struct {
	Providers map[string]ProviderConfig `yaml:"providers" json:"providers"`
}

// Config is the full startup configuration object per spec.md §6.
type Config struct {
	Port   int          `yaml:"port" json:"port"`
	Models ModelsConfig `yaml:"models" json:"models"`
}

// SetDefaults fills in fields the operator left unset.
func (c *Config) SetDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
}

// Validate checks the configuration for structural errors. It does not
// contact any provider endpoint.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	for name, p := range c.Models.Providers {
		switch p.AdapterType {
		case "openai", "anthropic", "custom":
		default:
			return fmt.Errorf("provider %q: unknown adapterType %q", name, p.AdapterType)
		}
		for _, m := range p.Models {
			switch m.Type {
			case "llm", "embed":
			default:
				return fmt.Errorf("provider %q: model %q has unknown type %q", name, m.Name, m.Type)
			}
		}
	}
	return nil
}

// Load reads and parses the YAML configuration file at path, applies
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// LoadDotEnv loads a .env file sitting next to configPath, if present.
// Provider API keys are conventionally sourced from the environment
// (OPENAI_API_KEY, ANTHROPIC_API_KEY) when left blank in the config
// file; this mirrors the teacher's LoadDotEnvForConfig helper.
func LoadDotEnv(configPath string) error {
	envPath := ""
	if dir := dirOf(configPath); dir != "" {
		envPath = dir + "/.env"
	} else {
		envPath = ".env"
	}
	if _, err := os.Stat(envPath); err != nil {
		return nil
	}
	return godotenv.Load(envPath)
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return ""
}
