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

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kpcore/agentrt/pkg/config"
)

// ValidateCmd validates a configuration file without starting the server.
type ValidateCmd struct {
	Config      string `arg:"" name:"config" help:"Configuration file path." placeholder:"PATH"`
	Format      string `short:"f" help:"Output format: compact, verbose, json." default:"compact" enum:"compact,verbose,json"`
	PrintConfig bool   `short:"p" name:"print-config" help:"Print the expanded configuration (defaults applied)."`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return printLoadError(c.Format, c.Config, err)
	}

	if c.PrintConfig {
		return printExpandedConfig(c.Format, c.Config, cfg)
	}

	printValidationSuccess(c.Format, c.Config)
	return nil
}

type validationResult struct {
	Valid bool   `json:"valid"`
	File  string `json:"file"`
	Error string `json:"error,omitempty"`
}

func printLoadError(format, file string, loadErr error) error {
	switch format {
	case "json":
		encodeJSON(os.Stdout, validationResult{Valid: false, File: file, Error: loadErr.Error()})
	case "verbose":
		fmt.Fprintf(os.Stderr, "Configuration Load Error\n========================\n\nFile:  %s\nError: %s\n", file, loadErr)
	default:
		fmt.Fprintf(os.Stderr, "%s: invalid: %s\n", file, loadErr)
	}
	return fmt.Errorf("config validation failed")
}

func printValidationSuccess(format, file string) {
	switch format {
	case "json":
		encodeJSON(os.Stdout, validationResult{Valid: true, File: file})
	case "verbose":
		fmt.Fprintf(os.Stdout, "Configuration Validation Successful\n====================================\n\nFile:   %s\nStatus: OK\n", file)
	default:
		fmt.Fprintf(os.Stdout, "%s: valid\n", file)
	}
}

func printExpandedConfig(format, file string, cfg *config.Config) error {
	switch format {
	case "json":
		return encodeJSON(os.Stdout, cfg)
	default:
		fmt.Fprintf(os.Stdout, "# Expanded configuration from: %s\n\n", file)
		encoder := yaml.NewEncoder(os.Stdout)
		encoder.SetIndent(2)
		defer encoder.Close()
		return encoder.Encode(cfg)
	}
}

func encodeJSON(w *os.File, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
