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
	"fmt"
	"log/slog"

	"github.com/kpcore/agentrt/pkg/assembly"
)

// ServeCmd starts the agent runtime's HTTP transport.
type ServeCmd struct {
	Port int `help:"Override the configured listen port (0 = use config)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	if cli.Config == "" {
		return fmt.Errorf("--config is required")
	}
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if c.Port != 0 {
		cfg.Port = c.Port
	}

	rt, err := assembly.New(cfg)
	if err != nil {
		return fmt.Errorf("assembling runtime: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	slog.Info("starting agentrt", "port", cfg.Port, "providers", len(cfg.Models.Providers))

	// rt.Start blocks until ctx is cancelled, at which point it shuts the
	// transport down gracefully and returns.
	return rt.Start(ctx)
}
