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

// Package assembly wires the bus, ledger, model layer, task manager and
// transport together into a runnable server, and verifies every
// capability the runtime depends on actually came up.
package assembly

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kpcore/agentrt/pkg/bus"
	"github.com/kpcore/agentrt/pkg/config"
	"github.com/kpcore/agentrt/pkg/httpclient"
	"github.com/kpcore/agentrt/pkg/ledger"
	"github.com/kpcore/agentrt/pkg/model"
	"github.com/kpcore/agentrt/pkg/model/anthropic"
	"github.com/kpcore/agentrt/pkg/model/custom"
	"github.com/kpcore/agentrt/pkg/model/openai"
	"github.com/kpcore/agentrt/pkg/task"
	"github.com/kpcore/agentrt/pkg/transport"
)

// Runtime is a fully wired agentrt instance: a bus with every module's
// capabilities registered, bound to an HTTP transport.
type Runtime struct {
	Bus       *bus.Bus
	Transport *transport.Server
	Tasks     *task.Manager
}

// Option customizes New's wiring.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
}

// WithPrometheusRegisterer overrides the registry New's bus and
// transport publish metrics to. Defaults to prometheus.DefaultRegisterer.
func WithPrometheusRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

func buildRegistry(cfg *config.Config) (*model.Registry, error) {
	factories := map[model.AdapterType]model.AdapterFactory{
		model.AdapterOpenAI: func(c model.ProviderConfig) (model.Adapter, error) {
			var opts []openai.Option
			if c.Endpoint != "" {
				opts = append(opts, openai.WithBaseURL(c.Endpoint))
			}
			return openai.New(c.APIKey, opts...), nil
		},
		model.AdapterAnthropic: func(c model.ProviderConfig) (model.Adapter, error) {
			var opts []anthropic.Option
			if c.Endpoint != "" {
				opts = append(opts, anthropic.WithBaseURL(c.Endpoint))
			}
			return anthropic.New(c.APIKey, opts...), nil
		},
		model.AdapterCustom: func(c model.ProviderConfig) (model.Adapter, error) {
			var opts []custom.Option
			if c.CACertificate != "" || c.InsecureSkipVerify {
				opts = append(opts, custom.WithTLSConfig(&httpclient.TLSConfig{
					CACertificate:      c.CACertificate,
					InsecureSkipVerify: c.InsecureSkipVerify,
				}))
			}
			return custom.New(c.Endpoint, opts...), nil
		},
	}

	reg := model.NewRegistry()
	for name, p := range cfg.Models.Providers {
		advertised := make([]model.AdvertisedModel, 0, len(p.Models))
		for _, m := range p.Models {
			advertised = append(advertised, model.AdvertisedModel{Type: model.ModelKind(m.Type), Name: m.Name})
		}
		pc := model.ProviderConfig{
			Name:               name,
			Endpoint:           p.Endpoint,
			APIKey:             p.APIKey,
			AdapterType:        model.AdapterType(p.AdapterType),
			Models:             advertised,
			CACertificate:      p.CACertificate,
			InsecureSkipVerify: p.InsecureSkipVerify,
		}
		if err := reg.Register(pc, factories); err != nil {
			return nil, fmt.Errorf("provider %q: %w", name, err)
		}
	}
	return reg, nil
}

// requiredIDs is the fixed set of capability ids a correctly wired
// Runtime must expose, drawn from each module's own RequiredIDs.
func requiredIDs() []string {
	var ids []string
	ids = append(ids, ledger.RequiredIDs()...)
	ids = append(ids, model.RequiredIDs()...)
	ids = append(ids, task.RequiredIDs()...)
	ids = append(ids, transport.RequiredIDs()...)
	return ids
}

// New builds a Runtime from cfg: it registers the ledger, model layer,
// task manager and transport onto a fresh bus, bound to listen on
// cfg.Port, and verifies every required capability id responds before
// returning.
func New(cfg *config.Config, opts ...Option) (*Runtime, error) {
	o := &options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(o)
	}

	b := bus.New(bus.WithPrometheusRegisterer(o.registerer))

	if err := ledger.Register(b, ledger.NewStub()); err != nil {
		return nil, fmt.Errorf("registering ledger: %w", err)
	}

	reg, err := buildRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("building model registry: %w", err)
	}
	if err := model.NewService(reg).RegisterCapabilities(b); err != nil {
		return nil, fmt.Errorf("registering model layer: %w", err)
	}

	tasks := task.NewManager(b)
	if err := tasks.RegisterCapabilities(b); err != nil {
		return nil, fmt.Errorf("registering task manager: %w", err)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := transport.New(b, addr, transport.WithPrometheusRegisterer(o.registerer))
	if err := srv.RegisterCapabilities(b); err != nil {
		return nil, fmt.Errorf("registering transport: %w", err)
	}

	if err := verify(b, requiredIDs()); err != nil {
		return nil, err
	}

	return &Runtime{Bus: b, Transport: srv, Tasks: tasks}, nil
}

// verify fails fast if any id in ids was not registered on b.
func verify(b *bus.Bus, ids []string) error {
	res := b.Invoke("bus:list", "", bus.SystemCaller, nil)
	if res.Outcome != bus.OutcomeSuccess {
		return fmt.Errorf("assembly: bus:list failed: %s", res.Err)
	}
	known := make(map[string]bool)
	container, _ := res.Result.(map[string]any)
	modules, _ := container["modules"].([]bus.ModuleSummary)
	for _, mod := range modules {
		raw, _ := json.Marshal(map[string]any{"module": mod.Module})
		abilitiesRes := b.Invoke("bus:abilities", "", bus.SystemCaller, raw)
		if abilitiesRes.Outcome != bus.OutcomeSuccess {
			continue
		}
		ac, _ := abilitiesRes.Result.(map[string]any)
		abilities, _ := ac["abilities"].([]bus.AbilitySummary)
		for _, a := range abilities {
			known[a.ID] = true
		}
	}
	var missing []string
	for _, id := range ids {
		if !known[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("assembly: missing required capabilities: %v", missing)
	}
	return nil
}

// Start runs the transport's HTTP server until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	return r.Transport.Start(ctx)
}

// Shutdown stops the transport gracefully, letting in-flight run loops
// finish at their next suspension point.
func (r *Runtime) Shutdown(ctx context.Context) error {
	return r.Transport.Shutdown(ctx)
}
