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

package model

import "fmt"

// AdapterType selects the wire format a provider speaks.
type AdapterType string

const (
	AdapterOpenAI    AdapterType = "openai"
	AdapterAnthropic AdapterType = "anthropic"
	AdapterCustom    AdapterType = "custom"
)

// ModelKind distinguishes completion from embedding models.
type ModelKind string

const (
	ModelLLM   ModelKind = "llm"
	ModelEmbed ModelKind = "embed"
)

// AdvertisedModel is one entry of a provider's authoritative model list.
type AdvertisedModel struct {
	Type ModelKind
	Name string
}

// ProviderConfig describes one operator-configured backend.
type ProviderConfig struct {
	Name        string
	Endpoint    string
	APIKey      string
	AdapterType AdapterType
	Models      []AdvertisedModel

	CACertificate      string
	InsecureSkipVerify bool
}

func (c ProviderConfig) advertises(kind ModelKind, name string) bool {
	for _, m := range c.Models {
		if m.Type == kind && m.Name == name {
			return true
		}
	}
	return false
}

func (c ProviderConfig) listModels(kind ModelKind) []string {
	var out []string
	for _, m := range c.Models {
		if m.Type == kind {
			out = append(out, m.Name)
		}
	}
	return out
}

// provider pairs a configuration with its constructed adapter.
type provider struct {
	cfg     ProviderConfig
	adapter Adapter
}

// Registry is the provider registry keyed by operator-chosen name.
type Registry struct {
	providers map[string]provider
	order     []string
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]provider)}
}

// AdapterFactory builds an Adapter for a given provider configuration.
type AdapterFactory func(cfg ProviderConfig) (Adapter, error)

// Register constructs and adds a provider using the factory that
// matches its AdapterType.
func (r *Registry) Register(cfg ProviderConfig, factories map[AdapterType]AdapterFactory) error {
	factory, ok := factories[cfg.AdapterType]
	if !ok {
		return fmt.Errorf("unknown adapter type %q for provider %q", cfg.AdapterType, cfg.Name)
	}
	adapter, err := factory(cfg)
	if err != nil {
		return fmt.Errorf("constructing adapter for provider %q: %w", cfg.Name, err)
	}
	if _, exists := r.providers[cfg.Name]; !exists {
		r.order = append(r.order, cfg.Name)
	}
	r.providers[cfg.Name] = provider{cfg: cfg, adapter: adapter}
	return nil
}

// Lookup returns the adapter and config for providerName, validating
// that modelName is advertised for kind. A request for a (provider,
// model) pair not on the advertised list is rejected before any network
// call, per the provider config's authoritative model list.
func (r *Registry) Lookup(providerName, modelName string, kind ModelKind) (Adapter, ProviderConfig, error) {
	p, ok := r.providers[providerName]
	if !ok {
		return nil, ProviderConfig{}, fmt.Errorf("unknown provider %q", providerName)
	}
	if !p.cfg.advertises(kind, modelName) {
		return nil, ProviderConfig{}, fmt.Errorf("provider %q does not advertise %s model %q", providerName, kind, modelName)
	}
	return p.adapter, p.cfg, nil
}

// ProviderModels is one entry of listLLM/listEmbed's result.
type ProviderModels struct {
	ProviderName string   `json:"providerName"`
	Models       []string `json:"models"`
}

// ListModels returns every provider's advertised models of kind, in
// registration order, skipping providers that advertise none.
func (r *Registry) ListModels(kind ModelKind) []ProviderModels {
	var out []ProviderModels
	for _, name := range r.order {
		models := r.providers[name].cfg.listModels(kind)
		if len(models) == 0 {
			continue
		}
		out = append(out, ProviderModels{ProviderName: name, Models: models})
	}
	return out
}

// FirstLLM returns the first provider/model pair from ListModels(ModelLLM),
// the run-loop's deterministic default-selection policy (spec.md §4.5
// step 2): choose the first provider, first model from it.
func (r *Registry) FirstLLM() (providerName, modelName string, ok bool) {
	models := r.ListModels(ModelLLM)
	if len(models) == 0 || len(models[0].Models) == 0 {
		return "", "", false
	}
	return models[0].ProviderName, models[0].Models[0], true
}
