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

package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/invopop/jsonschema"

	"github.com/kpcore/agentrt/pkg/bus"
)

// capabilityDescription is one entry of GET /api/schema's catalog. Its
// Go shape is what jsonschema.Reflector turns into the response's
// "schema" field, the same pattern the teacher uses to publish its
// config shape for the web config builder.
type capabilityDescription struct {
	ID           string     `json:"id"`
	Module       string     `json:"module"`
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	InputSchema  bus.Schema `json:"inputSchema,omitempty"`
	OutputSchema bus.Schema `json:"outputSchema,omitempty"`
}

type schemaResponse struct {
	Schema       *jsonschema.Schema      `json:"schema"`
	Capabilities []capabilityDescription `json:"capabilities"`
}

// handleSchema implements GET /api/schema: a live dump of every
// registered capability's descriptor, reached through the bus's own
// introspection capabilities (bus:list, bus:abilities, bus:schema),
// alongside the JSON Schema of the entry shape itself.
func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schema := reflector.Reflect(&capabilityDescription{})
	schema.ID = "https://agentrt.dev/schemas/capability.json"
	schema.Title = "agentrt Capability Descriptor"
	schema.Description = "Shape of one entry in the live capability catalog."

	resp := schemaResponse{Schema: schema, Capabilities: s.collectCapabilities()}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(resp); err != nil {
		slog.Error("failed to encode capability schema", "error", err)
		http.Error(w, "Failed to generate schema", http.StatusInternalServerError)
	}
}

func (s *Server) collectCapabilities() []capabilityDescription {
	listRes := s.bus.Invoke("bus:list", "", bus.SystemCaller, nil)
	if listRes.Outcome != bus.OutcomeSuccess {
		return nil
	}
	listContainer, ok := listRes.Result.(map[string]any)
	if !ok {
		return nil
	}
	modules, ok := listContainer["modules"].([]bus.ModuleSummary)
	if !ok {
		return nil
	}

	var out []capabilityDescription
	for _, mod := range modules {
		abilitiesPayload, _ := json.Marshal(map[string]any{"module": mod.Module})
		abilitiesRes := s.bus.Invoke("bus:abilities", "", bus.SystemCaller, abilitiesPayload)
		if abilitiesRes.Outcome != bus.OutcomeSuccess {
			continue
		}
		abilitiesContainer, ok := abilitiesRes.Result.(map[string]any)
		if !ok {
			continue
		}
		abilities, ok := abilitiesContainer["abilities"].([]bus.AbilitySummary)
		if !ok {
			continue
		}
		for _, a := range abilities {
			schemaPayload, _ := json.Marshal(map[string]any{"id": a.ID})
			schemaRes := s.bus.Invoke("bus:schema", "", bus.SystemCaller, schemaPayload)
			desc := capabilityDescription{ID: a.ID, Module: mod.Module, Name: a.Name, Description: a.Description}
			if schemaRes.Outcome == bus.OutcomeSuccess {
				if container, ok := schemaRes.Result.(map[string]any); ok {
					desc.InputSchema, _ = container["inputSchema"].(bus.Schema)
					desc.OutputSchema, _ = container["outputSchema"].(bus.Schema)
				}
			}
			out = append(out, desc)
		}
	}
	return out
}
