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

package bus

import (
	"fmt"
	"sort"
)

// ModuleSummary is one entry of bus:list's result.
type ModuleSummary struct {
	Module string `json:"module"`
	Count  int    `json:"count"`
}

// AbilitySummary is one entry of bus:abilities' result.
type AbilitySummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (b *Bus) registerIntrospection() {
	_ = b.Register(Descriptor{
		ID:          "bus:list",
		Description: "Enumerate registered modules with per-module capability count.",
	}, func(_, _ string, _ any) (any, error) {
		counts := map[string]int{}
		for _, d := range b.descriptors() {
			counts[d.Module]++
		}
		modules := make([]ModuleSummary, 0, len(counts))
		for m, c := range counts {
			modules = append(modules, ModuleSummary{Module: m, Count: c})
		}
		sort.Slice(modules, func(i, j int) bool { return modules[i].Module < modules[j].Module })
		return map[string]any{"modules": modules}, nil
	}, nil)

	_ = b.Register(Descriptor{
		ID:          "bus:abilities",
		Description: "List {id,name,description} for one module.",
	}, func(_, _ string, input any) (any, error) {
		m, _ := input.(map[string]any)
		module, _ := m["module"].(string)
		if module == "" {
			return nil, fmt.Errorf("module is required")
		}
		var out []AbilitySummary
		for _, d := range b.descriptors() {
			if d.Module == module {
				out = append(out, AbilitySummary{ID: d.ID, Name: d.Name, Description: d.Description})
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return map[string]any{"abilities": out}, nil
	}, nil)

	_ = b.Register(Descriptor{
		ID:          "bus:schema",
		Description: "Return the input and output schema for one capability.",
	}, func(_, _ string, input any) (any, error) {
		m, _ := input.(map[string]any)
		id, _ := m["id"].(string)
		capv, ok := b.reg.Get(id)
		if !ok {
			return nil, fmt.Errorf("unknown ability %q", id)
		}
		return map[string]any{
			"inputSchema":  capv.Descriptor.InputSchema,
			"outputSchema": capv.Descriptor.OutputSchema,
		}, nil
	}, nil)

	_ = b.Register(Descriptor{
		ID:          "bus:inspect",
		Description: "Return the full descriptor for one capability.",
	}, func(_, _ string, input any) (any, error) {
		m, _ := input.(map[string]any)
		id, _ := m["id"].(string)
		capv, ok := b.reg.Get(id)
		if !ok {
			return nil, fmt.Errorf("unknown ability %q", id)
		}
		return capv.Descriptor, nil
	}, nil)
}
