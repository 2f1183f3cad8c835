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

import "strings"

// ToolCallAssembler reassembles tool-call fragments delivered across
// streaming chunks into complete tool calls. Fragments are matched by
// id; an empty or missing id binds to the most recently added entry.
// Assembler state lives only for the duration of one stream.
type ToolCallAssembler struct {
	order []string
	byID  map[string]*assembling
}

type assembling struct {
	id   string
	name strings.Builder
	args strings.Builder
}

// NewToolCallAssembler creates an empty assembler.
func NewToolCallAssembler() *ToolCallAssembler {
	return &ToolCallAssembler{byID: make(map[string]*assembling)}
}

// Add feeds one fragment into the assembler.
func (a *ToolCallAssembler) Add(d ToolCallDelta) {
	var entry *assembling
	if d.ID != "" {
		entry = a.byID[d.ID]
	}
	if entry == nil {
		if d.ID == "" && len(a.order) > 0 {
			// No id: bind to the most-recently-added entry.
			entry = a.byID[a.order[len(a.order)-1]]
		}
	}
	if entry == nil {
		entry = &assembling{id: d.ID}
		key := d.ID
		if key == "" {
			// Synthesize a stable key for an id-less first fragment so
			// later id-less fragments in the same position still bind
			// to it via the "most recently added" rule above.
			key = "#" + string(rune(len(a.order)))
		}
		a.byID[key] = entry
		a.order = append(a.order, key)
	}
	entry.name.WriteString(d.NameFragment)
	entry.args.WriteString(d.ArgumentsFragment)
}

// Assembled returns the fully-assembled tool calls in arrival order.
func (a *ToolCallAssembler) Assembled() []ToolCall {
	out := make([]ToolCall, 0, len(a.order))
	for _, key := range a.order {
		e := a.byID[key]
		id := e.id
		out = append(out, ToolCall{ID: id, Name: e.name.String(), Arguments: e.args.String()})
	}
	return out
}
