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
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// ReflectSchema reflects a Go value's type into a bus Schema, the same
// way a capability author derives the descriptor's InputSchema/OutputSchema
// from the struct the typed handler actually consumes.
func ReflectSchema(v any) Schema {
	r := &jsonschema.Reflector{
		ExpandedStruct:            true,
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}
	s := r.Reflect(v)
	raw, err := json.Marshal(s)
	if err != nil {
		return Schema{}
	}
	var out Schema
	if err := json.Unmarshal(raw, &out); err != nil {
		return Schema{}
	}
	return out
}
