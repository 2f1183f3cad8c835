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

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/kpcore/agentrt/pkg/bus"
)

// Service wires a provider Registry onto the bus as model:llm,
// model:listLLM, model:listEmbed.
type Service struct {
	registry *Registry
	bus      *bus.Bus
}

// NewService creates a model Service bound to reg.
func NewService(reg *Registry) *Service {
	return &Service{registry: reg}
}

type llmMessageInput struct {
	Role    string `mapstructure:"role"`
	Content string `mapstructure:"content"`
}

type llmToolInput struct {
	Name        string         `mapstructure:"name"`
	Description string         `mapstructure:"description"`
	Parameters  map[string]any `mapstructure:"parameters"`
}

type llmInput struct {
	Messages     []llmMessageInput `mapstructure:"messages"`
	Provider     string            `mapstructure:"provider"`
	Model        string            `mapstructure:"model"`
	Temperature  *float64          `mapstructure:"temperature"`
	MaxTokens    *int              `mapstructure:"maxTokens"`
	TopP         *float64          `mapstructure:"topP"`
	StreamToUser bool              `mapstructure:"streamToUser"`
	Tools        []llmToolInput    `mapstructure:"tools"`
}

type LLMResult struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
	Usage     *Usage     `json:"usage,omitempty"`
}

// RegisterCapabilities registers model:llm, model:listLLM, model:listEmbed
// on b. It also remembers b so model:llm can relay via shell:send.
func (s *Service) RegisterCapabilities(b *bus.Bus) error {
	s.bus = b

	if err := b.Register(bus.Descriptor{
		ID:          "model:llm",
		Description: "Run a completion against a configured provider/model, optionally relaying chunks to the user.",
		InputSchema: bus.ReflectSchema(llmInput{}),
	}, s.handleLLM, func() any { return &llmInput{} }); err != nil {
		return err
	}

	if err := b.Register(bus.Descriptor{
		ID:          "model:listLLM",
		Description: "List providers and their advertised completion models.",
	}, func(_, _ string, _ any) (any, error) {
		return map[string]any{"providers": s.registry.ListModels(ModelLLM)}, nil
	}, nil); err != nil {
		return err
	}

	if err := b.Register(bus.Descriptor{
		ID:          "model:listEmbed",
		Description: "List providers and their advertised embedding models.",
	}, func(_, _ string, _ any) (any, error) {
		return map[string]any{"providers": s.registry.ListModels(ModelEmbed)}, nil
	}, nil); err != nil {
		return err
	}

	return nil
}

// RequiredIDs lists the capability ids RegisterCapabilities is expected
// to have registered.
func RequiredIDs() []string {
	return []string{"model:llm", "model:listLLM", "model:listEmbed"}
}

func toMessages(in []llmMessageInput) []Message {
	out := make([]Message, 0, len(in))
	for _, m := range in {
		out = append(out, Message{Role: Role(m.Role), Content: m.Content})
	}
	return out
}

func toOptions(in *llmInput) Options {
	opts := Options{Temperature: in.Temperature, MaxTokens: in.MaxTokens, TopP: in.TopP}
	for _, t := range in.Tools {
		opts.Tools = append(opts.Tools, ToolDefinition{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}
	return opts
}

func (s *Service) handleLLM(callerID, _ string, rawInput any) (any, error) {
	in := rawInput.(*llmInput)
	adapter, _, err := s.registry.Lookup(in.Provider, in.Model, ModelLLM)
	if err != nil {
		return nil, err
	}

	messages := toMessages(in.Messages)
	opts := toOptions(in)
	ctx := context.Background()

	if !in.StreamToUser {
		result, err := adapter.CompleteNonStream(ctx, in.Model, messages, opts)
		if err != nil {
			return nil, err
		}
		return LLMResult{Content: result.Content, ToolCalls: result.ToolCalls, Usage: result.Usage}, nil
	}

	messageID := uuid.NewString()
	index := 0
	var contentBuf []byte
	assembler := NewToolCallAssembler()
	var usage *Usage
	var streamErr error

	adapter.CompleteStream(ctx, in.Model, messages, opts)(func(chunk Chunk, err error) bool {
		if err != nil {
			streamErr = err
			return false
		}
		if chunk.ToolCallDelta != nil {
			assembler.Add(*chunk.ToolCallDelta)
		}
		if chunk.Content != "" {
			contentBuf = append(contentBuf, chunk.Content...)
		}
		switch {
		case chunk.Finished:
			usage = chunk.Usage
			s.relay(callerID, messageID, -1, chunk.Content)
		case chunk.Content != "":
			s.relay(callerID, messageID, index, chunk.Content)
			index++
		}
		return true
	})
	if streamErr != nil {
		return nil, streamErr
	}
	return LLMResult{Content: string(contentBuf), ToolCalls: assembler.Assembled(), Usage: usage}, nil
}

// relay pushes one content chunk to the transport via shell:send. Send
// failures (no active subscriber) are advisory per spec.md §7 and are
// not propagated as completion errors.
func (s *Service) relay(taskID, messageID string, index int, content string) {
	payload, err := json.Marshal(map[string]any{
		"content":   content,
		"messageId": messageID,
		"index":     index,
	})
	if err != nil {
		return
	}
	s.bus.Invoke("shell:send", "", taskID, payload)
}
