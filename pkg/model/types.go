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

// Package model defines the uniform LLM completion/embedding surface
// that every provider adapter (openai, anthropic, custom) implements,
// and the tool-call fragment reassembly shared by all of them.
package model

import "context"

// Role identifies the sender of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the conversation sent to a provider.
type Message struct {
	Role    Role
	Content string
}

// ToolDefinition describes one capability the model may call, derived
// from a bus capability's descriptor by the task run-loop.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCall is a fully- or partially-assembled model-issued request to
// invoke a tool.
type ToolCall struct {
	ID   string
	Name string
	// Arguments is a text accumulation of provider-supplied fragments;
	// it is not parsed as JSON until the tool is actually invoked.
	Arguments string
}

// Usage carries token accounting, reported only on the finished chunk or
// on a non-streaming result.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Options are the generation parameters a caller may set; providers
// ignore fields they don't support.
type Options struct {
	Tools       []ToolDefinition
	Temperature *float64
	MaxTokens   *int
	TopP        *float64
}

// Chunk is one increment of a streaming completion.
type Chunk struct {
	// Content is incremental text; may be empty.
	Content string
	// ToolCallDelta, if non-nil, is one fragment of a tool call. ID may
	// be empty, meaning "bind to the most recently added entry".
	ToolCallDelta *ToolCallDelta
	// Finished marks the last chunk of the stream.
	Finished bool
	// Usage is only set on the Finished chunk.
	Usage *Usage
}

// ToolCallDelta is one fragment of a tool call as delivered by a
// provider's streaming wire format.
type ToolCallDelta struct {
	ID                string
	NameFragment      string
	ArgumentsFragment string
}

// CompletionResult is the fully assembled result of a completion,
// whether obtained by draining a stream or via the non-streaming path.
type CompletionResult struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *Usage
}

// EmbeddingResult is the result of an embed call.
type EmbeddingResult struct {
	Vector     []float64
	Dimensions int
	Usage      *Usage
}

// ChunkSeq is a lazy, finite, single-pass sequence of completion chunks.
// Provider streams are not restartable: once yield returns false or the
// sequence is exhausted, no further chunks are produced.
type ChunkSeq func(yield func(Chunk, error) bool)

// Adapter is the uniform contract every provider wire format implements.
type Adapter interface {
	// CompleteStream returns a lazy sequence of completion chunks.
	CompleteStream(ctx context.Context, model string, messages []Message, opts Options) ChunkSeq
	// CompleteNonStream drains the equivalent stream and returns the
	// fully assembled result.
	CompleteNonStream(ctx context.Context, model string, messages []Message, opts Options) (CompletionResult, error)
	// Embed computes an embedding vector for text. Adapters that don't
	// support embeddings return a domain error.
	Embed(ctx context.Context, model string, text string) (EmbeddingResult, error)
}
