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

// Package openai implements the OpenAI-shaped provider adapter: chat
// completions over HTTP, with SSE streaming of delta chunks and
// tool-call fragments that map directly onto model.ChunkSeq.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/kpcore/agentrt/pkg/httpclient"
	"github.com/kpcore/agentrt/pkg/model"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string
}

// Option configures a Config.
type Option func(*Config)

// WithBaseURL overrides the default OpenAI endpoint.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// Client is the OpenAI-shaped adapter.
type Client struct {
	cfg    Config
	client *httpclient.Client
}

// New constructs a Client. If apiKey is empty, OPENAI_API_KEY is read
// from the environment, matching the convention in spec.md §6.
func New(apiKey string, opts ...Option) *Client {
	cfg := Config{BaseURL: defaultBaseURL, APIKey: apiKey}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return &Client{
		cfg: cfg,
		client: httpclient.New(
			httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
		),
	}
}

var _ model.Adapter = (*Client)(nil)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Tools       []chatTool    `json:"tools,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
}

type toolCallDeltaWire struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content   string              `json:"content"`
			ToolCalls []toolCallDeltaWire `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func convertMessages(messages []model.Message) []chatMessage {
	out := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func convertTools(tools []model.ToolDefinition) []chatTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]chatTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, chatTool{
			Type: "function",
			Function: chatFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

func (c *Client) newRequest(ctx context.Context, modelName string, messages []model.Message, opts model.Options, stream bool) (*http.Request, error) {
	body := chatRequest{
		Model:       modelName,
		Messages:    convertMessages(messages),
		Stream:      stream,
		Tools:       convertTools(opts.Tools),
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		TopP:        opts.TopP,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	return req, nil
}

// CompleteStream implements model.Adapter.
func (c *Client) CompleteStream(ctx context.Context, modelName string, messages []model.Message, opts model.Options) model.ChunkSeq {
	return func(yield func(model.Chunk, error) bool) {
		req, err := c.newRequest(ctx, modelName, messages, opts, true)
		if err != nil {
			yield(model.Chunk{}, err)
			return
		}
		resp, err := c.client.Do(req)
		if err != nil {
			yield(model.Chunk{}, classifyError(err, resp))
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			yield(model.Chunk{}, classifyStatus(resp))
			return
		}

		indexToID := map[int]string{}
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				if !yield(model.Chunk{Finished: true}, nil) {
					return
				}
				return
			}
			var chunk chatChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if !emitChunk(chunk, indexToID, yield) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(model.Chunk{}, err)
		}
	}
}

func emitChunk(chunk chatChunk, indexToID map[int]string, yield func(model.Chunk, error) bool) bool {
	if len(chunk.Choices) == 0 {
		return true
	}
	choice := chunk.Choices[0]
	for _, tc := range choice.Delta.ToolCalls {
		id := tc.ID
		if id == "" {
			id = indexToID[tc.Index]
		} else {
			indexToID[tc.Index] = id
		}
		if !yield(model.Chunk{ToolCallDelta: &model.ToolCallDelta{
			ID:                id,
			NameFragment:      tc.Function.Name,
			ArgumentsFragment: tc.Function.Arguments,
		}}, nil) {
			return false
		}
	}
	if choice.Delta.Content != "" {
		if !yield(model.Chunk{Content: choice.Delta.Content}, nil) {
			return false
		}
	}
	if choice.FinishReason != nil {
		out := model.Chunk{Finished: true}
		if chunk.Usage != nil {
			out.Usage = &model.Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		// The finish chunk is the stream's last; CompleteStream stops here.
		yield(out, nil)
		return false
	}
	return true
}

// CompleteNonStream implements model.Adapter by draining CompleteStream
// and reassembling, per spec.md §4.3 ("conceptually equivalent to
// draining the stream").
func (c *Client) CompleteNonStream(ctx context.Context, modelName string, messages []model.Message, opts model.Options) (model.CompletionResult, error) {
	return drainAndAssemble(c.CompleteStream(ctx, modelName, messages, opts))
}

func drainAndAssemble(seq model.ChunkSeq) (model.CompletionResult, error) {
	var result model.CompletionResult
	var content strings.Builder
	assembler := model.NewToolCallAssembler()
	var outErr error
	seq(func(chunk model.Chunk, err error) bool {
		if err != nil {
			outErr = err
			return false
		}
		if chunk.ToolCallDelta != nil {
			assembler.Add(*chunk.ToolCallDelta)
		}
		content.WriteString(chunk.Content)
		if chunk.Finished && chunk.Usage != nil {
			result.Usage = chunk.Usage
		}
		return true
	})
	if outErr != nil {
		return model.CompletionResult{}, outErr
	}
	result.Content = content.String()
	result.ToolCalls = assembler.Assembled()
	return result, nil
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// Embed implements model.Adapter.
func (c *Client) Embed(ctx context.Context, modelName string, text string) (model.EmbeddingResult, error) {
	raw, err := json.Marshal(embedRequest{Model: modelName, Input: text})
	if err != nil {
		return model.EmbeddingResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/embeddings", bytes.NewReader(raw))
	if err != nil {
		return model.EmbeddingResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return model.EmbeddingResult{}, classifyError(err, resp)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return model.EmbeddingResult{}, classifyStatus(resp)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return model.EmbeddingResult{}, fmt.Errorf("decoding embedding response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return model.EmbeddingResult{}, fmt.Errorf("embedding response had no data")
	}
	vec := parsed.Data[0].Embedding
	return model.EmbeddingResult{
		Vector:     vec,
		Dimensions: len(vec),
		Usage: &model.Usage{
			PromptTokens: parsed.Usage.PromptTokens,
			TotalTokens:  parsed.Usage.TotalTokens,
		},
	}, nil
}
