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

// Package anthropic implements the Anthropic-shaped provider adapter:
// a leading system-role prefix is extracted into a dedicated field, and
// content_block_delta/message_stop SSE events map onto model.ChunkSeq.
package anthropic

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

const (
	defaultBaseURL = "https://api.anthropic.com/v1"
	apiVersion     = "2023-06-01"
)

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string
}

// Option configures a Config.
type Option func(*Config)

// WithBaseURL overrides the default Anthropic endpoint.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// Client is the Anthropic-shaped adapter.
type Client struct {
	cfg    Config
	client *httpclient.Client
}

// New constructs a Client. If apiKey is empty, ANTHROPIC_API_KEY is read
// from the environment, by analogy with the OpenAI convention in
// spec.md §6.
func New(apiKey string, opts ...Option) *Client {
	cfg := Config{BaseURL: defaultBaseURL, APIKey: apiKey}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return &Client{
		cfg: cfg,
		client: httpclient.New(
			httpclient.WithHeaderParser(httpclient.ParseAnthropicHeaders),
		),
	}
}

var _ model.Adapter = (*Client)(nil)

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

type messagesRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []wireMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	MaxTokens   int           `json:"max_tokens"`
	Tools       []wireTool    `json:"tools,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
}

// splitSystem extracts the consecutive system-role prefix of messages
// into a dedicated field, per spec.md §4.3's Anthropic normalization.
func splitSystem(messages []model.Message) (string, []model.Message) {
	var system strings.Builder
	i := 0
	for ; i < len(messages) && messages[i].Role == model.RoleSystem; i++ {
		if system.Len() > 0 {
			system.WriteString("\n")
		}
		system.WriteString(messages[i].Content)
	}
	rest := make([]model.Message, 0, len(messages)-i)
	for _, m := range messages[i:] {
		rest = append(rest, m)
	}
	return system.String(), rest
}

func convertMessages(messages []model.Message) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		role := string(m.Role)
		if m.Role == model.RoleSystem {
			// Anthropic only accepts user/assistant in Messages; a
			// non-leading system message (shouldn't occur per the
			// task manager's message ordering) is carried as user.
			role = string(model.RoleUser)
		}
		out = append(out, wireMessage{Role: role, Content: m.Content})
	}
	return out
}

func (c *Client) newRequest(ctx context.Context, modelName string, messages []model.Message, opts model.Options, stream bool) (*http.Request, error) {
	system, rest := splitSystem(messages)
	maxTokens := 4096
	if opts.MaxTokens != nil {
		maxTokens = *opts.MaxTokens
	}
	var tools []wireTool
	for _, t := range opts.Tools {
		tools = append(tools, wireTool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}
	body := messagesRequest{
		Model:       modelName,
		System:      system,
		Messages:    convertMessages(rest),
		Stream:      stream,
		MaxTokens:   maxTokens,
		Tools:       tools,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/messages", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", apiVersion)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	return req, nil
}

type sseEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// CompleteStream implements model.Adapter. It maps content_block_start
// (tool_use) and content_block_delta (text_delta/input_json_delta)
// events to chunks, and message_stop to the finished chunk.
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

		var currentToolID string
		var usage model.Usage
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			var ev sseEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				continue
			}
			switch ev.Type {
			case "content_block_start":
				if ev.ContentBlock.Type == "tool_use" {
					currentToolID = ev.ContentBlock.ID
					if !yield(model.Chunk{ToolCallDelta: &model.ToolCallDelta{
						ID:           currentToolID,
						NameFragment: ev.ContentBlock.Name,
					}}, nil) {
						return
					}
				}
			case "content_block_delta":
				switch ev.Delta.Type {
				case "text_delta":
					if !yield(model.Chunk{Content: ev.Delta.Text}, nil) {
						return
					}
				case "input_json_delta":
					if !yield(model.Chunk{ToolCallDelta: &model.ToolCallDelta{
						ID:                currentToolID,
						ArgumentsFragment: ev.Delta.PartialJSON,
					}}, nil) {
						return
					}
				}
			case "message_delta":
				usage.CompletionTokens = ev.Usage.OutputTokens
			case "message_stop":
				usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
				yield(model.Chunk{Finished: true, Usage: &usage}, nil)
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(model.Chunk{}, err)
		}
	}
}

// CompleteNonStream implements model.Adapter.
func (c *Client) CompleteNonStream(ctx context.Context, modelName string, messages []model.Message, opts model.Options) (model.CompletionResult, error) {
	var result model.CompletionResult
	var content strings.Builder
	assembler := model.NewToolCallAssembler()
	var outErr error
	c.CompleteStream(ctx, modelName, messages, opts)(func(chunk model.Chunk, err error) bool {
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

// Embed is unsupported on the Anthropic adapter, per spec.md §4.3.
func (c *Client) Embed(ctx context.Context, modelName string, text string) (model.EmbeddingResult, error) {
	return model.EmbeddingResult{}, fmt.Errorf("embed is not supported by the anthropic adapter")
}
