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

// Package custom implements the "custom" adapter type: a generic
// self-hosted backend speaking a plain JSON request/response plus
// text/event-stream for streaming, with no vendor-specific wire shape
// assumed. It is a generalization of a local-model HTTP client, built
// the same way such clients are always built: a base URL, a retrying
// httpclient.Client, and an Accept: text/event-stream header to switch
// the backend into streaming mode.
package custom

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/kpcore/agentrt/pkg/httpclient"
	"github.com/kpcore/agentrt/pkg/model"
)

// Client is the custom-adapter backend.
type Client struct {
	baseURL string
	client  *httpclient.Client
}

// Option configures the httpclient.Client a Client is built with.
type Option func(*httpclient.Client)

// WithTLSConfig configures the transport the custom backend is reached
// over. Self-hosted backends are the one adapter type likely to sit
// behind an internal CA or a dev-only self-signed certificate, unlike
// the openai/anthropic adapters which always talk to a public CA.
func WithTLSConfig(cfg *httpclient.TLSConfig) Option {
	return Option(httpclient.WithTLSConfig(cfg))
}

// New constructs a Client pointed at baseURL.
func New(baseURL string, opts ...Option) *Client {
	httpOpts := make([]httpclient.Option, 0, len(opts))
	for _, opt := range opts {
		httpOpts = append(httpOpts, httpclient.Option(opt))
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpclient.New(httpOpts...),
	}
}

var _ model.Adapter = (*Client)(nil)

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type completionChunk struct {
	Content  string `json:"content"`
	ToolCall *struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"toolCall"`
	Done  bool `json:"done"`
	Usage *struct {
		PromptTokens     int `json:"promptTokens"`
		CompletionTokens int `json:"completionTokens"`
	} `json:"usage"`
}

func convertMessages(messages []model.Message) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, wireMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

// CompleteStream implements model.Adapter.
func (c *Client) CompleteStream(ctx context.Context, modelName string, messages []model.Message, opts model.Options) model.ChunkSeq {
	return func(yield func(model.Chunk, error) bool) {
		raw, err := json.Marshal(completionRequest{Model: modelName, Messages: convertMessages(messages), Stream: true})
		if err != nil {
			yield(model.Chunk{}, err)
			return
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/complete", bytes.NewReader(raw))
		if err != nil {
			yield(model.Chunk{}, err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")

		resp, err := c.client.Do(req)
		if err != nil {
			yield(model.Chunk{}, fmt.Errorf("custom backend request failed: %w", err))
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			yield(model.Chunk{}, fmt.Errorf("custom backend returned status %d", resp.StatusCode))
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			var chunk completionChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			out := model.Chunk{Content: chunk.Content, Finished: chunk.Done}
			if chunk.ToolCall != nil {
				out.ToolCallDelta = &model.ToolCallDelta{
					ID:                chunk.ToolCall.ID,
					NameFragment:      chunk.ToolCall.Name,
					ArgumentsFragment: chunk.ToolCall.Arguments,
				}
			}
			if chunk.Done && chunk.Usage != nil {
				out.Usage = &model.Usage{
					PromptTokens:     chunk.Usage.PromptTokens,
					CompletionTokens: chunk.Usage.CompletionTokens,
					TotalTokens:      chunk.Usage.PromptTokens + chunk.Usage.CompletionTokens,
				}
			}
			if !yield(out, nil) {
				return
			}
			if chunk.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(model.Chunk{}, err)
		}
	}
}

// CompleteNonStream implements model.Adapter by draining the stream.
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

type embedRequest struct {
	Model string `json:"model"`
	Text  string `json:"text"`
}

type embedResponse struct {
	Vector []float64 `json:"vector"`
}

// Embed implements model.Adapter.
func (c *Client) Embed(ctx context.Context, modelName string, text string) (model.EmbeddingResult, error) {
	raw, err := json.Marshal(embedRequest{Model: modelName, Text: text})
	if err != nil {
		return model.EmbeddingResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/embed", bytes.NewReader(raw))
	if err != nil {
		return model.EmbeddingResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return model.EmbeddingResult{}, fmt.Errorf("custom backend request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return model.EmbeddingResult{}, fmt.Errorf("custom backend returned status %d", resp.StatusCode)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return model.EmbeddingResult{}, fmt.Errorf("decoding embedding response: %w", err)
	}
	return model.EmbeddingResult{Vector: parsed.Vector, Dimensions: len(parsed.Vector)}, nil
}
