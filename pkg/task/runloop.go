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

package task

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kpcore/agentrt/pkg/bus"
	"github.com/kpcore/agentrt/pkg/model"
)

// startRunLoop schedules the run-loop goroutine for taskID, unless one is
// already alive for it. Idempotent: task:spawn calls it unconditionally,
// and task:send calls it on every append — at most one goroutine ever
// loops for a given task.
func (m *Manager) startRunLoop(taskID string) {
	e, ok := m.get(taskID)
	if !ok {
		return
	}
	e.mu.Lock()
	if e.loopAlive {
		e.mu.Unlock()
		return
	}
	e.loopAlive = true
	e.mu.Unlock()
	go m.runLoop(taskID, e)
}

// runLoop repeats run-loop iterations for one task until its
// completionStatus is set. Each iteration alternates an LLM call with
// any resulting tool invocations (spec step 1-7).
func (m *Manager) runLoop(taskID string, e *entry) {
	defer func() {
		e.mu.Lock()
		e.loopAlive = false
		e.mu.Unlock()
	}()

	for {
		e.mu.Lock()
		if e.task.IsTerminal() {
			e.mu.Unlock()
			return
		}
		e.isRunning = true
		e.mu.Unlock()

		m.runIteration(taskID, e)

		e.mu.Lock()
		e.isRunning = false
		terminal := e.task.IsTerminal()
		e.mu.Unlock()
		if terminal {
			return
		}
	}
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type wireLLMInput struct {
	Messages     []wireMessage        `json:"messages"`
	Provider     string               `json:"provider"`
	Model        string               `json:"model"`
	StreamToUser bool                 `json:"streamToUser"`
	Tools        []wireToolDefinition `json:"tools,omitempty"`
}

// runIteration performs one pass of steps 2-7: pick a model, derive the
// tool catalog, call model:llm, append the assistant message, and invoke
// any tool calls it carried.
func (m *Manager) runIteration(taskID string, e *entry) {
	provRes := invokeJSON(m.bus, "model:listLLM", taskID, map[string]any{})
	provider, modelName, ok := firstLLM(provRes)
	if !ok {
		m.fail(e, taskID, "no LLM provider configured")
		return
	}

	tools := m.buildToolCatalog(taskID)

	e.mu.Lock()
	messages := make([]Message, len(e.messages))
	copy(messages, e.messages)
	e.mu.Unlock()

	wireMessages := make([]wireMessage, 0, len(messages))
	for _, msg := range messages {
		wireMessages = append(wireMessages, wireMessage{Role: string(msg.Role), Content: msg.Content})
	}

	raw, err := json.Marshal(wireLLMInput{
		Messages:     wireMessages,
		Provider:     provider,
		Model:        modelName,
		StreamToUser: true,
		Tools:        tools,
	})
	if err != nil {
		m.fail(e, taskID, err.Error())
		return
	}

	res := m.bus.Invoke("model:llm", "", taskID, raw)
	if res.Outcome != bus.OutcomeSuccess {
		reason := res.Err
		if reason == "" {
			reason = string(res.Outcome)
		}
		m.fail(e, taskID, reason)
		return
	}

	result, ok := res.Result.(model.LLMResult)
	if !ok {
		m.fail(e, taskID, "malformed model:llm result")
		return
	}

	m.appendMessage(e, RoleAssistant, result.Content)

	if len(result.ToolCalls) == 0 {
		m.markStatusIfUnset(e, "success")
		return
	}

	for _, tc := range result.ToolCalls {
		m.invokeTool(taskID, e, tc)
	}
}

func (m *Manager) invokeTool(taskID string, e *entry, tc model.ToolCall) {
	abilityID := bus.AbilityID(tc.Name)
	var rawArgs []byte
	if tc.Arguments != "" {
		rawArgs = []byte(tc.Arguments)
	}
	res := m.bus.Invoke(abilityID, "", taskID, rawArgs)
	if res.Outcome == bus.OutcomeSuccess {
		serialized, err := json.Marshal(res.Result)
		if err != nil {
			serialized = []byte(fmt.Sprintf("%v", res.Result))
		}
		m.appendMessage(e, RoleAssistant, fmt.Sprintf("Tool %s result: %s", abilityID, serialized))
		return
	}
	m.appendMessage(e, RoleAssistant, fmt.Sprintf("Tool %s failed: %s", abilityID, res.Err))
}

// markStatusIfUnset sets completionStatus to status only if the task has
// not already been terminated by something else (e.g. a concurrent
// task:cancel), honoring the monotone-completionStatus invariant.
func (m *Manager) markStatusIfUnset(e *entry, status string) {
	e.mu.Lock()
	if !e.task.IsTerminal() {
		e.task.CompletionStatus = status
		e.task.UpdatedAt = time.Now()
	}
	t := e.task
	e.mu.Unlock()
	m.saveTask(t)
}

// fail terminates the task as failed (unless already terminal) and
// relays a final "Error: …" message to the subscriber.
func (m *Manager) fail(e *entry, taskID, reason string) {
	m.markStatusIfUnset(e, "failed: "+reason)
	slog.Error("run-loop failed", "taskId", taskID, "reason", reason)

	messageID := uuid.NewString()
	payload, err := json.Marshal(map[string]any{"content": "Error: " + reason, "messageId": messageID, "index": -1})
	if err != nil {
		return
	}
	m.bus.Invoke("shell:send", "", taskID, payload)
}

func firstLLM(res bus.InvokeResult) (providerName, modelName string, ok bool) {
	container, ok := res.Result.(map[string]any)
	if !ok {
		return "", "", false
	}
	providers, ok := container["providers"].([]model.ProviderModels)
	if !ok || len(providers) == 0 || len(providers[0].Models) == 0 {
		return "", "", false
	}
	return providers[0].ProviderName, providers[0].Models[0], true
}

// buildToolCatalog derives the tool list for this iteration from the
// bus's own introspection capabilities, excluding the bus and shell
// modules. Done fresh every iteration so newly-registered capabilities
// become available mid-task.
func (m *Manager) buildToolCatalog(taskID string) []wireToolDefinition {
	listRes := invokeJSON(m.bus, "bus:list", taskID, map[string]any{})
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

	var tools []wireToolDefinition
	for _, mod := range modules {
		if mod.Module == "bus" || mod.Module == "shell" {
			continue
		}
		abilitiesRes := invokeJSON(m.bus, "bus:abilities", taskID, map[string]any{"module": mod.Module})
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
			tools = append(tools, wireToolDefinition{
				Name:        bus.ToolName(a.ID),
				Description: a.Description,
				Parameters:  m.fetchInputSchema(taskID, a.ID),
			})
		}
	}
	return tools
}

func (m *Manager) fetchInputSchema(taskID, abilityID string) map[string]any {
	schemaRes := invokeJSON(m.bus, "bus:schema", taskID, map[string]any{"id": abilityID})
	if schemaRes.Outcome != bus.OutcomeSuccess {
		return nil
	}
	container, ok := schemaRes.Result.(map[string]any)
	if !ok {
		return nil
	}
	in, ok := container["inputSchema"].(bus.Schema)
	if !ok {
		return nil
	}
	return in
}
