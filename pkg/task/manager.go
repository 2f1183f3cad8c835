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
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kpcore/agentrt/pkg/bus"
)

// entry is one task's in-memory working-set state. All mutation to a
// single task (message append, status set, isRunning flip) holds mu, so
// it appears atomic to other observers of that task.
type entry struct {
	mu               sync.Mutex
	task             Task
	messages         []Message
	isRunning        bool
	loopAlive        bool
	goal             string
	lastActivityTime time.Time
}

// Manager owns every task's working-set state and exposes task:spawn,
// task:send, task:cancel, task:active on the bus.
type Manager struct {
	bus *bus.Bus

	mu    sync.RWMutex
	tasks map[string]*entry
}

// NewManager creates a Manager bound to b. RegisterCapabilities must be
// called separately so assembly can control wiring order.
func NewManager(b *bus.Bus) *Manager {
	return &Manager{bus: b, tasks: make(map[string]*entry)}
}

func invokeJSON(b *bus.Bus, abilityID, callerID string, payload map[string]any) bus.InvokeResult {
	raw, err := json.Marshal(payload)
	if err != nil {
		return bus.InvokeResult{Outcome: bus.OutcomeInvalidInput, Err: err.Error()}
	}
	return b.Invoke(abilityID, "", callerID, raw)
}

func (m *Manager) get(taskID string) (*entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.tasks[taskID]
	return e, ok
}

func (m *Manager) saveTask(t Task) {
	invokeJSON(m.bus, "ldg:task:save", t.ID, map[string]any{
		"id":               t.ID,
		"parentTaskId":     t.ParentTaskID,
		"completionStatus": t.CompletionStatus,
		"systemPrompt":     t.SystemPrompt,
	})
}

// saveMessage persists msg via the ledger and returns the message with
// its ledger-assigned id (the stub echoes the id it was given).
func (m *Manager) saveMessage(msg Message) Message {
	res := invokeJSON(m.bus, "ldg:msg:save", msg.TaskID, map[string]any{
		"id":      msg.ID,
		"taskId":  msg.TaskID,
		"role":    string(msg.Role),
		"content": msg.Content,
	})
	if res.Outcome == bus.OutcomeSuccess {
		if m, ok := res.Result.(map[string]any); ok {
			if id, ok := m["id"].(string); ok && id != "" {
				msg.ID = id
			}
		}
	}
	return msg
}

// appendMessage builds, persists and appends one message to e. It
// acquires e.mu itself; callers must not already hold it.
func (m *Manager) appendMessage(e *entry, role Role, content string) Message {
	e.mu.Lock()
	taskID := e.task.ID
	e.mu.Unlock()

	msg := Message{ID: uuid.NewString(), TaskID: taskID, Role: role, Content: content, Timestamp: time.Now()}
	msg = m.saveMessage(msg)

	e.mu.Lock()
	e.messages = append(e.messages, msg)
	e.lastActivityTime = msg.Timestamp
	e.mu.Unlock()
	return msg
}

type spawnInput struct {
	Goal         string `mapstructure:"goal"`
	ParentTaskID string `mapstructure:"parentTaskId"`
	SystemPrompt string `mapstructure:"systemPrompt"`
}

type sendInput struct {
	ReceiverID string `mapstructure:"receiverId"`
	Message    string `mapstructure:"message"`
}

type cancelInput struct {
	TaskID string `mapstructure:"taskId"`
	Reason string `mapstructure:"reason"`
}

type activeInput struct {
	Limit int `mapstructure:"limit"`
}

// ActiveTaskSummary is one entry of task:active's result.
type ActiveTaskSummary struct {
	TaskID           string    `json:"taskId"`
	Goal             string    `json:"goal"`
	ParentTaskID     string    `json:"parentTaskId,omitempty"`
	MessageCount     int       `json:"messageCount"`
	CreatedAt        time.Time `json:"createdAt"`
	LastActivityTime time.Time `json:"lastActivityTime"`
}

// RegisterCapabilities registers task:spawn, task:send, task:cancel and
// task:active on b.
func (m *Manager) RegisterCapabilities(b *bus.Bus) error {
	if err := b.Register(bus.Descriptor{
		ID:          "task:spawn",
		Description: "Create a new task and schedule its run-loop.",
		InputSchema: bus.ReflectSchema(spawnInput{}),
	}, m.handleSpawn, func() any { return &spawnInput{} }); err != nil {
		return err
	}

	if err := b.Register(bus.Descriptor{
		ID:          "task:send",
		Description: "Append a message to a task and wake its run-loop if idle.",
		InputSchema: bus.ReflectSchema(sendInput{}),
	}, m.handleSend, func() any { return &sendInput{} }); err != nil {
		return err
	}

	if err := b.Register(bus.Descriptor{
		ID:          "task:cancel",
		Description: "Mark a task cancelled; the run-loop stops at its next suspension point.",
		InputSchema: bus.ReflectSchema(cancelInput{}),
	}, m.handleCancel, func() any { return &cancelInput{} }); err != nil {
		return err
	}

	if err := b.Register(bus.Descriptor{
		ID:          "task:active",
		Description: "List tasks that have not yet completed.",
		InputSchema: bus.ReflectSchema(activeInput{}),
	}, m.handleActive, func() any { return &activeInput{} }); err != nil {
		return err
	}

	return nil
}

// RequiredIDs lists the capability ids RegisterCapabilities is expected
// to have registered.
func RequiredIDs() []string {
	return []string{"task:spawn", "task:send", "task:cancel", "task:active"}
}

// Snapshot returns a point-in-time copy of a task's record and message
// log, for tests and diagnostics.
func (m *Manager) Snapshot(taskID string) (Task, []Message, bool) {
	e, ok := m.get(taskID)
	if !ok {
		return Task{}, nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	msgs := make([]Message, len(e.messages))
	copy(msgs, e.messages)
	return e.task, msgs, true
}

func (m *Manager) handleSpawn(_, _ string, rawInput any) (any, error) {
	in := rawInput.(*spawnInput)
	if in.Goal == "" {
		return nil, fmt.Errorf("goal is required")
	}

	systemPrompt := in.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}

	now := time.Now()
	id := uuid.NewString()
	t := Task{
		ID:           id,
		ParentTaskID: in.ParentTaskID,
		SystemPrompt: systemPrompt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	e := &entry{task: t, goal: in.Goal, lastActivityTime: now}

	m.mu.Lock()
	m.tasks[id] = e
	m.mu.Unlock()

	m.saveTask(t)
	m.appendMessage(e, RoleSystem, systemPrompt)
	m.appendMessage(e, RoleUser, in.Goal)

	m.startRunLoop(id)

	return map[string]any{"taskId": id}, nil
}

func (m *Manager) handleSend(_, _ string, rawInput any) (any, error) {
	in := rawInput.(*sendInput)
	e, ok := m.get(in.ReceiverID)
	if !ok {
		return nil, fmt.Errorf("unknown task %s", in.ReceiverID)
	}

	e.mu.Lock()
	terminal := e.task.IsTerminal()
	e.mu.Unlock()
	if terminal {
		return nil, fmt.Errorf("Task %s is already completed", in.ReceiverID)
	}
	m.appendMessage(e, RoleUser, in.Message)

	m.startRunLoop(in.ReceiverID)

	return map[string]any{"accepted": true}, nil
}

func (m *Manager) handleCancel(_, _ string, rawInput any) (any, error) {
	in := rawInput.(*cancelInput)
	e, ok := m.get(in.TaskID)
	if !ok {
		return nil, fmt.Errorf("unknown task %s", in.TaskID)
	}

	e.mu.Lock()
	if e.task.IsTerminal() {
		e.mu.Unlock()
		return map[string]any{"cancelled": true}, nil
	}
	e.task.CompletionStatus = "cancelled"
	e.task.UpdatedAt = time.Now()
	t := e.task
	e.mu.Unlock()

	m.saveTask(t)
	slog.Info("task cancelled", "taskId", in.TaskID, "reason", in.Reason)

	return map[string]any{"cancelled": true}, nil
}

func (m *Manager) handleActive(_, _ string, rawInput any) (any, error) {
	in := rawInput.(*activeInput)
	limit := in.Limit
	if limit <= 0 {
		limit = 100
	}

	m.mu.RLock()
	entries := make([]*entry, 0, len(m.tasks))
	for _, e := range m.tasks {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	var out []ActiveTaskSummary
	for _, e := range entries {
		e.mu.Lock()
		if !e.task.IsTerminal() {
			out = append(out, ActiveTaskSummary{
				TaskID:           e.task.ID,
				Goal:             e.goal,
				ParentTaskID:     e.task.ParentTaskID,
				MessageCount:     len(e.messages),
				CreatedAt:        e.task.CreatedAt,
				LastActivityTime: e.lastActivityTime,
			})
		}
		e.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}

	return map[string]any{"tasks": out}, nil
}
