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

// Package task implements the Task Manager: per-task state, inter-task
// messaging, and the think/act run-loop that alternates LLM calls with
// tool invocations discovered through the bus.
package task

import "time"

// Role identifies the sender of a message in a task's log.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Task is the persistent-shaped record of one agent context. Once
// CompletionStatus is set it is never unset.
type Task struct {
	ID               string
	ParentTaskID     string
	CompletionStatus string
	SystemPrompt     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsTerminal reports whether the task has finished, been cancelled, or
// failed.
func (t Task) IsTerminal() bool {
	return t.CompletionStatus != ""
}

// Message is one immutable entry of a task's ordered log.
type Message struct {
	ID        string
	TaskID    string
	Role      Role
	Content   string
	Timestamp time.Time
}

const defaultSystemPrompt = "You are a helpful assistant with access to a set of tools. Use them when they help answer the user's goal, and reply directly otherwise."
