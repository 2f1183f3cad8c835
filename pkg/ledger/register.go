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

package ledger

import (
	"time"

	"github.com/kpcore/agentrt/pkg/bus"
)

// Register exposes ldg on the bus under the ldg: prefix.
func Register(b *bus.Bus, ldg Ledger) error {
	type taskSaveInput struct {
		ID               string `mapstructure:"id"`
		ParentTaskID     string `mapstructure:"parentTaskId"`
		CompletionStatus string `mapstructure:"completionStatus"`
		SystemPrompt     string `mapstructure:"systemPrompt"`
	}
	if err := b.Register(bus.Descriptor{
		ID:          "ldg:task:save",
		Description: "Persist a task record.",
		InputSchema: bus.ReflectSchema(taskSaveInput{}),
	}, func(_, _ string, input any) (any, error) {
		in := input.(*taskSaveInput)
		now := time.Now()
		return nil, ldg.SaveTask(TaskRecord{
			ID:               in.ID,
			ParentTaskID:     in.ParentTaskID,
			CompletionStatus: in.CompletionStatus,
			SystemPrompt:     in.SystemPrompt,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
	}, func() any { return &taskSaveInput{} }); err != nil {
		return err
	}

	type idInput struct {
		ID string `mapstructure:"id"`
	}
	if err := b.Register(bus.Descriptor{
		ID:          "ldg:task:get",
		Description: "Retrieve a task record by id.",
		InputSchema: bus.ReflectSchema(idInput{}),
	}, func(_, _ string, input any) (any, error) {
		in := input.(*idInput)
		rec, ok, err := ldg.GetTask(in.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		return rec, nil
	}, func() any { return &idInput{} }); err != nil {
		return err
	}

	type queryInput struct {
		CompletionStatus string `mapstructure:"completionStatus"`
		ParentTaskID     string `mapstructure:"parentTaskId"`
		Limit            int    `mapstructure:"limit"`
		Offset           int    `mapstructure:"offset"`
	}
	if err := b.Register(bus.Descriptor{
		ID:          "ldg:task:query",
		Description: "Query task records.",
		InputSchema: bus.ReflectSchema(queryInput{}),
	}, func(_, _ string, input any) (any, error) {
		in := input.(*queryInput)
		q := TaskQuery{Limit: in.Limit, Offset: in.Offset}
		if in.CompletionStatus != "" {
			q.CompletionStatus = &in.CompletionStatus
		}
		if in.ParentTaskID != "" {
			q.ParentTaskID = &in.ParentTaskID
		}
		return ldg.QueryTasks(q)
	}, func() any { return &queryInput{} }); err != nil {
		return err
	}

	type callSaveInput struct {
		ID          string `mapstructure:"id"`
		TaskID      string `mapstructure:"taskId"`
		AbilityName string `mapstructure:"abilityName"`
		Parameters  string `mapstructure:"parameters"`
		Status      string `mapstructure:"status"`
		Details     string `mapstructure:"details"`
	}
	if err := b.Register(bus.Descriptor{
		ID:          "ldg:call:save",
		Description: "Persist a tool-invocation call record.",
		InputSchema: bus.ReflectSchema(callSaveInput{}),
	}, func(_, _ string, input any) (any, error) {
		in := input.(*callSaveInput)
		now := time.Now()
		return nil, ldg.SaveCall(CallRecord{
			ID:          in.ID,
			TaskID:      in.TaskID,
			AbilityName: in.AbilityName,
			Parameters:  in.Parameters,
			Status:      in.Status,
			Details:     in.Details,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}, func() any { return &callSaveInput{} }); err != nil {
		return err
	}

	type taskIDInput struct {
		TaskID string `mapstructure:"taskId"`
	}
	if err := b.Register(bus.Descriptor{
		ID:          "ldg:call:list",
		Description: "List call records for a task.",
		InputSchema: bus.ReflectSchema(taskIDInput{}),
	}, func(_, _ string, input any) (any, error) {
		in := input.(*taskIDInput)
		return ldg.ListCalls(in.TaskID)
	}, func() any { return &taskIDInput{} }); err != nil {
		return err
	}

	type msgSaveInput struct {
		ID     string `mapstructure:"id"`
		TaskID string `mapstructure:"taskId"`
		Role   string `mapstructure:"role"`
		Content string `mapstructure:"content"`
	}
	if err := b.Register(bus.Descriptor{
		ID:          "ldg:msg:save",
		Description: "Append a message to a task's log.",
		InputSchema: bus.ReflectSchema(msgSaveInput{}),
	}, func(_, _ string, input any) (any, error) {
		in := input.(*msgSaveInput)
		id, err := ldg.SaveMessage(MessageRecord{
			ID:        in.ID,
			TaskID:    in.TaskID,
			Role:      in.Role,
			Content:   in.Content,
			Timestamp: time.Now(),
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"id": id}, nil
	}, func() any { return &msgSaveInput{} }); err != nil {
		return err
	}

	type msgListInput struct {
		TaskID string `mapstructure:"taskId"`
		Limit  int    `mapstructure:"limit"`
		Offset int    `mapstructure:"offset"`
	}
	if err := b.Register(bus.Descriptor{
		ID:          "ldg:msg:list",
		Description: "List messages for a task.",
		InputSchema: bus.ReflectSchema(msgListInput{}),
	}, func(_, _ string, input any) (any, error) {
		in := input.(*msgListInput)
		return ldg.ListMessages(in.TaskID, in.Limit, in.Offset)
	}, func() any { return &msgListInput{} }); err != nil {
		return err
	}

	return nil
}

// RequiredIDs lists every capability id Register is expected to have
// registered; Assembly verifies these are all present at startup.
func RequiredIDs() []string {
	return []string{
		"ldg:task:save", "ldg:task:get", "ldg:task:query",
		"ldg:call:save", "ldg:call:list",
		"ldg:msg:save", "ldg:msg:list",
	}
}
