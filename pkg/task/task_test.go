package task

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpcore/agentrt/pkg/bus"
	"github.com/kpcore/agentrt/pkg/ledger"
	"github.com/kpcore/agentrt/pkg/model"
)

// scriptedAdapter replays a fixed sequence of model.CompletionResult
// values, one per call to CompleteStream, draining each as a content
// chunk (when the content is non-empty), one tool-call delta chunk per
// scripted tool call, and a closing finished chunk.
type scriptedAdapter struct {
	mu        sync.Mutex
	responses []model.CompletionResult
	calls     int
}

func (a *scriptedAdapter) next() model.CompletionResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.calls >= len(a.responses) {
		return model.CompletionResult{Content: "done"}
	}
	r := a.responses[a.calls]
	a.calls++
	return r
}

func (a *scriptedAdapter) CompleteStream(ctx context.Context, modelName string, messages []model.Message, opts model.Options) model.ChunkSeq {
	r := a.next()
	return func(yield func(model.Chunk, error) bool) {
		if r.Content != "" {
			if !yield(model.Chunk{Content: r.Content}, nil) {
				return
			}
		}
		var delta *model.ToolCallDelta
		for _, tc := range r.ToolCalls {
			delta = &model.ToolCallDelta{ID: tc.ID, NameFragment: tc.Name, ArgumentsFragment: tc.Arguments}
			if !yield(model.Chunk{ToolCallDelta: delta}, nil) {
				return
			}
		}
		yield(model.Chunk{Finished: true}, nil)
	}
}

func (a *scriptedAdapter) CompleteNonStream(ctx context.Context, modelName string, messages []model.Message, opts model.Options) (model.CompletionResult, error) {
	return a.next(), nil
}

func (a *scriptedAdapter) Embed(ctx context.Context, modelName string, text string) (model.EmbeddingResult, error) {
	return model.EmbeddingResult{}, nil
}

type harness struct {
	bus     *bus.Bus
	mgr     *Manager
	adapter *scriptedAdapter

	mu     sync.Mutex
	events []map[string]any
}

func newHarness(t *testing.T, responses []model.CompletionResult) *harness {
	t.Helper()
	b := bus.New()
	require.NoError(t, ledger.Register(b, &ledger.Stub{}))

	adapter := &scriptedAdapter{responses: responses}
	reg := model.NewRegistry()
	require.NoError(t, reg.Register(model.ProviderConfig{
		Name:        "fake",
		AdapterType: model.AdapterCustom,
		Models:      []model.AdvertisedModel{{Type: model.ModelLLM, Name: "fake-llm"}},
	}, map[model.AdapterType]model.AdapterFactory{
		model.AdapterCustom: func(cfg model.ProviderConfig) (model.Adapter, error) { return adapter, nil },
	}))
	svc := model.NewService(reg)
	require.NoError(t, svc.RegisterCapabilities(b))

	h := &harness{bus: b, adapter: adapter}
	require.NoError(t, b.Register(bus.Descriptor{ID: "shell:send"}, func(_, _ string, input any) (any, error) {
		m := input.(map[string]any)
		h.mu.Lock()
		h.events = append(h.events, m)
		h.mu.Unlock()
		return map[string]any{"success": true}, nil
	}, nil))

	h.mgr = NewManager(b)
	require.NoError(t, h.mgr.RegisterCapabilities(b))
	return h
}

func (h *harness) spawn(t *testing.T, goal string) string {
	t.Helper()
	res := h.bus.Invoke("task:spawn", "", bus.SystemCaller, []byte(`{"goal":"`+goal+`"}`))
	require.Equal(t, bus.OutcomeSuccess, res.Outcome)
	out := res.Result.(map[string]any)
	return out["taskId"].(string)
}

func waitUntilTerminal(t *testing.T, mgr *Manager, taskID string, timeout time.Duration) Task {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		tk, _, ok := mgr.Snapshot(taskID)
		if ok && tk.IsTerminal() {
			return tk
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach a terminal state within %s", taskID, timeout)
	return Task{}
}

func TestSpawn_SingleShotCompletion(t *testing.T) {
	h := newHarness(t, []model.CompletionResult{{Content: "hello"}})
	taskID := h.spawn(t, "hi")

	tk := waitUntilTerminal(t, h.mgr, taskID, time.Second)
	assert.Equal(t, "success", tk.CompletionStatus)

	_, msgs, _ := h.mgr.Snapshot(taskID)
	require.Len(t, msgs, 3)
	assert.Equal(t, RoleSystem, msgs[0].Role)
	assert.Equal(t, RoleUser, msgs[1].Role)
	assert.Equal(t, "hi", msgs[1].Content)
	assert.Equal(t, RoleAssistant, msgs[2].Role)
	assert.Equal(t, "hello", msgs[2].Content)
}

func TestSpawn_ToolCallThenDone(t *testing.T) {
	h := newHarness(t, []model.CompletionResult{
		{ToolCalls: []model.ToolCall{{ID: "c1", Name: "bus_list", Arguments: "{}"}}},
		{Content: "done"},
	})
	taskID := h.spawn(t, "hi")

	tk := waitUntilTerminal(t, h.mgr, taskID, time.Second)
	assert.Equal(t, "success", tk.CompletionStatus)

	_, msgs, _ := h.mgr.Snapshot(taskID)
	var sawToolResult, sawDone bool
	for _, m := range msgs {
		if m.Role == RoleAssistant {
			if m.Content == "done" {
				sawDone = true
			}
			if len(m.Content) > len("Tool bus:list result:") && m.Content[:len("Tool bus:list result:")] == "Tool bus:list result:" {
				sawToolResult = true
			}
		}
	}
	assert.True(t, sawToolResult, "expected a tool result message, got %+v", msgs)
	assert.True(t, sawDone)
}

func TestSendToCompletedTask_Rejected(t *testing.T) {
	h := newHarness(t, []model.CompletionResult{{Content: "hello"}})
	taskID := h.spawn(t, "hi")
	waitUntilTerminal(t, h.mgr, taskID, time.Second)

	res := h.bus.Invoke("task:send", "", bus.SystemCaller, []byte(`{"receiverId":"`+taskID+`","message":"more"}`))
	assert.Equal(t, bus.OutcomeError, res.Outcome)
	assert.Contains(t, res.Err, "already completed")
}

func TestCancel_IsIdempotent(t *testing.T) {
	h := newHarness(t, []model.CompletionResult{{Content: "hello"}})
	taskID := h.spawn(t, "hi")
	waitUntilTerminal(t, h.mgr, taskID, time.Second)

	first := h.bus.Invoke("task:cancel", "", bus.SystemCaller, []byte(`{"taskId":"`+taskID+`"}`))
	second := h.bus.Invoke("task:cancel", "", bus.SystemCaller, []byte(`{"taskId":"`+taskID+`"}`))
	assert.Equal(t, bus.OutcomeSuccess, first.Outcome)
	assert.Equal(t, bus.OutcomeSuccess, second.Outcome)

	tk, _, _ := h.mgr.Snapshot(taskID)
	assert.Equal(t, "success", tk.CompletionStatus, "cancel after completion must not override a prior terminal status")
}

func TestActive_ExcludesTerminatedTasks(t *testing.T) {
	h := newHarness(t, []model.CompletionResult{{Content: "hello"}})
	taskID := h.spawn(t, "hi")
	waitUntilTerminal(t, h.mgr, taskID, time.Second)

	res := h.bus.Invoke("task:active", "", bus.SystemCaller, nil)
	require.Equal(t, bus.OutcomeSuccess, res.Outcome)
	out := res.Result.(map[string]any)
	tasks := out["tasks"].([]ActiveTaskSummary)
	for _, ts := range tasks {
		assert.NotEqual(t, taskID, ts.TaskID, "a completed task must not be listed as active")
	}
}

func TestRelayedChunksReachSubscriberStub(t *testing.T) {
	h := newHarness(t, []model.CompletionResult{{Content: "hello"}})
	taskID := h.spawn(t, "hi")
	waitUntilTerminal(t, h.mgr, taskID, time.Second)

	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(t, h.events)
	last := h.events[len(h.events)-1]
	assert.Equal(t, -1.0, last["index"])
}
