package openai

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpcore/agentrt/pkg/model"
)

func sseServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	}))
}

func TestCompleteStream_ChunkedText(t *testing.T) {
	body := "" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"he\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"llo\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n" +
		"data: [DONE]\n\n"
	srv := sseServer(t, body)
	defer srv.Close()

	c := New("test-key", WithBaseURL(srv.URL))
	var got []model.Chunk
	c.CompleteStream(t.Context(), "fake-llm", []model.Message{{Role: model.RoleUser, Content: "hi"}}, model.Options{})(func(ch model.Chunk, err error) bool {
		require.NoError(t, err)
		got = append(got, ch)
		return true
	})

	require.Len(t, got, 3)
	assert.Equal(t, "he", got[0].Content)
	assert.Equal(t, "llo", got[1].Content)
	assert.True(t, got[2].Finished)
}

func TestCompleteNonStream_AssemblesToolCall(t *testing.T) {
	body := "" +
		"data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"c1\",\"function\":{\"name\":\"bus_\",\"arguments\":\"\"}}]}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"name\":\"list\",\"arguments\":\"{\"}}]}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"}\"}}]}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"tool_calls\"}]}\n\n" +
		"data: [DONE]\n\n"
	srv := sseServer(t, body)
	defer srv.Close()

	c := New("test-key", WithBaseURL(srv.URL))
	result, err := c.CompleteNonStream(t.Context(), "fake-llm", nil, model.Options{})
	require.NoError(t, err)
	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "c1", result.ToolCalls[0].ID)
	assert.Equal(t, "bus_list", result.ToolCalls[0].Name)
	assert.Equal(t, "{}", result.ToolCalls[0].Arguments)
}

func TestUnauthorizedMapsToInvalidAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New("bad-key", WithBaseURL(srv.URL))
	_, err := c.CompleteNonStream(t.Context(), "fake-llm", nil, model.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid API key")
}
