package anthropic

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpcore/agentrt/pkg/model"
)

func TestSplitSystem_ExtractsLeadingPrefix(t *testing.T) {
	system, rest := splitSystem([]model.Message{
		{Role: model.RoleSystem, Content: "be terse"},
		{Role: model.RoleUser, Content: "hi"},
	})
	assert.Equal(t, "be terse", system)
	require.Len(t, rest, 1)
	assert.Equal(t, model.RoleUser, rest[0].Role)
}

func TestCompleteStream_TextDeltaAndStop(t *testing.T) {
	body := "" +
		"data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"hi\"}}\n\n" +
		"data: {\"type\":\"message_stop\"}\n\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	c := New("key", WithBaseURL(srv.URL))
	result, err := c.CompleteNonStream(t.Context(), "claude", []model.Message{{Role: model.RoleUser, Content: "hi"}}, model.Options{})
	require.NoError(t, err)
	assert.Equal(t, "hi", result.Content)
}

func TestEmbedUnsupported(t *testing.T) {
	c := New("key")
	_, err := c.Embed(t.Context(), "claude", "text")
	require.Error(t, err)
}
