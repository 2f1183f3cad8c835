package custom

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpcore/agentrt/pkg/model"
)

func TestCompleteNonStream_ConcatenatesChunks(t *testing.T) {
	body := "" +
		"data: {\"content\":\"hel\"}\n\n" +
		"data: {\"content\":\"lo\",\"done\":true}\n\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	c := New(srv.URL)
	result, err := c.CompleteNonStream(t.Context(), "local-model", []model.Message{{Role: model.RoleUser, Content: "hi"}}, model.Options{})
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Content)
}
