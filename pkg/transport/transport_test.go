package transport

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpcore/agentrt/pkg/bus"
)

func newTestServer(t *testing.T) (*Server, *bus.Bus) {
	t.Helper()
	b := bus.New(bus.WithPrometheusRegisterer(prometheus.NewRegistry()))
	// Long enough that no heartbeat interleaves with the frames these
	// tests assert on; TestStream_HeartbeatCadence uses its own server
	// with a short interval to exercise the heartbeat itself.
	s := New(b, "", WithPrometheusRegisterer(prometheus.NewRegistry()), WithHeartbeatInterval(time.Hour))
	require.NoError(t, s.RegisterCapabilities(b))
	return s, b
}

// readSSE reads one "event: <type>\ndata: <json>\n\n" record (or a
// heartbeat comment) from r.
func readSSE(t *testing.T, r *bufio.Reader) (eventType string, data map[string]any, heartbeat bool) {
	t.Helper()
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	if strings.HasPrefix(line, ": heartbeat") {
		_, _ = r.ReadString('\n')
		return "", nil, true
	}
	require.True(t, strings.HasPrefix(line, "event: "), "got %q", line)
	eventType = strings.TrimSuffix(strings.TrimPrefix(line, "event: "), "\n")

	dataLine, err := r.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(dataLine, "data: "), "got %q", dataLine)
	payload := strings.TrimSuffix(strings.TrimPrefix(dataLine, "data: "), "\n")
	require.NoError(t, json.Unmarshal([]byte(payload), &data))

	_, err = r.ReadString('\n') // trailing blank line
	require.NoError(t, err)
	return eventType, data, false
}

func TestHandleSend_SpawnsNewTask(t *testing.T) {
	s, b := newTestServer(t)
	require.NoError(t, b.Register(bus.Descriptor{ID: "task:spawn"}, func(_, _ string, _ any) (any, error) {
		return map[string]any{"taskId": "t-1"}, nil
	}, nil))

	req := httptest.NewRequest(http.MethodPost, "/send", strings.NewReader(`{"message":"hi"}`))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "t-1", out["taskId"])
	assert.Equal(t, "running", out["status"])
}

func TestHandleSend_RejectsEmptyMessage(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/send", strings.NewReader(`{"message":""}`))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSend_SendFailurePropagates400(t *testing.T) {
	s, b := newTestServer(t)
	require.NoError(t, b.Register(bus.Descriptor{ID: "task:send"}, func(_, _ string, _ any) (any, error) {
		return nil, assertErr("unknown task")
	}, nil))

	req := httptest.NewRequest(http.MethodPost, "/send", strings.NewReader(`{"message":"hi","taskId":"bogus"}`))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	errBody := out["error"].(map[string]any)
	assert.Equal(t, "SEND_FAILED", errBody["code"])
}

func TestShellSend_NoSubscriber(t *testing.T) {
	_, b := newTestServer(t)
	res := b.Invoke("shell:send", "", "no-such-task", []byte(`{"content":"hi","messageId":"m1","index":-1}`))
	require.Equal(t, bus.OutcomeSuccess, res.Outcome)
	out := res.Result.(map[string]any)
	assert.Equal(t, false, out["success"])
}

func TestStream_StartThenContentThenComplete(t *testing.T) {
	s, b := newTestServer(t)

	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	httpClient := srv.Client()
	httpClient.Timeout = 2 * time.Second
	resp, err := httpClient.Get(srv.URL + "/stream/t-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	eventType, data, _ := readSSE(t, reader)
	assert.Equal(t, "start", eventType)
	assert.Equal(t, "t-1", data["taskId"])

	// give the handler a moment to register the subscriber before we relay.
	require.Eventually(t, func() bool {
		_, ok := s.subs.get("t-1")
		return ok
	}, time.Second, time.Millisecond)

	res := b.Invoke("shell:send", "", "t-1", []byte(`{"content":"hello","messageId":"m1","index":-1}`))
	require.Equal(t, bus.OutcomeSuccess, res.Outcome)

	eventType, data, _ = readSSE(t, reader)
	assert.Equal(t, "content", eventType)
	assert.Equal(t, "hello", data["content"])
	assert.Equal(t, float64(-1), data["index"])

	eventType, data, _ = readSSE(t, reader)
	assert.Equal(t, "message_complete", eventType)
	assert.Equal(t, "m1", data["messageId"])
}

func TestStream_ChunkedOrderPreserved(t *testing.T) {
	s, b := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/stream/t-2")
	require.NoError(t, err)
	defer resp.Body.Close()
	reader := bufio.NewReader(resp.Body)
	_, _, _ = readSSE(t, reader) // start

	require.Eventually(t, func() bool {
		_, ok := s.subs.get("t-2")
		return ok
	}, time.Second, time.Millisecond)

	chunks := []string{"he", "ll", "o"}
	for i, c := range chunks {
		idx := i
		if i == len(chunks)-1 {
			idx = -1
		}
		payload, _ := json.Marshal(map[string]any{"content": c, "messageId": "m1", "index": idx})
		res := b.Invoke("shell:send", "", "t-2", payload)
		require.Equal(t, bus.OutcomeSuccess, res.Outcome)
	}

	var got []any
	for i := 0; i < len(chunks); i++ {
		_, data, _ := readSSE(t, reader)
		got = append(got, data["index"])
	}
	assert.Equal(t, []any{float64(0), float64(1), float64(-1)}, got)

	eventType, _, _ := readSSE(t, reader)
	assert.Equal(t, "message_complete", eventType)
}

func TestStream_Resubscribe_ReplacesOlder(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	first, err := srv.Client().Get(srv.URL + "/stream/t-3")
	require.NoError(t, err)
	defer first.Body.Close()
	firstReader := bufio.NewReader(first.Body)
	_, _, _ = readSSE(t, firstReader) // start

	second, err := srv.Client().Get(srv.URL + "/stream/t-3")
	require.NoError(t, err)
	defer second.Body.Close()
	secondReader := bufio.NewReader(second.Body)
	eventType, _, _ := readSSE(t, secondReader)
	assert.Equal(t, "start", eventType)

	// the first connection's handler should exit (EOF) once replaced.
	_, err = firstReader.ReadString('\n')
	assert.Error(t, err)
}

func TestHandleStream_MissingTaskID(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/stream/", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestStream_HeartbeatCadence(t *testing.T) {
	b := bus.New(bus.WithPrometheusRegisterer(prometheus.NewRegistry()))
	s := New(b, "", WithPrometheusRegisterer(prometheus.NewRegistry()), WithHeartbeatInterval(15*time.Millisecond))
	require.NoError(t, s.RegisterCapabilities(b))

	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	httpClient := srv.Client()
	httpClient.Timeout = 2 * time.Second
	resp, err := httpClient.Get(srv.URL + "/stream/t-hb")
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	_, _, _ = readSSE(t, reader) // start

	_, _, heartbeat := readSSE(t, reader)
	assert.True(t, heartbeat, "expected a heartbeat comment while the stream is idle")
}

func TestHandleHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
