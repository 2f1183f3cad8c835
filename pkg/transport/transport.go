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

// Package transport implements the HTTP ingress and the SSE fan-out
// from a task's output to its single subscriber. It is the only
// component that speaks HTTP; everything else reaches it through the
// bus (task:spawn, task:send) or is reached by it (shell:send).
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kpcore/agentrt/pkg/bus"
)

const heartbeatInterval = 30 * time.Second

// Server is the streaming transport: HTTP ingress plus the per-task
// subscriber table that fans out shell:send calls as SSE events.
type Server struct {
	bus  *bus.Bus
	subs *subscriberTable

	addr       string
	httpServer *http.Server

	heartbeat time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithPrometheusRegisterer registers the transport's subscriber-gauge
// against reg. If omitted, the default global registerer is used.
func WithPrometheusRegisterer(reg prometheus.Registerer) Option {
	return func(s *Server) { s.subs = newSubscriberTable(reg) }
}

// WithHeartbeatInterval overrides the default 30s heartbeat cadence,
// for tests.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(s *Server) { s.heartbeat = d }
}

// New creates a transport bound to addr (host:port). Call
// RegisterCapabilities separately so assembly controls wiring order.
func New(b *bus.Bus, addr string, opts ...Option) *Server {
	s := &Server{bus: b, addr: addr, heartbeat: heartbeatInterval}
	for _, opt := range opts {
		opt(s)
	}
	if s.subs == nil {
		s.subs = newSubscriberTable(prometheus.DefaultRegisterer)
	}
	return s
}

type shellSendInput struct {
	Content   string `mapstructure:"content"`
	MessageID string `mapstructure:"messageId"`
	Index     int    `mapstructure:"index"`
}

// RegisterCapabilities registers shell:send on b. The callerId of the
// invocation is taken as the implicit taskId, per spec.md §4.4.
func (s *Server) RegisterCapabilities(b *bus.Bus) error {
	return b.Register(bus.Descriptor{
		ID:          "shell:send",
		Description: "Relay one content chunk to a task's stream subscriber, if any.",
		InputSchema: bus.ReflectSchema(shellSendInput{}),
	}, s.handleShellSend, func() any { return &shellSendInput{} })
}

// RequiredIDs lists the capability ids RegisterCapabilities is expected
// to have registered.
func RequiredIDs() []string {
	return []string{"shell:send"}
}

func (s *Server) handleShellSend(callerID, _ string, rawInput any) (any, error) {
	in := rawInput.(*shellSendInput)
	taskID := callerID

	sub, ok := s.subs.get(taskID)
	if !ok {
		return map[string]any{"success": false, "error": fmt.Sprintf("no subscriber for task %s", taskID)}, nil
	}

	sub.enqueue(event{eventType: "content", data: map[string]any{
		"taskId":    taskID,
		"messageId": in.MessageID,
		"index":     in.Index,
		"content":   in.Content,
	}})
	if in.Index < 0 {
		sub.enqueue(event{eventType: "message_complete", data: map[string]any{
			"taskId":    taskID,
			"messageId": in.MessageID,
		}})
	}
	return map[string]any{"success": true}, nil
}

// Router builds the HTTP handler tree, exported separately from Start
// so tests can exercise it with httptest without binding a port.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/schema", s.handleSchema)
	r.Post("/send", s.handleSend)
	r.Get("/stream/{taskId}", s.handleStream)

	var handler http.Handler = r
	handler = s.loggingMiddleware(handler)
	handler = s.corsMiddleware(handler)
	return handler
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully. Mirrors the teacher's errCh + ctx.Done() select shape.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses must not be cut off
		IdleTimeout:  120 * time.Second,
	}

	slog.Info("transport starting", "address", s.addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	slog.Info("transport shutting down")
	return s.httpServer.Shutdown(shutdownCtx)
}

// corsMiddleware adds permissive CORS headers and answers preflight
// requests, matching the teacher's default-permissive dev CORS policy.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs requests without wrapping ResponseWriter, so
// http.Flusher survives for the SSE handler.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type sendRequest struct {
	Message string `json:"message"`
	TaskID  string `json:"taskId,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]apiError{"error": {Code: code, Message: message}})
}

// handleSend implements POST /send per spec.md §4.4/§6.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "invalid JSON body: "+err.Error())
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION", "message is required")
		return
	}

	var res bus.InvokeResult
	taskID := req.TaskID
	if taskID == "" {
		payload, _ := json.Marshal(map[string]any{"goal": req.Message})
		res = s.bus.Invoke("task:spawn", "", bus.SystemCaller, payload)
		if res.Outcome == bus.OutcomeSuccess {
			if out, ok := res.Result.(map[string]any); ok {
				taskID, _ = out["taskId"].(string)
			}
		}
	} else {
		payload, _ := json.Marshal(map[string]any{"receiverId": taskID, "message": req.Message})
		res = s.bus.Invoke("task:send", "", bus.SystemCaller, payload)
	}

	if res.Outcome != bus.OutcomeSuccess {
		writeError(w, http.StatusBadRequest, "SEND_FAILED", res.Err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"taskId": taskID, "status": "running"})
}

// handleStream implements GET /stream/{taskId} per spec.md §4.4.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION", "Missing taskId")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sub := s.subs.subscribe(taskID)
	defer s.subs.unsubscribe(sub)

	writeEvent(w, flusher, event{eventType: "start", data: map[string]any{"taskId": taskID}})

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case ev := <-sub.events:
			writeEvent(w, flusher, ev)
		case <-ticker.C:
			_, _ = fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case <-sub.closeCh:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, ev event) {
	data, err := json.Marshal(ev.data)
	if err != nil {
		slog.Error("failed to marshal SSE event", "eventType", ev.eventType, "error", err)
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.eventType, data)
	flusher.Flush()
}
