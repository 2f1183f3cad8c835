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

package bus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kpcore/agentrt/internal/obslog"
	"github.com/kpcore/agentrt/pkg/registry"
)

// CallLogEntry is one record of a completed or in-flight Invoke call.
type CallLogEntry struct {
	ID             string
	CallerID       string
	AbilityID      string
	TimestampStart time.Time
	DurationMs     int64
	Outcome        Outcome
	ErrorMsg       string
}

// InvokeResult is the return value of Invoke.
type InvokeResult struct {
	Outcome Outcome
	Result  any
	Err     string
}

// Bus is the capability registry and dispatcher.
type Bus struct {
	reg *registry.BaseTable[*Capability]

	logMu   sync.Mutex
	callLog []CallLogEntry

	metrics *metrics
}

type metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// Option configures a Bus.
type Option func(*Bus)

// WithPrometheusRegisterer registers the bus's call-outcome counters and
// duration histogram against the given registerer. If not supplied, the
// default global registerer is used.
func WithPrometheusRegisterer(reg prometheus.Registerer) Option {
	return func(b *Bus) {
		b.metrics = newMetrics(reg)
	}
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentrt_bus_calls_total",
			Help: "Total capability bus invocations by outcome.",
		}, []string{"ability", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentrt_bus_call_duration_seconds",
			Help:    "Capability bus invocation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"ability"}),
	}
	if reg != nil {
		// A registerer that already holds these collectors (a second Bus
		// on the same registerer) has its existing collectors reused.
		if err := reg.Register(m.calls); err != nil {
			are, ok := err.(prometheus.AlreadyRegisteredError)
			if !ok {
				panic(err)
			}
			m.calls = are.ExistingCollector.(*prometheus.CounterVec)
		}
		if err := reg.Register(m.duration); err != nil {
			are, ok := err.(prometheus.AlreadyRegisteredError)
			if !ok {
				panic(err)
			}
			m.duration = are.ExistingCollector.(*prometheus.HistogramVec)
		}
	}
	return m
}

// New creates a Bus and registers its own introspection capabilities.
func New(opts ...Option) *Bus {
	b := &Bus{
		reg: registry.NewBaseTable[*Capability](),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics == nil {
		b.metrics = newMetrics(prometheus.DefaultRegisterer)
	}
	b.registerIntrospection()
	return b
}

// Register adds a capability. It fails if the id is already registered.
func (b *Bus) Register(d Descriptor, h Handler, newInput func() any) error {
	module, name := SplitID(d.ID)
	d.Module = module
	d.Name = name
	cap := &Capability{Descriptor: d, Handler: h, NewInput: newInput}
	return b.reg.Register(d.ID, cap)
}

// Unregister removes a capability. Idempotent.
func (b *Bus) Unregister(id string) {
	_ = b.reg.Remove(id)
}

// Has reports whether id is currently registered.
func (b *Bus) Has(id string) bool {
	_, ok := b.reg.Get(id)
	return ok
}

// Invoke dispatches a call to abilityId on behalf of callerID. rawInput
// is the call's input in text (JSON) form. callID identifies this
// particular invocation for log correlation; callers may pass "" to have
// one generated.
func (b *Bus) Invoke(abilityID, callID, callerID string, rawInput []byte) InvokeResult {
	if callID == "" {
		callID = uuid.NewString()
	}
	start := time.Now()
	entry := CallLogEntry{
		ID:             callID,
		CallerID:       callerID,
		AbilityID:      abilityID,
		TimestampStart: start,
	}

	finalize := func(outcome Outcome, errMsg string) InvokeResult {
		durationMs := time.Since(start).Milliseconds()
		entry.DurationMs = durationMs
		entry.Outcome = outcome
		entry.ErrorMsg = errMsg
		b.appendLog(entry)
		b.metrics.calls.WithLabelValues(abilityID, string(outcome)).Inc()
		b.metrics.duration.WithLabelValues(abilityID).Observe(time.Since(start).Seconds())
		obslog.LogCall(callerID, abilityID, string(outcome), durationMs, errMsg)
		return InvokeResult{Outcome: outcome, Err: errMsg}
	}

	capv, ok := b.reg.Get(abilityID)
	if !ok {
		return finalize(OutcomeInvalidAbility, fmt.Sprintf("no capability registered for id %q", abilityID))
	}

	input, err := decodeInput(rawInput, capv.NewInput)
	if err != nil {
		return finalize(OutcomeInvalidInput, err.Error())
	}

	result, handlerErr := b.callHandler(capv.Handler, callerID, callID, input)
	if handlerErr != nil {
		if pe, ok := handlerErr.(*panicError); ok {
			return finalize(OutcomeUnknownFailure, pe.Error())
		}
		return finalize(OutcomeError, handlerErr.Error())
	}

	r := finalize(OutcomeSuccess, "")
	r.Result = result
	return r
}

func decodeInput(rawInput []byte, newInput func() any) (any, error) {
	if len(rawInput) == 0 {
		rawInput = []byte("{}")
	}
	var generic map[string]any
	if err := json.Unmarshal(rawInput, &generic); err != nil {
		return nil, fmt.Errorf("invalid JSON input: %w", err)
	}
	if newInput == nil {
		return generic, nil
	}
	target := newInput()
	if err := mapstructure.Decode(generic, target); err != nil {
		return nil, fmt.Errorf("input does not match schema: %w", err)
	}
	return target, nil
}

type panicError struct{ msg string }

func (p *panicError) Error() string { return p.msg }

// callHandler invokes h, converting any panic into an unknown-failure.
func (b *Bus) callHandler(h Handler, callerID, callID string, input any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("capability handler panicked", "callerId", callerID, "recovered", r)
			err = &panicError{msg: fmt.Sprintf("%v", r)}
		}
	}()
	return h(callerID, callID, input)
}

func (b *Bus) appendLog(e CallLogEntry) {
	b.logMu.Lock()
	defer b.logMu.Unlock()
	b.callLog = append(b.callLog, e)
}

// CallLog returns a snapshot of the call log.
func (b *Bus) CallLog() []CallLogEntry {
	b.logMu.Lock()
	defer b.logMu.Unlock()
	out := make([]CallLogEntry, len(b.callLog))
	copy(out, b.callLog)
	return out
}

// descriptors returns every registered descriptor, for introspection use.
func (b *Bus) descriptors() []Descriptor {
	caps := b.reg.List()
	out := make([]Descriptor, 0, len(caps))
	for _, c := range caps {
		out = append(out, c.Descriptor)
	}
	return out
}
