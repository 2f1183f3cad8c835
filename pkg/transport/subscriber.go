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

package transport

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// subscriberBufferSize bounds each subscriber's event channel. A slow
// consumer drops its oldest buffered event rather than blocking the
// task that's trying to relay content through it (spec's "pick one and
// document it" backpressure clause).
const subscriberBufferSize = 64

// event is one record destined for a subscriber's SSE stream.
type event struct {
	eventType string
	data      any
}

// subscriber is the single active consumer of one task's output stream.
type subscriber struct {
	taskID  string
	events  chan event
	closeCh chan struct{}
	once    sync.Once
}

func newSubscriber(taskID string) *subscriber {
	return &subscriber{
		taskID:  taskID,
		events:  make(chan event, subscriberBufferSize),
		closeCh: make(chan struct{}),
	}
}

// enqueue delivers ev, dropping the oldest buffered event if the channel
// is full instead of blocking the caller.
func (s *subscriber) enqueue(ev event) {
	select {
	case s.events <- ev:
		return
	default:
	}
	select {
	case <-s.events:
		slog.Warn("subscriber buffer full, dropped oldest event", "taskId", s.taskID)
	default:
	}
	select {
	case s.events <- ev:
	default:
		slog.Warn("subscriber buffer full, dropped event", "taskId", s.taskID, "eventType", ev.eventType)
	}
}

// closeForReplace signals a subscriber that a newer one has taken its
// place; its stream handler returns without touching the table.
func (s *subscriber) closeForReplace() {
	s.once.Do(func() { close(s.closeCh) })
}

// subscriberTable is the process-wide taskId -> subscriber mapping. At
// most one subscriber per task; subscribing again replaces the
// previous one (the older stream is closed), per DESIGN.md's Open
// Question decision.
type subscriberTable struct {
	mu    sync.Mutex
	subs  map[string]*subscriber
	gauge prometheus.Gauge
}

func newSubscriberTable(reg prometheus.Registerer) *subscriberTable {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "agentrt_transport_active_subscribers",
		Help: "Number of tasks with an active stream subscriber.",
	})
	if reg != nil {
		reg.MustRegister(gauge)
	}
	return &subscriberTable{subs: make(map[string]*subscriber), gauge: gauge}
}

// subscribe registers a new subscriber for taskID, replacing and
// closing any previous one.
func (t *subscriberTable) subscribe(taskID string) *subscriber {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.subs[taskID]; ok {
		old.closeForReplace()
	} else {
		t.gauge.Inc()
	}
	sub := newSubscriber(taskID)
	t.subs[taskID] = sub
	return sub
}

// unsubscribe removes sub from the table if it is still the current
// subscriber for its task (a replaced subscriber must not evict its
// replacement on exit).
func (t *subscriberTable) unsubscribe(sub *subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.subs[sub.taskID]; ok && cur == sub {
		delete(t.subs, sub.taskID)
		t.gauge.Dec()
	}
}

func (t *subscriberTable) get(taskID string) (*subscriber, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sub, ok := t.subs[taskID]
	return sub, ok
}
