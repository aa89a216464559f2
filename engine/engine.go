// Copyright 2018 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package engine delivers batches of documents to a cluster, failing over between nodes and
// reconnecting after cluster-wide outages.
//
// A Submit call tries the nodes round-robin, starting at the last node that answered. A failed
// node is followed immediately by the next one. Once every node in a round has failed, the engine
// waits a fixed interval and starts a new round at node 0, up to the reconnection policy count.
// A batch that exhausts all rounds is Abandoned. A node that answers ends the loop: its verdict
// is final, and documents it rejects are reported, not retried.
package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GoogleCloudPlatform/esagent/clock"
	"github.com/GoogleCloudPlatform/esagent/document"
	"github.com/GoogleCloudPlatform/esagent/stats"
	"github.com/GoogleCloudPlatform/esagent/transport"
	"github.com/cenkalti/backoff/v4"
	"github.com/golang/glog"
	"github.com/google/uuid"
)

const (
	DefaultReconnectionPolicyCount = 3
	DefaultReconnectionInterval    = 1 * time.Second
)

// ErrNoNodes is returned by New when the client has no nodes.
var ErrNoNodes = errors.New("engine: no nodes configured")

var errRoundFailed = errors.New("all nodes failed")

// Option configures an Engine.
type Option func(*Engine)

// WithReconnectionPolicyCount sets the number of reconnection rounds tried after every node
// failed, before a batch is abandoned.
func WithReconnectionPolicyCount(n int) Option {
	return func(e *Engine) { e.reconnectionCount = n }
}

// WithReconnectionInterval sets the wait between reconnection rounds.
func WithReconnectionInterval(d time.Duration) Option {
	return func(e *Engine) { e.interval = d }
}

// WithClock sets the clock used for reconnection waits.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithRecorder sets the recorder that receives counter updates.
func WithRecorder(r stats.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithIndexCreation enables or disables creating missing target indices before a bulk request.
func WithIndexCreation(enabled bool) Option {
	return func(e *Engine) { e.createIndices = enabled }
}

// Engine submits batches through a transport.Client. Submit calls are serialized; Snapshot may be
// called concurrently.
type Engine struct {
	client            transport.Client
	numNodes          int
	reconnectionCount int
	interval          time.Duration
	clock             clock.Clock
	recorder          stats.Recorder
	createIndices     bool

	// sendMutex serializes Submit and guards lastGood and known.
	sendMutex sync.Mutex
	lastGood  int
	known     map[string]bool

	statsMutex sync.Mutex
	counters   stats.Snapshot
}

// New creates an Engine for client. It returns ErrNoNodes if the client has no nodes.
func New(client transport.Client, opts ...Option) (*Engine, error) {
	e := &Engine{
		client:            client,
		numNodes:          len(client.Nodes()),
		reconnectionCount: DefaultReconnectionPolicyCount,
		interval:          DefaultReconnectionInterval,
		clock:             clock.NewClock(),
		recorder:          stats.NewNoopRecorder(),
		createIndices:     true,
		known:             make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.numNodes == 0 {
		return nil, ErrNoNodes
	}
	if e.reconnectionCount < 0 {
		return nil, fmt.Errorf("engine: negative reconnection policy count: %v", e.reconnectionCount)
	}
	// The client is assumed reachable until an attempt says otherwise.
	e.counters.Connected = true
	e.recorder.Record(e.counters)
	return e, nil
}

// Submit delivers docs and blocks until the outcome is known, including any reconnection waits.
// An empty docs slice is Delivered without contacting the cluster.
func (e *Engine) Submit(docs []document.Document) Outcome {
	if len(docs) == 0 {
		return Outcome{Status: Delivered}
	}
	e.sendMutex.Lock()
	defer e.sendMutex.Unlock()

	opaqueId := uuid.New().String()
	var resp *transport.BulkResponse
	attempts, reconnects := 0, 0
	start := e.lastGood

	round := func() error {
		for i := 0; i < e.numNodes; i++ {
			node := (start + i) % e.numNodes
			r, err := e.attempt(node, docs, opaqueId)
			attempts++
			if err != nil {
				e.update(func(s *stats.Snapshot) { s.Connected = false })
				glog.Warningf("Engine.Submit [%v]: attempt %v failed: %v", opaqueId, attempts, err)
				continue
			}
			e.lastGood = node
			resp = r
			e.update(func(s *stats.Snapshot) { s.Connected = true })
			return nil
		}
		// Reconnection rounds always start over at the first node.
		start = 0
		return errRoundFailed
	}

	notify := func(err error, wait time.Duration) {
		reconnects++
		e.update(func(s *stats.Snapshot) { s.Reconnections++ })
		glog.Warningf("Engine.Submit [%v]: %v after %v attempts; reconnect %v of %v in %v",
			opaqueId, err, attempts, reconnects, e.reconnectionCount, wait)
	}

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(e.interval), uint64(e.reconnectionCount))
	if err := backoff.RetryNotifyWithTimer(round, policy, notify, newClockTimer(e.clock)); err != nil {
		e.update(func(s *stats.Snapshot) {
			s.FailedRequests++
			s.FailedDocuments += int64(len(docs))
		})
		glog.Errorf("Engine.Submit [%v]: giving up after %v attempts; %v documents not delivered", opaqueId, attempts, len(docs))
		return Outcome{Status: Abandoned, Failed: len(docs), Attempts: attempts, Reconnections: reconnects}
	}

	out := e.classify(docs, resp, opaqueId)
	out.Attempts = attempts
	out.Reconnections = reconnects
	return out
}

// attempt sends docs to node, first creating unknown target indices if enabled. A non-nil error
// means the node was unreachable.
func (e *Engine) attempt(node int, docs []document.Document, opaqueId string) (*transport.BulkResponse, error) {
	if e.createIndices {
		for _, index := range e.unknownIndices(docs) {
			ok, err := e.client.EnsureIndex(node, index)
			if err != nil {
				return nil, err
			}
			if ok {
				e.known[index] = true
			}
		}
	}
	return e.client.Bulk(node, docs, opaqueId)
}

func (e *Engine) unknownIndices(docs []document.Document) []string {
	var indices []string
	seen := make(map[string]bool)
	for _, d := range docs {
		if e.known[d.Index] || seen[d.Index] {
			continue
		}
		seen[d.Index] = true
		indices = append(indices, d.Index)
	}
	return indices
}

// classify turns a node's response into an Outcome and updates the counters.
func (e *Engine) classify(docs []document.Document, resp *transport.BulkResponse, opaqueId string) Outcome {
	n := len(docs)
	if resp.Succeeded() {
		now := e.clock.Now()
		e.update(func(s *stats.Snapshot) {
			s.BulkRequests++
			s.Inserts += int64(n)
			s.LastSuccess = now
		})
		glog.V(1).Infof("Engine.Submit [%v]: delivered %v documents", opaqueId, n)
		return Outcome{Status: Delivered, Inserted: n}
	}

	out := Outcome{Status: PartiallyFailed}
	if len(resp.Items) == 0 {
		// The request as a whole was rejected.
		for i, d := range docs {
			out.FailedItems = append(out.FailedItems, ItemFailure{Position: i, Document: d, Reason: resp.ErrorMessage})
		}
		out.Failed = n
		e.update(func(s *stats.Snapshot) {
			if !resp.NotSent {
				s.BulkRequests++
			}
			s.FailedRequests++
			s.FailedDocuments += int64(n)
		})
		glog.Errorf("Engine.Submit [%v]: bulk request of %v documents failed: %v", opaqueId, n, resp.ErrorMessage)
		return out
	}

	for i, d := range docs {
		if i >= len(resp.Items) {
			out.FailedItems = append(out.FailedItems, ItemFailure{Position: i, Document: d, Reason: "no result in bulk response"})
			continue
		}
		if item := resp.Items[i]; item.Failed() {
			reason := item.Error
			if reason == "" {
				reason = fmt.Sprintf("status %v", item.Status)
			}
			out.FailedItems = append(out.FailedItems, ItemFailure{Position: i, Document: d, Reason: reason})
			glog.Errorf("Engine.Submit [%v]: item %v (index %v, id %q) failed: %v", opaqueId, i, d.Index, d.Id, reason)
		}
	}
	out.Failed = len(out.FailedItems)
	out.Inserted = n - out.Failed
	if out.Failed == 0 {
		out.Status = Delivered
	}

	now := e.clock.Now()
	e.update(func(s *stats.Snapshot) {
		s.BulkRequests++
		s.Inserts += int64(out.Inserted)
		s.FailedDocuments += int64(out.Failed)
		if out.Failed == 0 {
			s.LastSuccess = now
		}
	})
	if out.Failed > 0 {
		glog.Errorf("Engine.Submit [%v]: total items = %v, failed = %v", opaqueId, n, out.Failed)
	}
	return out
}

// ResetTransient forgets per-attempt state: the set of indices known to exist. Counters and the
// last known good node are kept.
func (e *Engine) ResetTransient() {
	e.sendMutex.Lock()
	defer e.sendMutex.Unlock()
	e.known = make(map[string]bool)
}

// Snapshot returns the current counters.
func (e *Engine) Snapshot() stats.Snapshot {
	e.statsMutex.Lock()
	defer e.statsMutex.Unlock()
	return e.counters
}

// NumNodes returns the number of configured nodes.
func (e *Engine) NumNodes() int {
	return e.numNodes
}

// Close closes the underlying client. It waits for an in-flight Submit to finish.
func (e *Engine) Close() error {
	e.sendMutex.Lock()
	defer e.sendMutex.Unlock()
	return e.client.Close()
}

func (e *Engine) update(f func(*stats.Snapshot)) {
	e.statsMutex.Lock()
	f(&e.counters)
	snap := e.counters
	e.statsMutex.Unlock()
	e.recorder.Record(snap)
}

// clockTimer adapts a clock.Clock to backoff.Timer.
type clockTimer struct {
	clock clock.Clock
	timer clock.Timer
}

func newClockTimer(c clock.Clock) *clockTimer {
	return &clockTimer{clock: c, timer: clock.NewStoppedTimer()}
}

func (t *clockTimer) Start(d time.Duration) {
	t.timer.Stop()
	t.timer = t.clock.NewTimer(d)
}

func (t *clockTimer) Stop() {
	t.timer.Stop()
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.GetC()
}
