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

package testlib

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GoogleCloudPlatform/esagent/document"
	"github.com/GoogleCloudPlatform/esagent/stats"
	"github.com/GoogleCloudPlatform/esagent/transport"
)

// Type waitForCalls is a base type that provides a DoAndWait function.
type waitForCalls struct {
	calls    int32
	waitChan chan bool
}

// DoAndWait executes the given function and then waits until the total number of calls reaches the
// given value.
func (wfc *waitForCalls) DoAndWait(t *testing.T, calls int32, f func()) {
	f()
	for atomic.LoadInt32(&wfc.calls) < calls {
		select {
		case <-wfc.waitChan:
		case <-time.After(5 * time.Second):
			t.Fatal("DoAndWait: nothing happened after 5 seconds")
		}
	}
}

func (wfc *waitForCalls) called() {
	atomic.AddInt32(&wfc.calls, 1)
	select {
	case wfc.waitChan <- true:
	default:
	}
}

func (wfc *waitForCalls) Calls() int32 {
	return atomic.LoadInt32(&wfc.calls)
}

func (wfc *waitForCalls) wfcInit() {
	wfc.waitChan = make(chan bool, 100)
}

// errMockDown is the cause of the UnreachableError returned by a node marked down.
var errMockDown = errors.New("connection refused")

// BulkCall records one MockTransport.Bulk invocation.
type BulkCall struct {
	Node     int
	Docs     []document.Document
	OpaqueId string
	// Reached is false if the node was down.
	Reached bool
}

// EnsureCall records one MockTransport.EnsureIndex invocation.
type EnsureCall struct {
	Node  int
	Index string
}

// Responder produces the response of a reachable node to a bulk request.
type Responder func(node int, docs []document.Document) *transport.BulkResponse

// MockTransport is a mock transport.Client. Every node is reachable and indexes every document
// unless configured otherwise. Each Bulk call counts towards DoAndWait.
type MockTransport struct {
	waitForCalls
	mu          sync.Mutex
	nodes       []string
	down        map[int]bool
	respond     Responder
	refuseIndex map[string]bool
	bulkCalls   []BulkCall
	ensureCalls []EnsureCall
	closed      bool
	// block, if non-nil, is received from at the start of each Bulk call.
	block chan struct{}
}

// NewMockTransport creates a MockTransport with n nodes.
func NewMockTransport(n int) *MockTransport {
	mt := &MockTransport{
		down:        make(map[int]bool),
		refuseIndex: make(map[string]bool),
		respond:     AcceptAll,
	}
	for i := 0; i < n; i++ {
		mt.nodes = append(mt.nodes, fmt.Sprintf("http://node%d:9200", i))
	}
	mt.wfcInit()
	return mt
}

// AcceptAll is a Responder that indexes every document.
func AcceptAll(node int, docs []document.Document) *transport.BulkResponse {
	resp := &transport.BulkResponse{StatusCode: 200}
	for _, d := range docs {
		resp.Items = append(resp.Items, transport.ItemResult{Index: d.Index, Id: d.Id, Status: 201})
	}
	return resp
}

// RejectIds returns a Responder that fails documents with the given ids with a version conflict
// and indexes the rest.
func RejectIds(ids ...string) Responder {
	reject := make(map[string]bool)
	for _, id := range ids {
		reject[id] = true
	}
	return func(node int, docs []document.Document) *transport.BulkResponse {
		resp := &transport.BulkResponse{StatusCode: 200}
		for _, d := range docs {
			item := transport.ItemResult{Index: d.Index, Id: d.Id, Status: 201}
			if reject[d.Id] {
				item.Status = 409
				item.Error = "version_conflict_engine_exception: document already exists"
				resp.Errors = true
			}
			resp.Items = append(resp.Items, item)
		}
		return resp
	}
}

// RejectRequest returns a Responder that rejects the whole request with the given status.
func RejectRequest(status int, message string) Responder {
	return func(node int, docs []document.Document) *transport.BulkResponse {
		return &transport.BulkResponse{StatusCode: status, Errors: true, ErrorMessage: message}
	}
}

func (mt *MockTransport) Nodes() []string {
	return mt.nodes
}

func (mt *MockTransport) Bulk(node int, docs []document.Document, opaqueId string) (*transport.BulkResponse, error) {
	mt.mu.Lock()
	block := mt.block
	mt.mu.Unlock()
	if block != nil {
		<-block
	}

	mt.mu.Lock()
	down := mt.down[node]
	copied := append([]document.Document(nil), docs...)
	mt.bulkCalls = append(mt.bulkCalls, BulkCall{Node: node, Docs: copied, OpaqueId: opaqueId, Reached: !down})
	respond := mt.respond
	mt.mu.Unlock()
	defer mt.called()

	if down {
		return nil, &transport.UnreachableError{Node: mt.nodes[node], Err: errMockDown}
	}
	return respond(node, docs), nil
}

func (mt *MockTransport) EnsureIndex(node int, index string) (bool, error) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.ensureCalls = append(mt.ensureCalls, EnsureCall{Node: node, Index: index})
	if mt.down[node] {
		return false, &transport.UnreachableError{Node: mt.nodes[node], Err: errMockDown}
	}
	return !mt.refuseIndex[index], nil
}

func (mt *MockTransport) Close() error {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.closed = true
	return nil
}

// SetDown marks the given node unreachable (or reachable again).
func (mt *MockTransport) SetDown(node int, down bool) {
	mt.mu.Lock()
	mt.down[node] = down
	mt.mu.Unlock()
}

// SetAllDown marks every node unreachable (or reachable again).
func (mt *MockTransport) SetAllDown(down bool) {
	mt.mu.Lock()
	for i := range mt.nodes {
		mt.down[i] = down
	}
	mt.mu.Unlock()
}

// SetResponder sets the responder used by reachable nodes.
func (mt *MockTransport) SetResponder(r Responder) {
	mt.mu.Lock()
	mt.respond = r
	mt.mu.Unlock()
}

// RefuseIndex makes EnsureIndex report that index could not be created.
func (mt *MockTransport) RefuseIndex(index string) {
	mt.mu.Lock()
	mt.refuseIndex[index] = true
	mt.mu.Unlock()
}

// Block makes subsequent Bulk calls wait until Unblock is called.
func (mt *MockTransport) Block() {
	mt.mu.Lock()
	mt.block = make(chan struct{})
	mt.mu.Unlock()
}

// Unblock releases Bulk calls waiting after Block.
func (mt *MockTransport) Unblock() {
	mt.mu.Lock()
	if mt.block != nil {
		close(mt.block)
		mt.block = nil
	}
	mt.mu.Unlock()
}

// BulkCalls returns the recorded Bulk calls, in order.
func (mt *MockTransport) BulkCalls() []BulkCall {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return append([]BulkCall(nil), mt.bulkCalls...)
}

// EnsureCalls returns the recorded EnsureIndex calls, in order.
func (mt *MockTransport) EnsureCalls() []EnsureCall {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return append([]EnsureCall(nil), mt.ensureCalls...)
}

// Closed returns true if Close was called.
func (mt *MockTransport) Closed() bool {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return mt.closed
}

// Type MockRecorder is a stats.Recorder that keeps every snapshot it receives.
type MockRecorder struct {
	waitForCalls
	mu        sync.RWMutex
	snapshots []stats.Snapshot
}

func (r *MockRecorder) Record(s stats.Snapshot) {
	r.mu.Lock()
	r.snapshots = append(r.snapshots, s)
	r.mu.Unlock()
	r.called()
}

// Snapshots returns every recorded snapshot, in order.
func (r *MockRecorder) Snapshots() []stats.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]stats.Snapshot(nil), r.snapshots...)
}

// Latest returns the most recent snapshot, or the zero value if none was recorded.
func (r *MockRecorder) Latest() stats.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.snapshots) == 0 {
		return stats.Snapshot{}
	}
	return r.snapshots[len(r.snapshots)-1]
}

func NewMockRecorder() *MockRecorder {
	r := &MockRecorder{}
	r.wfcInit()
	return r
}
