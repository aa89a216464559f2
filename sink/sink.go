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

// Package sink buffers documents and hands them to a delivery engine in batches. A Sink sends when
// its buffer reaches the batch size, at the end of the stream, or when a replay coordinator asks
// for a drain. In consistent mode the size trigger is off and only Drain and Finish send.
package sink

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/GoogleCloudPlatform/esagent/clock"
	"github.com/GoogleCloudPlatform/esagent/deadletter"
	"github.com/GoogleCloudPlatform/esagent/document"
	"github.com/GoogleCloudPlatform/esagent/engine"
	"github.com/GoogleCloudPlatform/esagent/stats"
	"github.com/golang/glog"
	"github.com/hashicorp/go-multierror"
)

var (
	// ErrClosed is returned by operations on a closed Sink.
	ErrClosed = errors.New("sink: closed")

	// ErrAbandoned is returned by Drain when the engine gave up on the drained batch.
	ErrAbandoned = errors.New("sink: batch abandoned")

	// ErrNotDrained is returned by Checkpoint when buffered documents were not delivered.
	ErrNotDrained = errors.New("sink: not drained")
)

// State is the lifecycle state of a Sink.
type State int32

const (
	// Idle means the sink is accepting documents.
	Idle State = iota

	// Draining means a batch is being sent.
	Draining
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Draining:
		return "Draining"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Engine delivers batches. It is implemented by *engine.Engine.
type Engine interface {
	Submit(docs []document.Document) engine.Outcome
	ResetTransient()
	Snapshot() stats.Snapshot
	Close() error
}

// Option configures a Sink.
type Option func(*Sink)

// WithBatchSize sets the number of buffered documents that triggers a send. Values below 1 are
// treated as 1.
func WithBatchSize(n int) Option {
	return func(s *Sink) {
		if n < 1 {
			n = 1
		}
		s.batchSize = n
	}
}

// WithConsistent turns off the batch size trigger. Documents are only sent by Drain and Finish.
func WithConsistent(consistent bool) Option {
	return func(s *Sink) { s.consistent = consistent }
}

// WithDeadLetters sets a store that receives abandoned batches and rejected documents.
func WithDeadLetters(store deadletter.Store) Option {
	return func(s *Sink) { s.deadLetters = store }
}

// WithClock sets the clock that timestamps dead-letter entries.
func WithClock(c clock.Clock) Option {
	return func(s *Sink) { s.clock = c }
}

// Sink is the ingestion side of delivery. Append, Drain, Checkpoint and Reset may be called from
// multiple goroutines; they are serialized, so a send and an append never overlap.
type Sink struct {
	engine      Engine
	batchSize   int
	consistent  bool
	deadLetters deadletter.Store
	clock       clock.Clock

	// mutex guards the fields below and is held for the duration of every send.
	mutex          sync.Mutex
	batch          *document.Batch
	abandoned      bool
	closed         bool
	lastCheckpoint int64
	last           engine.Outcome

	state int32
}

// New creates a Sink that sends through e.
func New(e Engine, opts ...Option) *Sink {
	s := &Sink{engine: e, batchSize: 1, clock: clock.NewClock()}
	for _, opt := range opts {
		opt(s)
	}
	s.batch = document.NewBatch(s.batchSize)
	return s
}

// Append buffers doc. Unless the sink is consistent, a buffer that reached the batch size is sent
// before Append returns. Delivery failures are not returned; they show up in the engine's counters.
func (s *Sink) Append(doc document.Document) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.batch.Append(doc)
	if !s.consistent && s.batch.Size() >= s.batchSize {
		s.send()
	}
	return nil
}

// Drain sends every buffered document and waits for the outcome. An empty buffer is a no-op. If
// the engine abandons the batch, Drain returns an error wrapping ErrAbandoned and Checkpoint fails
// until the next Reset. The buffer is empty afterwards in every case.
func (s *Sink) Drain() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.drain()
}

// Assumes s.mutex is held.
func (s *Sink) drain() error {
	if s.batch.IsEmpty() {
		return nil
	}
	out := s.send()
	if out.Status == engine.Abandoned {
		s.abandoned = true
		return fmt.Errorf("%w: %v documents after %v attempts", ErrAbandoned, out.Failed, out.Attempts)
	}
	return nil
}

// Checkpoint marks a consistency boundary. Nothing is persisted: a preceding Drain leaves the
// buffer empty. Checkpoint fails with ErrNotDrained if documents are buffered or if a drain since
// the last reset abandoned its batch.
func (s *Sink) Checkpoint(id int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.batch.IsEmpty() {
		return fmt.Errorf("%w: %v documents buffered at checkpoint %v", ErrNotDrained, s.batch.Size(), id)
	}
	if s.abandoned {
		return fmt.Errorf("%w: a batch was abandoned before checkpoint %v", ErrNotDrained, id)
	}
	s.lastCheckpoint = id
	glog.V(1).Infof("Sink: checkpoint %v", id)
	return nil
}

// Reset discards buffered documents and clears transient delivery state after the coordinator
// rolled back to checkpoint id. Documents already sent stay sent.
func (s *Sink) Reset(id int64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.reset()
	s.lastCheckpoint = id
	glog.Infof("Sink: reset to checkpoint %v", id)
}

// ResetToInitial is Reset to the beginning of the stream.
func (s *Sink) ResetToInitial() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.reset()
	s.lastCheckpoint = 0
	glog.Infof("Sink: reset to initial state")
}

// Assumes s.mutex is held.
func (s *Sink) reset() {
	if n := s.batch.Size(); n > 0 {
		glog.Infof("Sink: discarding %v buffered documents", n)
	}
	s.batch.Clear()
	s.abandoned = false
	s.engine.ResetTransient()
	atomic.StoreInt32(&s.state, int32(Idle))
}

// Finish signals the end of the stream: buffered documents are sent.
func (s *Sink) Finish() error {
	return s.Drain()
}

// Close waits for an in-flight send, sends remaining documents, and releases the engine and the
// dead-letter store. Operations after Close return ErrClosed.
func (s *Sink) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return nil
	}
	var result *multierror.Error
	if err := s.drain(); err != nil {
		result = multierror.Append(result, err)
	}
	s.closed = true
	if err := s.engine.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if s.deadLetters != nil {
		if err := s.deadLetters.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// State returns the current state.
func (s *Sink) State() State {
	return State(atomic.LoadInt32(&s.state))
}

// Buffered returns the number of documents waiting to be sent.
func (s *Sink) Buffered() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.batch.Size()
}

// LastCheckpoint returns the id of the last successful checkpoint or reset.
func (s *Sink) LastCheckpoint() int64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.lastCheckpoint
}

// LastOutcome returns the outcome of the most recent send.
func (s *Sink) LastOutcome() engine.Outcome {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.last
}

// Snapshot returns the engine's cumulative counters.
func (s *Sink) Snapshot() stats.Snapshot {
	return s.engine.Snapshot()
}

// send drains the buffer and submits its documents. Assumes s.mutex is held.
func (s *Sink) send() engine.Outcome {
	atomic.StoreInt32(&s.state, int32(Draining))
	defer atomic.StoreInt32(&s.state, int32(Idle))

	docs := s.batch.Drain()
	out := s.engine.Submit(docs)
	s.last = out
	glog.V(1).Infof("Sink: sent %v documents: %v", len(docs), out)
	s.deadLetter(docs, out)
	return out
}

func (s *Sink) deadLetter(docs []document.Document, out engine.Outcome) {
	if s.deadLetters == nil {
		return
	}
	now := s.clock.Now()
	var entries []deadletter.Entry
	switch out.Status {
	case engine.Abandoned:
		entries = append(entries, deadletter.Entry{Reason: ErrAbandoned.Error(), Documents: docs})
	case engine.PartiallyFailed:
		for _, f := range out.FailedItems {
			entries = append(entries, deadletter.Entry{Reason: f.Reason, Documents: []document.Document{f.Document}})
		}
	}
	for _, e := range entries {
		e.Time = now
		if err := s.deadLetters.Add(e); err != nil {
			glog.Errorf("Sink: dead-lettering %v documents: %v", len(e.Documents), err)
		}
	}
}
