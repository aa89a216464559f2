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

package sink_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/GoogleCloudPlatform/esagent/deadletter"
	"github.com/GoogleCloudPlatform/esagent/document"
	"github.com/GoogleCloudPlatform/esagent/engine"
	"github.com/GoogleCloudPlatform/esagent/sink"
	"github.com/GoogleCloudPlatform/esagent/testlib"
)

func doc(id string) document.Document {
	return document.New([]byte(fmt.Sprintf(`{"id":%q}`, id)), "logs", "", id)
}

func newSink(t *testing.T, mt *testlib.MockTransport, opts ...sink.Option) *sink.Sink {
	e, err := engine.New(mt,
		engine.WithClock(testlib.NewMockClock()),
		engine.WithReconnectionInterval(0),
		engine.WithReconnectionPolicyCount(0),
		engine.WithIndexCreation(false))
	if err != nil {
		t.Fatalf("engine.New: unexpected error: %+v", err)
	}
	return sink.New(e, opts...)
}

func waitForState(t *testing.T, s *sink.Sink, want sink.State) {
	for i := 0; i < 5000; i++ {
		if s.State() == want {
			return
		}
		time.Sleep(1 * time.Millisecond)
	}
	t.Fatalf("waitForState: state is %v, want %v", s.State(), want)
}

func TestThreshold(t *testing.T) {
	t.Run("Below threshold", func(t *testing.T) {
		mt := testlib.NewMockTransport(1)
		s := newSink(t, mt, sink.WithBatchSize(3))
		s.Append(doc("a"))
		s.Append(doc("b"))
		if n := len(mt.BulkCalls()); n != 0 {
			t.Fatalf("expected no send below threshold, got %v", n)
		}
		if want, got := 2, s.Buffered(); want != got {
			t.Fatalf("Buffered: want=%v, got=%v", want, got)
		}
	})

	t.Run("At threshold", func(t *testing.T) {
		mt := testlib.NewMockTransport(1)
		s := newSink(t, mt, sink.WithBatchSize(3))
		for _, id := range []string{"a", "b", "c"} {
			if err := s.Append(doc(id)); err != nil {
				t.Fatalf("Append: unexpected error: %+v", err)
			}
		}
		calls := mt.BulkCalls()
		if len(calls) != 1 {
			t.Fatalf("expected exactly one send, got %v", len(calls))
		}
		if want, got := 3, len(calls[0].Docs); want != got {
			t.Fatalf("sent documents: want=%v, got=%v", want, got)
		}
		if want, got := 0, s.Buffered(); want != got {
			t.Fatalf("Buffered: want=%v, got=%v", want, got)
		}
		if want, got := int64(3), s.Snapshot().Inserts; want != got {
			t.Fatalf("Inserts: want=%v, got=%v", want, got)
		}
	})

	t.Run("Consistent mode", func(t *testing.T) {
		mt := testlib.NewMockTransport(1)
		s := newSink(t, mt, sink.WithBatchSize(1), sink.WithConsistent(true))
		for _, id := range []string{"a", "b", "c", "d", "e"} {
			s.Append(doc(id))
		}
		if n := len(mt.BulkCalls()); n != 0 {
			t.Fatalf("expected no threshold send in consistent mode, got %v", n)
		}
		if err := s.Drain(); err != nil {
			t.Fatalf("Drain: unexpected error: %+v", err)
		}
		calls := mt.BulkCalls()
		if len(calls) != 1 || len(calls[0].Docs) != 5 {
			t.Fatalf("expected one send of 5 documents, got %+v", calls)
		}
	})

	t.Run("Batch size below 1", func(t *testing.T) {
		mt := testlib.NewMockTransport(1)
		s := newSink(t, mt, sink.WithBatchSize(0))
		s.Append(doc("a"))
		if n := len(mt.BulkCalls()); n != 1 {
			t.Fatalf("expected one send, got %v", n)
		}
	})
}

func TestDrain(t *testing.T) {
	t.Run("Round trip", func(t *testing.T) {
		mt := testlib.NewMockTransport(1)
		s := newSink(t, mt, sink.WithBatchSize(10))
		s.Append(doc("a"))
		if err := s.Drain(); err != nil {
			t.Fatalf("Drain: unexpected error: %+v", err)
		}
		out := s.LastOutcome()
		if out.Status != engine.Delivered || out.Inserted != 1 {
			t.Fatalf("unexpected outcome: %+v", out)
		}
		if s.Buffered() != 0 {
			t.Fatal("expected an empty buffer")
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		mt := testlib.NewMockTransport(1)
		s := newSink(t, mt, sink.WithBatchSize(10))
		s.Append(doc("a"))
		s.Drain()
		s.Drain()
		if want, got := 1, len(mt.BulkCalls()); want != got {
			t.Fatalf("bulk calls: want=%v, got=%v", want, got)
		}
	})

	t.Run("Finish", func(t *testing.T) {
		mt := testlib.NewMockTransport(1)
		s := newSink(t, mt, sink.WithBatchSize(10))
		s.Append(doc("a"))
		s.Append(doc("b"))
		if err := s.Finish(); err != nil {
			t.Fatalf("Finish: unexpected error: %+v", err)
		}
		if want, got := 1, len(mt.BulkCalls()); want != got {
			t.Fatalf("bulk calls: want=%v, got=%v", want, got)
		}
	})

	t.Run("Partial failure is not an error", func(t *testing.T) {
		mt := testlib.NewMockTransport(1)
		mt.SetResponder(testlib.RejectIds("b"))
		s := newSink(t, mt, sink.WithBatchSize(10))
		s.Append(doc("a"))
		s.Append(doc("b"))
		if err := s.Drain(); err != nil {
			t.Fatalf("Drain: unexpected error: %+v", err)
		}
		if err := s.Checkpoint(1); err != nil {
			t.Fatalf("Checkpoint: unexpected error: %+v", err)
		}
	})
}

func TestAbandonedDrain(t *testing.T) {
	mt := testlib.NewMockTransport(2)
	s := newSink(t, mt, sink.WithBatchSize(10))
	mt.SetAllDown(true)
	s.Append(doc("a"))

	err := s.Drain()
	if !errors.Is(err, sink.ErrAbandoned) {
		t.Fatalf("Drain: expected ErrAbandoned, got: %+v", err)
	}
	if s.Buffered() != 0 {
		t.Fatal("expected the buffer to be cleared")
	}
	if err := s.Checkpoint(1); !errors.Is(err, sink.ErrNotDrained) {
		t.Fatalf("Checkpoint: expected ErrNotDrained, got: %+v", err)
	}

	// A reset unblocks checkpoints.
	mt.SetAllDown(false)
	s.Reset(0)
	if err := s.Checkpoint(1); err != nil {
		t.Fatalf("Checkpoint after Reset: unexpected error: %+v", err)
	}
	if want, got := int64(1), s.LastCheckpoint(); want != got {
		t.Fatalf("LastCheckpoint: want=%v, got=%v", want, got)
	}
}

func TestCheckpoint(t *testing.T) {
	mt := testlib.NewMockTransport(1)
	s := newSink(t, mt, sink.WithConsistent(true))
	s.Append(doc("a"))
	if err := s.Checkpoint(7); !errors.Is(err, sink.ErrNotDrained) {
		t.Fatalf("Checkpoint with buffered documents: expected ErrNotDrained, got: %+v", err)
	}
	s.Drain()
	if err := s.Checkpoint(7); err != nil {
		t.Fatalf("Checkpoint: unexpected error: %+v", err)
	}
	if want, got := int64(7), s.LastCheckpoint(); want != got {
		t.Fatalf("LastCheckpoint: want=%v, got=%v", want, got)
	}
}

func TestReset(t *testing.T) {
	t.Run("Reset", func(t *testing.T) {
		mt := testlib.NewMockTransport(1)
		s := newSink(t, mt, sink.WithBatchSize(10))
		s.Append(doc("d1"))
		s.Append(doc("d2"))
		s.Reset(3)
		if err := s.Drain(); err != nil {
			t.Fatalf("Drain: unexpected error: %+v", err)
		}
		if n := len(mt.BulkCalls()); n != 0 {
			t.Fatalf("expected reset documents to be discarded, got %v sends", n)
		}
		if want, got := int64(3), s.LastCheckpoint(); want != got {
			t.Fatalf("LastCheckpoint: want=%v, got=%v", want, got)
		}
	})

	t.Run("Reset to initial", func(t *testing.T) {
		mt := testlib.NewMockTransport(1)
		s := newSink(t, mt, sink.WithBatchSize(10))
		s.Append(doc("d1"))
		s.ResetToInitial()
		s.Drain()
		if n := len(mt.BulkCalls()); n != 0 {
			t.Fatalf("expected reset documents to be discarded, got %v sends", n)
		}
		if want, got := int64(0), s.LastCheckpoint(); want != got {
			t.Fatalf("LastCheckpoint: want=%v, got=%v", want, got)
		}
	})

	t.Run("Sent batches stay sent", func(t *testing.T) {
		mt := testlib.NewMockTransport(1)
		s := newSink(t, mt, sink.WithBatchSize(1))
		s.Append(doc("d1"))
		s.Reset(0)
		if want, got := int64(1), s.Snapshot().Inserts; want != got {
			t.Fatalf("Inserts: want=%v, got=%v", want, got)
		}
	})
}

func TestState(t *testing.T) {
	mt := testlib.NewMockTransport(1)
	s := newSink(t, mt, sink.WithBatchSize(10))
	if want, got := sink.Idle, s.State(); want != got {
		t.Fatalf("State: want=%v, got=%v", want, got)
	}
	s.Append(doc("a"))
	mt.Block()

	done := make(chan error, 1)
	go func() {
		done <- s.Drain()
	}()
	waitForState(t, s, sink.Draining)
	mt.DoAndWait(t, 1, mt.Unblock)
	if err := <-done; err != nil {
		t.Fatalf("Drain: unexpected error: %+v", err)
	}
	if want, got := sink.Idle, s.State(); want != got {
		t.Fatalf("State: want=%v, got=%v", want, got)
	}
}

func TestDeadLetters(t *testing.T) {
	t.Run("Abandoned", func(t *testing.T) {
		mt := testlib.NewMockTransport(1)
		store := deadletter.NewMemoryStore()
		s := newSink(t, mt, sink.WithBatchSize(10), sink.WithDeadLetters(store))
		mt.SetAllDown(true)
		s.Append(doc("a"))
		s.Append(doc("b"))
		s.Drain()

		e, err := store.Peek()
		if err != nil {
			t.Fatalf("Peek: unexpected error: %+v", err)
		}
		if want, got := 2, len(e.Documents); want != got {
			t.Fatalf("dead-lettered documents: want=%v, got=%v", want, got)
		}
		if n, _ := store.Len(); n != 1 {
			t.Fatalf("expected one entry, got %v", n)
		}
	})

	t.Run("Rejected items", func(t *testing.T) {
		mt := testlib.NewMockTransport(1)
		mt.SetResponder(testlib.RejectIds("b", "c"))
		store := deadletter.NewMemoryStore()
		s := newSink(t, mt, sink.WithBatchSize(3), sink.WithDeadLetters(store))
		s.Append(doc("a"))
		s.Append(doc("b"))
		s.Append(doc("c"))

		if n, _ := store.Len(); n != 2 {
			t.Fatalf("expected two entries, got %v", n)
		}
		e, _ := store.Peek()
		if want, got := "b", e.Documents[0].Id; want != got {
			t.Fatalf("dead-lettered id: want=%v, got=%v", want, got)
		}
		if e.Reason == "" {
			t.Fatal("expected a reason")
		}
	})

	t.Run("Delivered", func(t *testing.T) {
		mt := testlib.NewMockTransport(1)
		store := deadletter.NewMemoryStore()
		s := newSink(t, mt, sink.WithDeadLetters(store))
		s.Append(doc("a"))
		if n, _ := store.Len(); n != 0 {
			t.Fatalf("expected no entries, got %v", n)
		}
	})
}

func TestClose(t *testing.T) {
	t.Run("Drains and releases", func(t *testing.T) {
		mt := testlib.NewMockTransport(1)
		store := deadletter.NewMemoryStore()
		s := newSink(t, mt, sink.WithBatchSize(10), sink.WithDeadLetters(store))
		s.Append(doc("a"))
		if err := s.Close(); err != nil {
			t.Fatalf("Close: unexpected error: %+v", err)
		}
		if want, got := 1, len(mt.BulkCalls()); want != got {
			t.Fatalf("bulk calls: want=%v, got=%v", want, got)
		}
		if !mt.Closed() {
			t.Fatal("expected transport to be closed")
		}
		if err := store.Add(deadletter.Entry{}); err != deadletter.ErrClosed {
			t.Fatalf("expected dead-letter store to be closed, got: %+v", err)
		}
		if err := s.Append(doc("b")); err != sink.ErrClosed {
			t.Fatalf("Append after Close: expected ErrClosed, got: %+v", err)
		}
		if err := s.Drain(); err != sink.ErrClosed {
			t.Fatalf("Drain after Close: expected ErrClosed, got: %+v", err)
		}
		if err := s.Close(); err != nil {
			t.Fatalf("second Close: unexpected error: %+v", err)
		}
	})

	t.Run("Reports abandoned documents", func(t *testing.T) {
		mt := testlib.NewMockTransport(1)
		s := newSink(t, mt, sink.WithBatchSize(10))
		mt.SetAllDown(true)
		s.Append(doc("a"))
		if err := s.Close(); !errors.Is(err, sink.ErrAbandoned) {
			t.Fatalf("Close: expected ErrAbandoned, got: %+v", err)
		}
		if !mt.Closed() {
			t.Fatal("expected transport to be closed")
		}
	})

	t.Run("Waits for in-flight send", func(t *testing.T) {
		mt := testlib.NewMockTransport(1)
		s := newSink(t, mt, sink.WithBatchSize(10))
		s.Append(doc("a"))
		mt.Block()
		go s.Drain()
		waitForState(t, s, sink.Draining)

		closed := make(chan error, 1)
		go func() {
			closed <- s.Close()
		}()
		time.Sleep(20 * time.Millisecond)
		if mt.Closed() {
			t.Fatal("transport closed during a send")
		}
		mt.Unblock()
		select {
		case err := <-closed:
			if err != nil {
				t.Fatalf("Close: unexpected error: %+v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("Close did not return")
		}
		if !mt.Closed() {
			t.Fatal("expected transport to be closed")
		}
	})
}
