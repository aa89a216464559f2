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

package document

import (
	"reflect"
	"testing"
)

func TestNew(t *testing.T) {
	d := New([]byte(`{"a":1}`), "idx", "", "")
	if want, got := DefaultType, d.Type; want != got {
		t.Fatalf("d.Type: want=%v, got=%v", want, got)
	}
	if want, got := DefaultType, (Document{}).TypeLabel(); want != got {
		t.Fatalf("TypeLabel on zero Document: want=%v, got=%v", want, got)
	}
	d = New([]byte(`{}`), "idx", "legacy", "1")
	if want, got := "legacy", d.TypeLabel(); want != got {
		t.Fatalf("d.TypeLabel(): want=%v, got=%v", want, got)
	}
}

func TestBatch(t *testing.T) {
	d1 := New([]byte(`{"n":1}`), "idx", "", "1")
	d2 := New([]byte(`{"n":2}`), "idx", "", "2")
	d3 := New([]byte(`{"n":3}`), "other", "", "")

	t.Run("size tracks appends", func(t *testing.T) {
		b := NewBatch(2)
		if !b.IsEmpty() {
			t.Fatal("new batch should be empty")
		}
		b.Append(d1)
		b.Append(d2)
		b.Append(d3)
		if want, got := 3, b.Size(); want != got {
			t.Fatalf("b.Size(): want=%v, got=%v", want, got)
		}
		if b.IsEmpty() {
			t.Fatal("batch should not be empty")
		}
	})

	t.Run("drain returns documents in order and empties the batch", func(t *testing.T) {
		b := NewBatch(4)
		b.Append(d1)
		b.Append(d2)
		docs := b.Drain()
		if want := []Document{d1, d2}; !reflect.DeepEqual(want, docs) {
			t.Fatalf("b.Drain(): want=%+v, got=%+v", want, docs)
		}
		if !b.IsEmpty() {
			t.Fatal("drained batch should be empty")
		}

		// Appends after a drain don't modify the drained documents.
		b.Append(d3)
		if want := []Document{d1, d2}; !reflect.DeepEqual(want, docs) {
			t.Fatalf("drained documents changed: want=%+v, got=%+v", want, docs)
		}
		if want, got := 1, b.Size(); want != got {
			t.Fatalf("b.Size(): want=%v, got=%v", want, got)
		}
	})

	t.Run("cleared batch is reusable", func(t *testing.T) {
		b := NewBatch(1)
		b.Append(d1)
		b.Clear()
		if !b.IsEmpty() {
			t.Fatal("cleared batch should be empty")
		}
		if docs := b.Drain(); len(docs) != 0 {
			t.Fatalf("drain after clear: want no documents, got %+v", docs)
		}
		b.Append(d2)
		if want, got := []Document{d2}, b.Drain(); !reflect.DeepEqual(want, got) {
			t.Fatalf("b.Drain(): want=%+v, got=%+v", want, got)
		}
	})

	t.Run("clear releases discarded documents", func(t *testing.T) {
		b := NewBatch(2)
		b.Append(d1)
		discarded := b.docs[:1]
		b.Clear()
		b.Append(d2)
		if want := []Document{d1}; !reflect.DeepEqual(want, discarded) {
			t.Fatalf("appends after clear reused the discarded array: %+v", discarded)
		}
		if want, got := []Document{d2}, b.docs; !reflect.DeepEqual(want, got) {
			t.Fatalf("b.docs: want=%+v, got=%+v", want, got)
		}
	})
}
