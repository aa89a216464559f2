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

// Package document describes the documents that the agent indexes and the Batch that buffers them
// until they are submitted.
package document

import (
	"encoding/json"
)

// DefaultType is the type label used when a document does not carry one. Mapping types are
// deprecated by the store; a document with this type is sent without a type at all.
const DefaultType = "_doc"

// Document is a serialized JSON payload and the identity it should be indexed under. A Document is
// not modified after creation.
type Document struct {
	// Source is the JSON text of the document body.
	Source json.RawMessage `json:"source"`

	// Index is the name of the target index (collection).
	Index string `json:"index"`

	// Type is the legacy mapping type. Empty means DefaultType.
	Type string `json:"type,omitempty"`

	// Id is the explicit document id. Empty means the server assigns one.
	Id string `json:"id,omitempty"`
}

// New creates a Document. An empty typ is replaced by DefaultType.
func New(source []byte, index, typ, id string) Document {
	if typ == "" {
		typ = DefaultType
	}
	return Document{Source: json.RawMessage(source), Index: index, Type: typ, Id: id}
}

// TypeLabel returns the document's type, or DefaultType if it has none.
func (d Document) TypeLabel() string {
	if d.Type == "" {
		return DefaultType
	}
	return d.Type
}

// Batch accumulates Documents awaiting submission. A Batch is not threadsafe: it is owned by a
// single ingestion context, and callers that share one must provide their own locking.
type Batch struct {
	docs []Document
}

// NewBatch creates an empty Batch that can hold capacity documents before growing.
func NewBatch(capacity int) *Batch {
	return &Batch{docs: make([]Document, 0, capacity)}
}

// Append adds doc to the end of the batch.
func (b *Batch) Append(doc Document) {
	b.docs = append(b.docs, doc)
}

// Size returns the number of documents appended since the batch was last drained or cleared.
func (b *Batch) Size() int {
	return len(b.docs)
}

// IsEmpty returns true if the batch holds no documents.
func (b *Batch) IsEmpty() bool {
	return len(b.docs) == 0
}

// Drain returns the accumulated documents and leaves the batch empty. The returned slice is owned
// by the caller; later appends do not modify it.
func (b *Batch) Drain() []Document {
	docs := b.docs
	b.docs = make([]Document, 0, cap(docs))
	return docs
}

// Clear discards the accumulated documents. The batch remains usable and no longer references
// the discarded documents.
func (b *Batch) Clear() {
	b.docs = make([]Document, 0, cap(b.docs))
}
