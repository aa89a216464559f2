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
// Package deadletter keeps documents that could not be delivered, so that an operator can inspect
// or replay them later. A Store is a FIFO queue of Entry values.
package deadletter

import (
	"errors"
	"time"

	"github.com/GoogleCloudPlatform/esagent/document"
)

const (
	fileMode      = 0644 // Mode bits used when creating files
	directoryMode = 0755 // Mode bits used when creating directories

	// queueName is the name of the queue file within a disk store's directory.
	queueName = "deadletter"
)

// ErrEmpty is returned by Peek and Remove when the store holds no entries.
var ErrEmpty = errors.New("deadletter: store is empty")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("deadletter: store is closed")

// Entry is a group of documents that failed for the same reason.
type Entry struct {
	Time      time.Time           `json:"time"`
	Reason    string              `json:"reason"`
	Documents []document.Document `json:"documents"`
}

// Store is a queue of dead-letter entries. A single Store instance is threadsafe. No such
// guarantee exists if multiple instances share the same backing directory.
type Store interface {
	// Add appends e to the end of the store.
	Add(e Entry) error

	// Peek returns the oldest entry without removing it. ErrEmpty is returned if there are none.
	Peek() (Entry, error)

	// Remove removes the oldest entry. ErrEmpty is returned if there are none.
	Remove() error

	// Len returns the number of entries.
	Len() (int, error)

	// Close releases the store. Entries of a disk store remain on disk.
	Close() error
}
