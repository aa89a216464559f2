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
package deadletter

import "encoding/json"

// memoryBacking holds entries in memory. It does not survive restarts.
type memoryBacking struct {
	entries []json.RawMessage
}

// NewMemoryStore creates a Store that keeps entries in memory.
func NewMemoryStore() Store {
	return &queue{backing: &memoryBacking{}}
}

func (b *memoryBacking) load() ([]json.RawMessage, error) {
	return b.entries, nil
}

func (b *memoryBacking) store(entries []json.RawMessage) error {
	// The loaded slice must not share an array with the stored one.
	b.entries = append([]json.RawMessage(nil), entries...)
	return nil
}

func (b *memoryBacking) close() error {
	b.entries = nil
	return nil
}
