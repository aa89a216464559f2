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

import (
	"encoding/json"
	"sync"
)

// backing loads and stores the json-encoded entries of a queue. Implementations don't lock;
// the queue holds its mutex around every call.
type backing interface {
	load() ([]json.RawMessage, error)
	store(entries []json.RawMessage) error
	close() error
}

// queue is a Store over a backing.
type queue struct {
	mutex   sync.Mutex
	backing backing
	closed  bool
}

func (q *queue) Add(e Entry) error {
	// Marshal outside of the lock.
	bytes, err := json.Marshal(e)
	if err != nil {
		return err
	}
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if q.closed {
		return ErrClosed
	}
	entries, err := q.backing.load()
	if err != nil {
		return err
	}
	return q.backing.store(append(entries, bytes))
}

func (q *queue) Peek() (Entry, error) {
	var e Entry
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if q.closed {
		return e, ErrClosed
	}
	entries, err := q.backing.load()
	if err != nil {
		return e, err
	}
	if len(entries) == 0 {
		return e, ErrEmpty
	}
	err = json.Unmarshal(entries[0], &e)
	return e, err
}

func (q *queue) Remove() error {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if q.closed {
		return ErrClosed
	}
	entries, err := q.backing.load()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return ErrEmpty
	}
	return q.backing.store(entries[1:])
}

func (q *queue) Len() (int, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if q.closed {
		return 0, ErrClosed
	}
	entries, err := q.backing.load()
	return len(entries), err
}

func (q *queue) Close() error {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	return q.backing.close()
}
