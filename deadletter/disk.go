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
	"errors"
	"os"
	"path/filepath"
)

// diskBacking stores entries as a json array in a file under a directory. It caches the entries in
// memory: the file is read once, on first load, and written on every store.
type diskBacking struct {
	filename string
	cache    *memoryBacking
	loaded   bool
}

// NewDiskStore creates a Store that keeps entries in a json file under the given directory.
// Entries written by a previous process using the same directory are restored.
func NewDiskStore(directory string) (Store, error) {
	if err := os.MkdirAll(directory, directoryMode); err != nil {
		return nil, errors.New("deadletter: could not create directory: " + directory + ": " + err.Error())
	}
	return &queue{backing: &diskBacking{
		filename: filepath.Join(directory, queueName+".json"),
		cache:    &memoryBacking{},
	}}, nil
}

func (b *diskBacking) load() ([]json.RawMessage, error) {
	if b.loaded {
		return b.cache.load()
	}
	jsontext, err := os.ReadFile(b.filename)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	var entries []json.RawMessage
	// A missing or empty file is an empty queue.
	if len(jsontext) > 0 {
		if err := json.Unmarshal(jsontext, &entries); err != nil {
			return nil, err
		}
	}
	b.cache.store(entries)
	b.loaded = true
	return b.cache.load()
}

func (b *diskBacking) store(entries []json.RawMessage) error {
	if len(entries) == 0 {
		if err := os.Remove(b.filename); err != nil && !os.IsNotExist(err) {
			return err
		}
		return b.cache.store(nil)
	}
	jsontext, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	// Replace the file atomically.
	tmp := b.filename + ".tmp"
	if err := os.WriteFile(tmp, jsontext, fileMode); err != nil {
		return err
	}
	if err := os.Rename(tmp, b.filename); err != nil {
		return err
	}
	return b.cache.store(entries)
}

func (b *diskBacking) close() error {
	return b.cache.close()
}
