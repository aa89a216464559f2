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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/GoogleCloudPlatform/esagent/clock"
)

// TimestampFormat is the layout of timestamps added by a Mapper.
const TimestampFormat = "2006-01-02T15:04:05.000-0700"

// DefaultTimestampName is the document field that holds the added timestamp unless configured
// otherwise.
const DefaultTimestampName = "timestamp"

// ErrNoIndex is returned by Mapper.Map when a record does not resolve to a target index.
var ErrNoIndex = errors.New("document: index must be defined")

// Mapping configures how records are turned into Documents. For each of index, type and id, a
// non-empty value of the named record field takes precedence over the static value. Fields used
// for identity or timestamps are not copied into the document body.
type Mapping struct {
	Index      string
	IndexField string
	Type       string
	TypeField  string
	Id         string
	IdField    string

	// StoreTimestamps adds a timestamp field named TimestampName to every document. The value is
	// taken from TimestampField (milliseconds since the epoch) if set, or from the clock.
	StoreTimestamps bool
	TimestampName   string
	TimestampField  string
}

// Mapper converts records - decoded JSON objects - into Documents.
type Mapper struct {
	mapping Mapping
	clock   clock.Clock
}

// NewMapper creates a Mapper for the given Mapping.
func NewMapper(m Mapping) *Mapper {
	return newMapper(m, clock.NewClock())
}

func newMapper(m Mapping, c clock.Clock) *Mapper {
	if m.TimestampName == "" {
		m.TimestampName = DefaultTimestampName
	}
	return &Mapper{mapping: m, clock: c}
}

// Map builds a Document from record. The record itself is not modified.
func (m *Mapper) Map(record map[string]interface{}) (Document, error) {
	index, err := m.identity(record, m.mapping.IndexField, m.mapping.Index)
	if err != nil {
		return Document{}, err
	}
	if index == "" {
		return Document{}, ErrNoIndex
	}
	typ, err := m.identity(record, m.mapping.TypeField, m.mapping.Type)
	if err != nil {
		return Document{}, err
	}
	id, err := m.identity(record, m.mapping.IdField, m.mapping.Id)
	if err != nil {
		return Document{}, err
	}

	body := make(map[string]interface{}, len(record)+1)
	for k, v := range record {
		if m.isReserved(k) {
			continue
		}
		body[k] = v
	}

	if m.mapping.StoreTimestamps {
		ts, err := m.timestamp(record)
		if err != nil {
			return Document{}, err
		}
		body[m.mapping.TimestampName] = ts.Format(TimestampFormat)
	}

	source, err := json.Marshal(body)
	if err != nil {
		return Document{}, err
	}
	return New(source, index, typ, id), nil
}

// identity resolves one identity value: a non-empty string (or decoded json.Number) in field wins
// over static.
func (m *Mapper) identity(record map[string]interface{}, field, static string) (string, error) {
	if field == "" {
		return static, nil
	}
	v, ok := record[field]
	if !ok || v == nil {
		return static, nil
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case json.Number:
		s = t.String()
	default:
		return "", fmt.Errorf("document: field %v must be a string, got %T", field, v)
	}
	if s == "" {
		return static, nil
	}
	return s, nil
}

func (m *Mapper) timestamp(record map[string]interface{}) (time.Time, error) {
	if m.mapping.TimestampField == "" {
		return m.clock.Now(), nil
	}
	v, ok := record[m.mapping.TimestampField]
	if !ok {
		return time.Time{}, fmt.Errorf("document: missing timestamp field %v", m.mapping.TimestampField)
	}
	var millis int64
	switch n := v.(type) {
	case float64:
		millis = int64(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return time.Time{}, fmt.Errorf("document: timestamp field %v: %v", m.mapping.TimestampField, err)
		}
		millis = i
	default:
		return time.Time{}, fmt.Errorf("document: timestamp field %v must be a number, got %T", m.mapping.TimestampField, v)
	}
	return time.Unix(0, millis*int64(time.Millisecond)), nil
}

func (m *Mapper) isReserved(field string) bool {
	switch field {
	case "":
		return false
	case m.mapping.IndexField, m.mapping.TypeField, m.mapping.IdField, m.mapping.TimestampField:
		return true
	}
	return false
}
