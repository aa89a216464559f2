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

// Package source reads records from a stream of newline-delimited JSON objects and feeds the
// documents they map to into a sink.
package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/GoogleCloudPlatform/esagent/document"
	"github.com/golang/glog"
)

// DefaultMaxLineSize is the longest accepted input line, in bytes.
const DefaultMaxLineSize = 1024 * 1024

// Appender receives mapped documents. It is implemented by *sink.Sink.
type Appender interface {
	Append(doc document.Document) error
}

// Mapper turns a decoded record into a document. It is implemented by *document.Mapper.
type Mapper interface {
	Map(record map[string]interface{}) (document.Document, error)
}

// Result counts the lines a Source has processed.
type Result struct {
	// Records is the number of records appended.
	Records int64
	// Skipped is the number of non-empty lines that could not be decoded or mapped.
	Skipped int64
}

// Source reads records from r, one JSON object per line. Numbers are decoded as json.Number so
// that large integers keep their precision.
type Source struct {
	r           io.Reader
	mapper      Mapper
	appender    Appender
	maxLineSize int
}

// New creates a Source reading from r.
func New(r io.Reader, m Mapper, a Appender) *Source {
	return &Source{r: r, mapper: m, appender: a, maxLineSize: DefaultMaxLineSize}
}

// SetMaxLineSize sets the longest accepted line, in bytes.
func (s *Source) SetMaxLineSize(n int) {
	s.maxLineSize = n
}

// Run reads until the end of the input, ctx is done, or the appender fails. Records that don't
// decode or map are logged and skipped. A read error or an appender error is returned; reaching
// the end of the input is not an error.
func (s *Source) Run(ctx context.Context) (Result, error) {
	var result Result
	scanner := bufio.NewScanner(s.r)
	initial := 64 * 1024
	if s.maxLineSize < initial {
		initial = s.maxLineSize
	}
	scanner.Buffer(make([]byte, 0, initial), s.maxLineSize)
	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return result, err
		}
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		doc, err := s.decode(text)
		if err != nil {
			result.Skipped++
			glog.Warningf("source: line %v: %v", line, err)
			continue
		}
		if err := s.appender.Append(doc); err != nil {
			return result, err
		}
		result.Records++
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("source: reading line %v: %v", line+1, err)
	}
	return result, nil
}

func (s *Source) decode(text []byte) (document.Document, error) {
	d := json.NewDecoder(bytes.NewReader(text))
	d.UseNumber()
	var record map[string]interface{}
	if err := d.Decode(&record); err != nil {
		return document.Document{}, err
	}
	if record == nil {
		return document.Document{}, fmt.Errorf("not a JSON object")
	}
	return s.mapper.Map(record)
}
