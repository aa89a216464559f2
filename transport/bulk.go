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

package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/GoogleCloudPlatform/esagent/document"
)

type actionMeta struct {
	Index string `json:"_index"`
	Type  string `json:"_type,omitempty"`
	Id    string `json:"_id,omitempty"`
}

type action struct {
	Index actionMeta `json:"index"`
}

// EncodeBulk encodes docs as a newline-delimited bulk body: one index action line followed by the
// compacted document source for each document. The type is omitted for DefaultType.
func EncodeBulk(docs []document.Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i, d := range docs {
		meta := actionMeta{Index: d.Index, Id: d.Id}
		if t := d.TypeLabel(); t != document.DefaultType {
			meta.Type = t
		}
		// Encode appends the trailing newline.
		if err := enc.Encode(action{meta}); err != nil {
			return nil, err
		}
		if err := json.Compact(&buf, d.Source); err != nil {
			return nil, fmt.Errorf("transport: document %v: invalid source: %v", i, err)
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

type bulkItem struct {
	Index  string          `json:"_index"`
	Id     string          `json:"_id"`
	Status int             `json:"status"`
	Error  json.RawMessage `json:"error"`
}

type bulkBody struct {
	Errors bool                  `json:"errors"`
	Items  []map[string]bulkItem `json:"items"`
}

type errorBody struct {
	Error json.RawMessage `json:"error"`
}

type errorCause struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// DecodeBulkResponse builds a BulkResponse from an HTTP status and response body. Bodies that
// can't be decoded produce a failed BulkResponse without items.
func DecodeBulkResponse(status int, body []byte) *BulkResponse {
	resp := &BulkResponse{StatusCode: status}
	if status < 200 || status >= 300 {
		resp.Errors = true
		resp.ErrorMessage = requestError(status, body)
		return resp
	}

	var b bulkBody
	if err := json.Unmarshal(body, &b); err != nil {
		resp.Errors = true
		resp.ErrorMessage = fmt.Sprintf("decoding bulk response: %v", err)
		return resp
	}
	resp.Errors = b.Errors
	for _, entry := range b.Items {
		// Each entry has a single key naming the action ("index", "create", ...).
		for _, item := range entry {
			resp.Items = append(resp.Items, ItemResult{
				Index:  item.Index,
				Id:     item.Id,
				Status: item.Status,
				Error:  causeString(item.Error),
			})
		}
	}
	if resp.Errors && len(resp.Items) == 0 {
		resp.ErrorMessage = "bulk request failed without item detail"
	}
	return resp
}

func requestError(status int, body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && len(eb.Error) > 0 {
		return fmt.Sprintf("%v %v: %v", status, http.StatusText(status), causeString(eb.Error))
	}
	return fmt.Sprintf("%v %v: %s", status, http.StatusText(status), bytes.TrimSpace(body))
}

// causeString formats an error value, which is either an object with type and reason or a bare
// string.
func causeString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var cause errorCause
	if err := json.Unmarshal(raw, &cause); err == nil && (cause.Type != "" || cause.Reason != "") {
		return fmt.Sprintf("%v: %v", cause.Type, cause.Reason)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
