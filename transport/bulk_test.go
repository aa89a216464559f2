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
	"reflect"
	"testing"

	"github.com/GoogleCloudPlatform/esagent/document"
)

func TestEncodeBulk(t *testing.T) {
	docs := []document.Document{
		document.New([]byte("{\n  \"a\": 1\n}"), "idx", "", "id1"),
		document.New([]byte(`{"b":"x"}`), "other", "legacy", ""),
	}
	body, err := EncodeBulk(docs)
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
	want := `{"index":{"_index":"idx","_id":"id1"}}` + "\n" +
		`{"a":1}` + "\n" +
		`{"index":{"_index":"other","_type":"legacy"}}` + "\n" +
		`{"b":"x"}` + "\n"
	if want != string(body) {
		t.Fatalf("EncodeBulk: want=%q, got=%q", want, body)
	}

	if _, err := EncodeBulk([]document.Document{document.New([]byte(`{not json`), "i", "", "")}); err == nil {
		t.Fatal("expected an error for invalid document source")
	}
}

func TestDecodeBulkResponse(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		body := `{"took":3,"errors":false,"items":[{"index":{"_index":"idx","_id":"1","status":201}},{"index":{"_index":"idx","_id":"2","status":200}}]}`
		resp := DecodeBulkResponse(200, []byte(body))
		if !resp.Succeeded() {
			t.Fatalf("expected success, got %+v", resp)
		}
		want := []ItemResult{{Index: "idx", Id: "1", Status: 201}, {Index: "idx", Id: "2", Status: 200}}
		if !reflect.DeepEqual(want, resp.Items) {
			t.Fatalf("resp.Items: want=%+v, got=%+v", want, resp.Items)
		}
	})

	t.Run("item failures", func(t *testing.T) {
		body := `{"errors":true,"items":[` +
			`{"index":{"_index":"idx","_id":"1","status":201}},` +
			`{"create":{"_index":"idx","_id":"2","status":409,"error":{"type":"version_conflict_engine_exception","reason":"document already exists"}}}]}`
		resp := DecodeBulkResponse(200, []byte(body))
		if resp.Succeeded() {
			t.Fatal("expected failure")
		}
		if want, got := 2, len(resp.Items); want != got {
			t.Fatalf("len(resp.Items): want=%v, got=%v", want, got)
		}
		if resp.Items[0].Failed() {
			t.Fatal("item 0 should not be failed")
		}
		if !resp.Items[1].Failed() {
			t.Fatal("item 1 should be failed")
		}
		if want, got := "version_conflict_engine_exception: document already exists", resp.Items[1].Error; want != got {
			t.Fatalf("item error: want=%v, got=%v", want, got)
		}
	})

	t.Run("http error", func(t *testing.T) {
		body := `{"error":{"type":"security_exception","reason":"missing authentication credentials"},"status":401}`
		resp := DecodeBulkResponse(401, []byte(body))
		if resp.Succeeded() || len(resp.Items) != 0 {
			t.Fatalf("expected failed response without items, got %+v", resp)
		}
		if want, got := "401 Unauthorized: security_exception: missing authentication credentials", resp.ErrorMessage; want != got {
			t.Fatalf("resp.ErrorMessage: want=%v, got=%v", want, got)
		}
	})

	t.Run("plain text error", func(t *testing.T) {
		resp := DecodeBulkResponse(503, []byte("overloaded\n"))
		if want, got := "503 Service Unavailable: overloaded", resp.ErrorMessage; want != got {
			t.Fatalf("resp.ErrorMessage: want=%v, got=%v", want, got)
		}
	})

	t.Run("undecodable body", func(t *testing.T) {
		resp := DecodeBulkResponse(200, []byte("<html>"))
		if resp.Succeeded() || resp.ErrorMessage == "" {
			t.Fatalf("expected failed response with message, got %+v", resp)
		}
	})
}
