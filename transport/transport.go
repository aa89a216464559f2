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

// Package transport sends bulk index requests to the nodes of a document store cluster. A Client
// performs exactly one HTTP exchange per call against the node it is given; failover between
// nodes is the caller's responsibility (see engine.Engine).
package transport

import (
	"errors"
	"fmt"

	"github.com/GoogleCloudPlatform/esagent/document"
)

// Client sends requests to individual cluster nodes, addressed by their index in Nodes().
type Client interface {
	// Nodes returns the configured node endpoints, in order.
	Nodes() []string

	// Bulk submits docs to the given node as a single bulk request. A non-nil error is always an
	// *UnreachableError: the node could not be reached or did not respond. Any response from the
	// node, including HTTP errors, is returned as a BulkResponse.
	Bulk(node int, docs []document.Document, opaqueId string) (*BulkResponse, error)

	// EnsureIndex creates index on the given node if it does not exist. It returns true if the
	// index exists afterwards. A non-nil error is always an *UnreachableError; a node that
	// refuses to create the index returns false and a nil error.
	EnsureIndex(node int, index string) (bool, error)

	// Close releases idle connections. Close must not be called during a request.
	Close() error
}

// BulkResponse is the store's answer to a bulk request.
type BulkResponse struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int

	// Errors is true if the store reported that the request, or any item within it, failed.
	Errors bool

	// Items holds the per-document results, in request order. It is empty if the store rejected
	// the request as a whole.
	Items []ItemResult

	// ErrorMessage describes a failure of the whole request, if any.
	ErrorMessage string

	// NotSent is true if the request was rejected locally, before reaching a node.
	NotSent bool
}

// Succeeded returns true if the store accepted the request and indexed every item.
func (r *BulkResponse) Succeeded() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300 && !r.Errors
}

// ItemResult is the result for a single document within a bulk request.
type ItemResult struct {
	Index  string
	Id     string
	Status int
	// Error is empty if the item was indexed.
	Error string
}

// Failed returns true if the store rejected this item.
func (i ItemResult) Failed() bool {
	return i.Error != "" || i.Status >= 300
}

// UnreachableError indicates a transport-level failure: connection refused, timeout, I/O error,
// or no response.
type UnreachableError struct {
	Node string
	Err  error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("node %v unreachable: %v", e.Node, e.Err)
}

func (e *UnreachableError) Unwrap() error {
	return e.Err
}

// IsUnreachable returns true if err is or wraps an *UnreachableError.
func IsUnreachable(err error) bool {
	var ue *UnreachableError
	return errors.As(err, &ue)
}
