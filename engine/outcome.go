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

package engine

import (
	"fmt"

	"github.com/GoogleCloudPlatform/esagent/document"
)

// Status classifies the result of a Submit call.
type Status int

const (
	// Delivered means a node accepted the request and indexed every document.
	Delivered Status = iota

	// PartiallyFailed means a node answered the request but rejected some or all documents.
	// Rejected documents are not retried.
	PartiallyFailed

	// Abandoned means no node could be reached within the retry budget. None of the documents
	// were delivered by this call.
	Abandoned
)

func (s Status) String() string {
	switch s {
	case Delivered:
		return "Delivered"
	case PartiallyFailed:
		return "PartiallyFailed"
	case Abandoned:
		return "Abandoned"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// ItemFailure describes one document the store did not index.
type ItemFailure struct {
	// Position is the document's index within the submitted slice.
	Position int
	Document document.Document
	Reason   string
}

// Outcome is the terminal result of a Submit call.
type Outcome struct {
	Status Status

	// Inserted is the number of documents the store indexed.
	Inserted int

	// Failed is the number of documents that were not indexed.
	Failed int

	// FailedItems lists the rejected documents of a PartiallyFailed outcome.
	FailedItems []ItemFailure

	// Attempts is the number of requests tried, including a final successful one.
	Attempts int

	// Reconnections is the number of waits performed after every node had failed.
	Reconnections int
}

func (o Outcome) String() string {
	switch o.Status {
	case Delivered:
		return fmt.Sprintf("Delivered{inserted: %v}", o.Inserted)
	case PartiallyFailed:
		return fmt.Sprintf("PartiallyFailed{inserted: %v, failed: %v}", o.Inserted, o.Failed)
	}
	return fmt.Sprintf("%v{attempts: %v}", o.Status, o.Attempts)
}
