package stats

import "time"

// A Snapshot is the state of a delivery engine's counters at a point in time. Counters are
// cumulative for the lifetime of the engine; Connected is a gauge.
type Snapshot struct {
	// Connected is true if the most recent request attempt reached a node.
	Connected bool `json:"connected"`

	// Inserts is the number of documents the store reported as indexed.
	Inserts int64 `json:"inserts"`

	// FailedRequests is the number of bulk submissions that failed as a whole: either no node was
	// reachable within the retry budget, or the store rejected the request without item detail.
	FailedRequests int64 `json:"failedRequests"`

	// FailedDocuments is the number of documents that were not indexed, for any reason.
	FailedDocuments int64 `json:"failedDocuments"`

	// Reconnections is the number of times the engine waited and retried after every node failed.
	Reconnections int64 `json:"reconnections"`

	// BulkRequests is the number of bulk requests that received a response.
	BulkRequests int64 `json:"bulkRequests"`

	// LastSuccess is the time of the last request that delivered every document.
	LastSuccess time.Time `json:"lastSuccess"`
}

// A Recorder receives counter updates from a delivery engine. Record is called after every
// request attempt, successful or not, with the engine's complete current state. Recorders are
// purely observational.
type Recorder interface {
	Record(s Snapshot)
}

// A Provider returns the most recently recorded Snapshot.
type Provider interface {
	Snapshot() Snapshot
}

type noopRecorder struct{}

// NewNoopRecorder returns a Recorder that does nothing.
func NewNoopRecorder() Recorder {
	return noopRecorder{}
}

func (noopRecorder) Record(Snapshot) {}
