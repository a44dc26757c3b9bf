// Package ingestion defines the request/response types used to feed
// package records into the system, either through Kafka or straight into
// the record store.
package ingestion

// Status values reported back to callers.
const (
	// StatusAccepted means the event was queued on the package-updates
	// topic and will reach the store asynchronously.
	StatusAccepted = "accepted"
	// StatusApplied means the record store has already been updated.
	StatusApplied = "applied"
)

// IngestResponse is returned to the caller after a package change is
// accepted.
type IngestResponse struct {
	ID     string `json:"id"`
	Op     string `json:"op"`
	Status string `json:"status"`
}

// DumpStats summarises one JSON-lines load.
type DumpStats struct {
	Lines   int `json:"lines"`
	Upserts int `json:"upserts"`
	Deletes int `json:"deletes"`
	Skipped int `json:"skipped"`
	Batches int `json:"batches"`
}
