// Package store defines the storage interface for capture indexes.
package store

import (
	"github.com/Zerofisher/pktcanalyzer/pkg/model"
)

// SchemaVersion is incremented when schema changes require re-indexing.
const SchemaVersion = 1

// Store defines the interface for message index storage.
type Store interface {
	// Lifecycle
	Close() error

	// Metadata
	GetMeta() (*model.IndexMeta, error)
	SetMeta(meta *model.IndexMeta) error

	// Write operations (used by ingest pipeline)
	Writer
}

// Writer defines write-side operations for the ingest pipeline.
type Writer interface {
	// BeginBatch starts a batch write transaction.
	BeginBatch() error

	// CommitBatch commits the current batch.
	CommitBatch() error

	// RollbackBatch rolls back the current batch.
	RollbackBatch() error

	// Reset removes all indexed rows, keeping the schema.
	Reset() error

	// InsertMessages inserts message summaries.
	InsertMessages(messages []*model.MessageSummary) error

	// UpsertFlows inserts or updates flows.
	UpsertFlows(flows []*model.Flow) error

	// InsertExpertEvents inserts expert events.
	InsertExpertEvents(events []*model.ExpertEvent) error
}
