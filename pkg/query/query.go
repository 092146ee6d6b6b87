// Package query provides read access to a capture index. Commands go through
// this package instead of touching the store directly.
package query

import (
	"context"
	"time"

	"github.com/Zerofisher/pktcanalyzer/pkg/model"
)

// QueryEngine provides the main query interface.
type QueryEngine interface {
	// Message queries
	GetMessage(ctx context.Context, number int) (*model.MessageSummary, error)
	GetMessages(ctx context.Context, filter MessageFilter) ([]*model.MessageSummary, error)
	GetMessageCount(ctx context.Context) (int, error)
	CountByKMMID(ctx context.Context) ([]*model.KMMIDCount, error)

	// Flow queries
	GetFlows(ctx context.Context, filter FlowFilter) ([]*model.Flow, error)

	// Expert event queries
	GetExpertEvents(ctx context.Context, filter EventFilter) ([]*model.ExpertEvent, error)
	GetExpertEventsByPacket(ctx context.Context, packetNum int) ([]*model.ExpertEvent, error)
	GetEventSummary(ctx context.Context) (*EventSummary, error)

	// Meta
	GetIndexMeta(ctx context.Context) (*model.IndexMeta, error)
	IsIndexed(ctx context.Context) bool
}

// MessageFilter defines filters for message queries.
type MessageFilter struct {
	// Offset for pagination
	Offset int
	// Limit for pagination (0 means no limit)
	Limit int

	// KMMIDs restricts results to these message ids
	KMMIDs []int

	// Time range
	StartTime time.Time
	EndTime   time.Time

	// Address filters
	IP   string // Either src or dst
	Port int    // Either src or dst

	UserName string

	// MalformedOnly keeps messages that failed to decode
	MalformedOnly bool

	FlowID string

	// Text search in Info
	SearchText string

	// Sorting
	SortBy    string // "number", "timestamp", "kmmid", "length"
	SortOrder string // "asc", "desc"
}

// FlowFilter defines filters for flow queries.
type FlowFilter struct {
	Offset int
	Limit  int

	IP string

	// MalformedOnly keeps flows with at least one malformed message
	MalformedOnly bool

	// Sorting
	SortBy    string // "messages", "bytes", "start_time"
	SortOrder string // "asc", "desc"
}

// EventFilter defines filters for expert event queries.
type EventFilter struct {
	Offset int
	Limit  int

	// MinSeverity keeps events at or above this level
	MinSeverity model.Severity

	// Groups filter
	Groups []string

	FlowID string

	// Text search
	SearchText string

	// Sorting
	SortBy    string // "severity", "timestamp", "packet"
	SortOrder string
}

// EventSummary provides a summary of expert events.
type EventSummary struct {
	TotalEvents int
	BySeverity  map[model.Severity]int
	ByGroup     map[string]int
	TopEvents   []*model.ExpertEvent // Top 10 most severe
}
