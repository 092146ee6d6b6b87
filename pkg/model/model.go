// Package model defines the storage-friendly records written to a capture
// index. Records carry summaries only; raw bytes stay in the pcap and are
// referenced by frame number.
package model

import (
	"crypto/md5"
	"fmt"
	"time"
)

// ────────────────────────────────────────────────────────────────────────────────
// MessageSummary
// ────────────────────────────────────────────────────────────────────────────────

// MessageSummary is one PKTC message as stored in the index.
type MessageSummary struct {
	// Identity
	Number      int   `json:"number"`       // Frame number (1-based)
	TimestampNS int64 `json:"timestamp_ns"` // Unix nanoseconds
	FrameLength int   `json:"frame_length"` // Original frame length

	// Endpoints
	SrcIP   string `json:"src_ip,omitempty"`
	DstIP   string `json:"dst_ip,omitempty"`
	SrcPort int    `json:"src_port,omitempty"`
	DstPort int    `json:"dst_port,omitempty"`

	// Header; valid whenever HeaderOK is set, even for malformed messages
	HeaderOK  bool   `json:"header_ok"`
	KMMID     int    `json:"kmmid"`
	KMMIDName string `json:"kmmid_name"`
	DOI       int    `json:"doi"`
	Version   string `json:"version"`

	// Body summary
	Length       int    `json:"length"` // Bytes consumed by the decoder
	UserName     string `json:"user_name,omitempty"`
	EngineID     string `json:"engine_id,omitempty"` // hex
	Ciphersuites string `json:"ciphersuites,omitempty"`
	Lifetime     int64  `json:"lifetime,omitempty"`
	Trailing     int    `json:"trailing,omitempty"`

	// Decode outcome
	Malformed bool   `json:"malformed"`
	Error     string `json:"error,omitempty"`
	ErrOffset int    `json:"err_offset"` // -1 when the message decoded

	Info   string `json:"info,omitempty"`
	FlowID string `json:"flow_id,omitempty"`
}

// Timestamp returns the message timestamp as time.Time.
func (m *MessageSummary) Timestamp() time.Time {
	return time.Unix(0, m.TimestampNS)
}

// ────────────────────────────────────────────────────────────────────────────────
// FlowKey & Flow
// ────────────────────────────────────────────────────────────────────────────────

// FlowKey uniquely identifies a bidirectional flow (normalized).
type FlowKey struct {
	SrcIP   string
	DstIP   string
	SrcPort int
	DstPort int
}

// Normalize ensures consistent ordering (smaller IP:port first) for bidirectional matching.
func (k FlowKey) Normalize() FlowKey {
	srcKey := fmt.Sprintf("%s:%d", k.SrcIP, k.SrcPort)
	dstKey := fmt.Sprintf("%s:%d", k.DstIP, k.DstPort)
	if srcKey > dstKey {
		return FlowKey{
			SrcIP:   k.DstIP,
			DstIP:   k.SrcIP,
			SrcPort: k.DstPort,
			DstPort: k.SrcPort,
		}
	}
	return k
}

// ID returns a stable hash-based identifier for this flow.
func (k FlowKey) ID() string {
	nk := k.Normalize()
	data := fmt.Sprintf("%s|%d|%s|%d|udp", nk.SrcIP, nk.SrcPort, nk.DstIP, nk.DstPort)
	hash := md5.Sum([]byte(data))
	return fmt.Sprintf("%x", hash[:8])
}

// Flow aggregates the key management exchange between two endpoints.
type Flow struct {
	ID string `json:"id"`

	// Endpoints (normalized)
	SrcIP   string `json:"src_ip"`
	DstIP   string `json:"dst_ip"`
	SrcPort int    `json:"src_port"`
	DstPort int    `json:"dst_port"`

	// Time range (nanoseconds for storage precision)
	StartNS int64 `json:"start_ns"`
	EndNS   int64 `json:"end_ns"`

	// Counters
	Messages  int   `json:"messages"`
	Bytes     int64 `json:"bytes"`
	Requests  int   `json:"requests"`
	Replies   int   `json:"replies"`
	Malformed int   `json:"malformed"`

	// First N frame numbers for reference
	MessageNumbers []int `json:"message_numbers,omitempty"`
}

// Duration returns the flow duration.
func (f *Flow) Duration() time.Duration {
	return time.Duration(f.EndNS - f.StartNS)
}

// ────────────────────────────────────────────────────────────────────────────────
// ExpertEvent
// ────────────────────────────────────────────────────────────────────────────────

// Severity levels for expert events (matches Wireshark Expert Info).
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityNote    Severity = "note"
	SeverityChat    Severity = "chat"
)

// Order returns numeric order for sorting (higher = more severe).
func (s Severity) Order() int {
	switch s {
	case SeverityError:
		return 4
	case SeverityWarning:
		return 3
	case SeverityNote:
		return 2
	case SeverityChat:
		return 1
	default:
		return 0
	}
}

// SeverityFromOrder is the inverse of Order.
func SeverityFromOrder(n int) Severity {
	switch n {
	case 4:
		return SeverityError
	case 3:
		return SeverityWarning
	case 2:
		return SeverityNote
	case 1:
		return SeverityChat
	default:
		return ""
	}
}

// ExpertEvent is a stored expert finding.
type ExpertEvent struct {
	ID          string   `json:"id"`
	Severity    Severity `json:"severity"`
	Group       string   `json:"group"`
	Type        string   `json:"type"`    // e.g., "Malformed PKTC Message"
	Message     string   `json:"message"` // Human-readable description
	TimestampNS int64    `json:"timestamp_ns"`
	FlowID      string   `json:"flow_id,omitempty"`

	// Evidence frame range
	PacketStart int `json:"packet_start"`
	PacketEnd   int `json:"packet_end"`
}

// Timestamp returns the event timestamp.
func (e *ExpertEvent) Timestamp() time.Time {
	return time.Unix(0, e.TimestampNS)
}

// ────────────────────────────────────────────────────────────────────────────────
// IndexMeta
// ────────────────────────────────────────────────────────────────────────────────

// IndexMeta stores metadata about the indexed pcap file.
type IndexMeta struct {
	SchemaVersion int       `json:"schema_version"`
	PcapPath      string    `json:"pcap_path"`
	PcapSize      int64     `json:"pcap_size"`
	PcapModified  time.Time `json:"pcap_modified"`
	IndexedAt     time.Time `json:"indexed_at"`
	TotalPackets  int       `json:"total_packets"`
	TotalMessages int       `json:"total_messages"`
	DurationNS    int64     `json:"duration_ns"`
	IndexComplete bool      `json:"index_complete"`
}

// KMMIDCount is one row of a per-message-type count.
type KMMIDCount struct {
	KMMID     int    `json:"kmmid"`
	Name      string `json:"name"`
	Count     int    `json:"count"`
	Malformed int    `json:"malformed"`
}
