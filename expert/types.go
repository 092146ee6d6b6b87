// Package expert flags notable and problematic PKTC key management traffic
package expert

import (
	"fmt"
	"strings"
	"time"
)

// Severity represents the severity level of an expert info
type Severity int

const (
	SeverityChat    Severity = iota // Informational, normal behavior
	SeverityNote                    // Notable but not necessarily problematic
	SeverityWarning                 // Potential issue
	SeverityError                   // Definite problem
)

// String returns a human-readable string for the severity
func (s Severity) String() string {
	switch s {
	case SeverityChat:
		return "Chat"
	case SeverityNote:
		return "Note"
	case SeverityWarning:
		return "Warning"
	case SeverityError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Symbol returns a single character symbol for the severity
func (s Severity) Symbol() string {
	switch s {
	case SeverityChat:
		return "."
	case SeverityNote:
		return "i"
	case SeverityWarning:
		return "!"
	case SeverityError:
		return "X"
	default:
		return "?"
	}
}

// ParseSeverity maps a severity name (case-insensitive) back to its value.
func ParseSeverity(name string) (Severity, error) {
	if strings.EqualFold(name, "warn") {
		return SeverityWarning, nil
	}
	for _, s := range []Severity{SeverityChat, SeverityNote, SeverityWarning, SeverityError} {
		if strings.EqualFold(s.String(), name) {
			return s, nil
		}
	}
	return SeverityChat, fmt.Errorf("unknown severity %q", name)
}

// Group represents the category of expert info
type Group string

const (
	GroupSequence  Group = "Sequence"  // Request/reply pairing
	GroupProtocol  Group = "Protocol"  // Protocol-level issues
	GroupSecurity  Group = "Security"  // Weak negotiated parameters
	GroupMalformed Group = "Malformed" // Messages that failed to decode
)

// ExpertInfo represents a single expert information entry
type ExpertInfo struct {
	PacketNum   int       // Packet number where issue was detected
	Timestamp   time.Time // Time of the packet
	Severity    Severity  // Severity level
	Group       Group     // Category group
	Protocol    string    // Protocol involved
	Summary     string    // Short summary (e.g., "Malformed PKTC Message")
	Details     string    // Detailed description
	RelatedPkts []int     // Related packet numbers (for context)
	FlowKey     string    // Flow identifier if applicable
}

// String returns a formatted string representation
func (e *ExpertInfo) String() string {
	return fmt.Sprintf("[%s] #%d %s: %s - %s",
		e.Severity.Symbol(),
		e.PacketNum,
		e.Protocol,
		e.Summary,
		e.Details,
	)
}

// PKTCExpertType represents specific PKTC expert info types
type PKTCExpertType int

const (
	PKTCMalformed PKTCExpertType = iota
	PKTCUnsupportedLayout
	PKTCHeaderOnly
	PKTCNullEncryption
	PKTCWeakAuth
	PKTCReplySuiteCount
	PKTCTrailingData
	PKTCUnsolicitedReply
	PKTCUnansweredRequest
	PKTCAckRequired
	PKTCReestablish
)

// String returns a human-readable description
func (t PKTCExpertType) String() string {
	switch t {
	case PKTCMalformed:
		return "Malformed PKTC Message"
	case PKTCUnsupportedLayout:
		return "Unsupported Domain or Message"
	case PKTCHeaderOnly:
		return "Header-Only Message"
	case PKTCNullEncryption:
		return "NULL Encryption Transform"
	case PKTCWeakAuth:
		return "MD5-HMAC Authentication"
	case PKTCReplySuiteCount:
		return "Reply Ciphersuite Count"
	case PKTCTrailingData:
		return "Trailing Data"
	case PKTCUnsolicitedReply:
		return "Reply Without Request"
	case PKTCUnansweredRequest:
		return "Request Without Reply"
	case PKTCAckRequired:
		return "Ack Required"
	case PKTCReestablish:
		return "Re-establish Requested"
	default:
		return "Unknown PKTC Issue"
	}
}

// Severity returns the default severity for this PKTC expert type
func (t PKTCExpertType) Severity() Severity {
	switch t {
	case PKTCAckRequired, PKTCReestablish:
		return SeverityChat
	case PKTCHeaderOnly, PKTCWeakAuth, PKTCTrailingData, PKTCUnsolicitedReply, PKTCUnansweredRequest:
		return SeverityNote
	case PKTCUnsupportedLayout, PKTCNullEncryption, PKTCReplySuiteCount:
		return SeverityWarning
	case PKTCMalformed:
		return SeverityError
	default:
		return SeverityNote
	}
}

// Group returns the category for this PKTC expert type
func (t PKTCExpertType) Group() Group {
	switch t {
	case PKTCMalformed:
		return GroupMalformed
	case PKTCNullEncryption, PKTCWeakAuth:
		return GroupSecurity
	case PKTCUnsolicitedReply, PKTCUnansweredRequest:
		return GroupSequence
	default:
		return GroupProtocol
	}
}
