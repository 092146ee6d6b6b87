// Package fields provides protocol field definitions and extraction
package fields

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Zerofisher/pktcanalyzer/capture"
	"github.com/Zerofisher/pktcanalyzer/pktc"
)

// FieldType represents the type of a field
type FieldType int

const (
	TypeString FieldType = iota
	TypeInt
	TypeUint16
	TypeUint32
	TypeBool
	TypeBytes
	TypeFloat
	TypeTime
)

// FieldDef defines a protocol field
type FieldDef struct {
	Name        string                        // Field name (e.g., "pktc.kmmid")
	Description string                        // Human-readable description
	Type        FieldType                     // Value type
	Extractor   func(*capture.PacketInfo) any // First occurrence, nil when absent

	// Multi extracts every occurrence of fields that repeat in one
	// message. Nil for single-valued fields.
	Multi func(*capture.PacketInfo) []any
}

// Registry holds all registered fields
type Registry struct {
	fields map[string]*FieldDef
}

// NewRegistry creates a new field registry with standard fields
func NewRegistry() *Registry {
	r := &Registry{
		fields: make(map[string]*FieldDef),
	}
	r.registerStandardFields()
	r.registerPKTCFields()
	return r
}

// Get returns a field definition by name
func (r *Registry) Get(name string) *FieldDef {
	return r.fields[name]
}

// List returns all registered field names, sorted
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.fields))
	for name := range r.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListByPrefix returns field names matching a prefix, sorted
func (r *Registry) ListByPrefix(prefix string) []string {
	var names []string
	for name := range r.fields {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Extract extracts a field value from a packet
func (r *Registry) Extract(name string, pkt *capture.PacketInfo) (any, bool) {
	field := r.fields[name]
	if field == nil {
		return nil, false
	}
	value := field.Extractor(pkt)
	return value, value != nil
}

// ExtractAll extracts every occurrence of a field.
func (r *Registry) ExtractAll(name string, pkt *capture.PacketInfo) []any {
	field := r.fields[name]
	if field == nil {
		return nil
	}
	if field.Multi != nil {
		return field.Multi(pkt)
	}
	if v := field.Extractor(pkt); v != nil {
		return []any{v}
	}
	return nil
}

// ExtractString extracts a field value as string. Repeated fields are
// joined with commas.
func (r *Registry) ExtractString(name string, pkt *capture.PacketInfo) string {
	values := r.ExtractAll(name, pkt)
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, FormatValue(v))
	}
	return strings.Join(parts, ",")
}

// FormatValue renders an extracted value the way field output does.
func FormatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case uint16:
		return strconv.FormatUint(uint64(v), 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case bool:
		if v {
			return "1"
		}
		return "0"
	case []byte:
		return fmt.Sprintf("%x", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Register adds a new field to the registry
func (r *Registry) Register(field *FieldDef) {
	r.fields[field.Name] = field
}

// registerStandardFields registers frame, ip and udp fields
func (r *Registry) registerStandardFields() {
	// Frame fields
	r.Register(&FieldDef{
		Name:        "frame.number",
		Description: "Frame number",
		Type:        TypeInt,
		Extractor:   func(p *capture.PacketInfo) any { return p.Number },
	})
	r.Register(&FieldDef{
		Name:        "frame.time",
		Description: "Frame timestamp",
		Type:        TypeTime,
		Extractor:   func(p *capture.PacketInfo) any { return p.Timestamp },
	})
	r.Register(&FieldDef{
		Name:        "frame.time_epoch",
		Description: "Frame timestamp (Unix epoch)",
		Type:        TypeFloat,
		Extractor:   func(p *capture.PacketInfo) any { return float64(p.Timestamp.UnixNano()) / 1e9 },
	})
	r.Register(&FieldDef{
		Name:        "frame.len",
		Description: "Frame length",
		Type:        TypeInt,
		Extractor:   func(p *capture.PacketInfo) any { return p.Length },
	})
	r.Register(&FieldDef{
		Name:        "frame.protocol",
		Description: "Highest layer protocol",
		Type:        TypeString,
		Extractor:   func(p *capture.PacketInfo) any { return p.Protocol },
	})

	// IP fields
	r.Register(&FieldDef{
		Name:        "ip.src",
		Description: "Source IP address",
		Type:        TypeString,
		Extractor:   stringOrNil(func(p *capture.PacketInfo) string { return p.SrcIP }),
	})
	r.Register(&FieldDef{
		Name:        "ip.dst",
		Description: "Destination IP address",
		Type:        TypeString,
		Extractor:   stringOrNil(func(p *capture.PacketInfo) string { return p.DstIP }),
	})

	// UDP fields
	r.Register(&FieldDef{
		Name:        "udp.srcport",
		Description: "UDP source port",
		Type:        TypeUint16,
		Extractor:   udpPort(func(p *capture.PacketInfo) uint16 { return p.SrcPort }),
	})
	r.Register(&FieldDef{
		Name:        "udp.dstport",
		Description: "UDP destination port",
		Type:        TypeUint16,
		Extractor:   udpPort(func(p *capture.PacketInfo) uint16 { return p.DstPort }),
	})
	r.Register(&FieldDef{
		Name:        "udp.length",
		Description: "UDP payload length",
		Type:        TypeInt,
		Extractor: func(p *capture.PacketInfo) any {
			if p.SrcPort == 0 && p.DstPort == 0 {
				return nil
			}
			return len(p.Payload)
		},
	})
}

func stringOrNil(get func(*capture.PacketInfo) string) func(*capture.PacketInfo) any {
	return func(p *capture.PacketInfo) any {
		if s := get(p); s != "" {
			return s
		}
		return nil
	}
}

func udpPort(get func(*capture.PacketInfo) uint16) func(*capture.PacketInfo) any {
	return func(p *capture.PacketInfo) any {
		if p.SrcPort == 0 && p.DstPort == 0 {
			return nil
		}
		return get(p)
	}
}

// registerPKTCFields registers every field of the message decoder plus a
// few summary fields.
func (r *Registry) registerPKTCFields() {
	for _, info := range pktc.Fields() {
		if info.Kind == pktc.KindNone {
			continue
		}
		abbrev := info.Abbrev
		def := &FieldDef{
			Name:        abbrev,
			Description: info.Description,
			Type:        fieldType(info.Kind),
			Extractor: func(p *capture.PacketInfo) any {
				if v, ok := headerValue(abbrev, p); ok {
					return v
				}
				if p.PKTC == nil {
					return nil
				}
				if item := p.PKTC.Tree().Find(abbrev); item != nil {
					return normalize(item.Value)
				}
				return nil
			},
		}
		if strings.HasPrefix(abbrev, pktc.FieldCiphersuite+".") {
			def.Multi = func(p *capture.PacketInfo) []any {
				if p.PKTC == nil {
					return nil
				}
				var out []any
				for _, item := range p.PKTC.Tree().FindAll(abbrev) {
					out = append(out, normalize(item.Value))
				}
				return out
			}
		}
		r.Register(def)
	}

	r.Register(&FieldDef{
		Name:        "pktc.version",
		Description: "Protocol version as major.minor",
		Type:        TypeString,
		Extractor: func(p *capture.PacketInfo) any {
			if p.Header == nil {
				return nil
			}
			return p.Header.Version()
		},
	})
	r.Register(&FieldDef{
		Name:        "pktc.malformed",
		Description: "Message failed to decode",
		Type:        TypeBool,
		Extractor: func(p *capture.PacketInfo) any {
			if !p.IsPKTC() {
				return nil
			}
			return p.Malformed()
		},
	})
	r.Register(&FieldDef{
		Name:        "pktc.error",
		Description: "Decode error",
		Type:        TypeString,
		Extractor: func(p *capture.PacketInfo) any {
			if p.DecodeErr == nil {
				return nil
			}
			return p.DecodeErr.Error()
		},
	})
	r.Register(&FieldDef{
		Name:        "pktc.trailing",
		Description: "Bytes after the message in the datagram",
		Type:        TypeInt,
		Extractor: func(p *capture.PacketInfo) any {
			if p.PKTC == nil {
				return nil
			}
			return p.Trailing
		},
	})
}

// headerValue serves header fields from the fallback header of malformed
// messages.
func headerValue(abbrev string, p *capture.PacketInfo) (any, bool) {
	if p.Header == nil {
		return nil, false
	}
	switch abbrev {
	case pktc.FieldKMMID:
		return int(p.Header.Type.Value), true
	case pktc.FieldDOI:
		return int(p.Header.DOI.Value), true
	case pktc.FieldVersionMajor:
		return int(p.Header.VersionMajor.Value), true
	case pktc.FieldVersionMinor:
		return int(p.Header.VersionMinor.Value), true
	}
	return nil, false
}

func normalize(v any) any {
	if b, ok := v.(uint8); ok {
		return int(b)
	}
	return v
}

func fieldType(k pktc.FieldKind) FieldType {
	switch k {
	case pktc.KindUint8:
		return TypeInt
	case pktc.KindUint32:
		return TypeUint32
	case pktc.KindBytes:
		return TypeBytes
	default:
		return TypeString
	}
}

// GetFieldInfo returns a formatted string describing a field
func (r *Registry) GetFieldInfo(name string) string {
	field := r.fields[name]
	if field == nil {
		return ""
	}
	return fmt.Sprintf("%s\t%s\t%s", field.Name, getTypeName(field.Type), field.Description)
}

func getTypeName(t FieldType) string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeUint16:
		return "uint16"
	case TypeUint32:
		return "uint32"
	case TypeBool:
		return "bool"
	case TypeBytes:
		return "bytes"
	case TypeFloat:
		return "float"
	case TypeTime:
		return "time"
	default:
		return "unknown"
	}
}
