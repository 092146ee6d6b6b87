// Package export provides packet export functionality in various formats
package export

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/Zerofisher/pktcanalyzer/capture"
	"github.com/Zerofisher/pktcanalyzer/fields"
	"github.com/Zerofisher/pktcanalyzer/pktc"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatText   OutputFormat = "text"
	FormatJSON   OutputFormat = "json"
	FormatFields OutputFormat = "fields"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case FormatText, FormatJSON, FormatFields:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, json or fields)", s)
	}
}

// Exporter handles packet export
type Exporter struct {
	format      OutputFormat
	writer      io.Writer
	registry    *fields.Registry
	fields      []string // for -e field extraction
	showHeader  bool     // -E header=y
	showDetail  bool     // -V verbose
	showHex     bool     // -x hex dump
	count       int      // packets exported
	maxCount    int      // -c limit (0 = unlimited)
	firstPacket bool     // track first packet for JSON array
}

// NewExporter creates a new exporter
func NewExporter(w io.Writer, format OutputFormat) *Exporter {
	return &Exporter{
		format:      format,
		writer:      w,
		registry:    fields.NewRegistry(),
		firstPacket: true,
	}
}

// SetFields sets the fields to extract (for -T fields -e)
func (e *Exporter) SetFields(fieldNames []string) {
	e.fields = fieldNames
}

// SetShowHeader prints field names before the first row of field output
func (e *Exporter) SetShowHeader(v bool) {
	e.showHeader = v
}

// SetMaxCount sets the maximum packet count
func (e *Exporter) SetMaxCount(n int) {
	e.maxCount = n
}

// SetShowDetail enables verbose output
func (e *Exporter) SetShowDetail(v bool) {
	e.showDetail = v
}

// SetShowHex enables hex dump output
func (e *Exporter) SetShowHex(v bool) {
	e.showHex = v
}

// Count returns the number of packets exported so far
func (e *Exporter) Count() int {
	return e.count
}

// ShouldStop returns true if we've reached the packet limit
func (e *Exporter) ShouldStop() bool {
	return e.maxCount > 0 && e.count >= e.maxCount
}

// ExportPacket exports a single packet
func (e *Exporter) ExportPacket(pkt *capture.PacketInfo) error {
	if e.ShouldStop() {
		return nil
	}

	var err error
	switch e.format {
	case FormatJSON:
		err = e.exportJSON(pkt)
	case FormatFields:
		err = e.exportFields(pkt)
	default:
		err = e.exportText(pkt)
	}

	if err == nil {
		e.count++
	}
	return err
}

// Start writes any header needed for the format
func (e *Exporter) Start() error {
	switch e.format {
	case FormatJSON:
		_, err := fmt.Fprintln(e.writer, "[")
		return err
	case FormatFields:
		if e.showHeader && len(e.fields) > 0 {
			_, err := fmt.Fprintln(e.writer, strings.Join(e.fields, "\t"))
			return err
		}
	}
	return nil
}

// Finish writes any footer needed for the format
func (e *Exporter) Finish() error {
	if e.format == FormatJSON {
		if !e.firstPacket {
			fmt.Fprintln(e.writer)
		}
		_, err := fmt.Fprintln(e.writer, "]")
		return err
	}
	return nil
}

// exportText exports packet in text format (one line summary)
func (e *Exporter) exportText(pkt *capture.PacketInfo) error {
	// Format: No. Time Source Destination Protocol Length Info
	line := fmt.Sprintf("%d\t%s\t%s\t%s\t%s\t%d\t%s",
		pkt.Number,
		pkt.Timestamp.Format("15:04:05.000000"),
		endpoint(pkt.SrcIP, pkt.SrcPort),
		endpoint(pkt.DstIP, pkt.DstPort),
		pkt.Protocol,
		pkt.Length,
		pkt.Info,
	)

	if _, err := fmt.Fprintln(e.writer, line); err != nil {
		return err
	}

	if e.showDetail {
		if err := e.exportDetail(pkt); err != nil {
			return err
		}
	}

	if e.showHex {
		fmt.Fprintf(e.writer, "\nHex dump of packet %d (%d bytes):\n", pkt.Number, len(pkt.RawData))
		if err := HexDump(e.writer, pkt.RawData); err != nil {
			return err
		}
		fmt.Fprintln(e.writer)
	}

	return nil
}

func endpoint(ip string, port uint16) string {
	if port == 0 {
		return ip
	}
	return fmt.Sprintf("%s:%d", ip, port)
}

// PacketJSON represents a packet in JSON format
type PacketJSON struct {
	FrameNumber    int         `json:"frame.number"`
	FrameTime      string      `json:"frame.time"`
	FrameTimeEpoch float64     `json:"frame.time_epoch"`
	FrameLen       int         `json:"frame.len"`
	FrameProtocols string      `json:"frame.protocols"`
	EthSrc         string      `json:"eth.src,omitempty"`
	EthDst         string      `json:"eth.dst,omitempty"`
	IPSrc          string      `json:"ip.src,omitempty"`
	IPDst          string      `json:"ip.dst,omitempty"`
	UDPSrcPort     *uint16     `json:"udp.srcport,omitempty"`
	UDPDstPort     *uint16     `json:"udp.dstport,omitempty"`
	Protocol       string      `json:"protocol"`
	Info           string      `json:"info"`
	PKTC           *PKTCJSON   `json:"pktc,omitempty"`
	Layers         []LayerJSON `json:"layers,omitempty"`
}

// PKTCJSON is the decoded message. Tree is absent for malformed messages.
type PKTCJSON struct {
	KMMID     uint8     `json:"kmmid"`
	Type      string    `json:"type"`
	DOI       uint8     `json:"doi"`
	Version   string    `json:"version"`
	Length    int       `json:"length,omitempty"`
	Trailing  int       `json:"trailing,omitempty"`
	Error     string    `json:"error,omitempty"`
	ErrOffset *int      `json:"error_offset,omitempty"`
	Tree      *TreeJSON `json:"tree,omitempty"`
}

// TreeJSON is one node of the display tree with its byte range.
type TreeJSON struct {
	Field    string      `json:"field"`
	Name     string      `json:"name"`
	Offset   int         `json:"offset"`
	Length   int         `json:"length"`
	Value    any         `json:"value,omitempty"`
	Display  string      `json:"display"`
	Children []*TreeJSON `json:"children,omitempty"`
}

// LayerJSON represents a protocol layer in JSON
type LayerJSON struct {
	Name    string   `json:"name"`
	Details []string `json:"details,omitempty"`
}

// NewPKTCJSON builds the JSON form of a message header and, when msg is
// not nil, its tree.
func NewPKTCJSON(hdr pktc.Header, msg *pktc.Message, decodeErr error) *PKTCJSON {
	out := &PKTCJSON{
		KMMID:   uint8(hdr.Type.Value),
		Type:    hdr.Type.Value.String(),
		DOI:     uint8(hdr.DOI.Value),
		Version: hdr.Version(),
	}
	if decodeErr != nil {
		out.Error = decodeErr.Error()
		if off := pktc.ErrorOffset(decodeErr); off >= 0 {
			out.ErrOffset = &off
		}
	}
	if msg != nil {
		out.Length = msg.Length
		out.Tree = treeJSON(msg.Tree())
	}
	return out
}

func treeJSON(item *pktc.Item) *TreeJSON {
	node := &TreeJSON{
		Field:   item.Info.Abbrev,
		Name:    item.Info.Name,
		Offset:  item.Offset,
		Length:  item.Length,
		Display: item.Label(),
	}
	switch v := item.Value.(type) {
	case []byte:
		node.Value = hex.EncodeToString(v)
	case nil:
	default:
		node.Value = v
	}
	for _, child := range item.Children {
		node.Children = append(node.Children, treeJSON(child))
	}
	return node
}

// exportJSON exports packet in JSON format
func (e *Exporter) exportJSON(pkt *capture.PacketInfo) error {
	var protocols []string
	for _, layer := range pkt.Layers {
		protocols = append(protocols, strings.ToLower(strings.ReplaceAll(layer.Name, " ", "_")))
	}

	pktJSON := PacketJSON{
		FrameNumber:    pkt.Number,
		FrameTime:      pkt.Timestamp.Format("2006-01-02T15:04:05.000000Z07:00"),
		FrameTimeEpoch: float64(pkt.Timestamp.UnixNano()) / 1e9,
		FrameLen:       pkt.Length,
		FrameProtocols: strings.Join(protocols, ":"),
		EthSrc:         pkt.SrcMAC,
		EthDst:         pkt.DstMAC,
		IPSrc:          pkt.SrcIP,
		IPDst:          pkt.DstIP,
		Protocol:       pkt.Protocol,
		Info:           pkt.Info,
	}

	if pkt.SrcPort != 0 || pkt.DstPort != 0 {
		srcPort, dstPort := pkt.SrcPort, pkt.DstPort
		pktJSON.UDPSrcPort = &srcPort
		pktJSON.UDPDstPort = &dstPort
	}

	if pkt.Header != nil {
		pktJSON.PKTC = NewPKTCJSON(*pkt.Header, pkt.PKTC, pkt.DecodeErr)
		pktJSON.PKTC.Trailing = pkt.Trailing
	}

	for _, layer := range pkt.Layers {
		pktJSON.Layers = append(pktJSON.Layers, LayerJSON{
			Name:    layer.Name,
			Details: layer.Details,
		})
	}

	data, err := json.Marshal(pktJSON)
	if err != nil {
		return err
	}

	// Handle JSON array formatting
	if e.firstPacket {
		e.firstPacket = false
		_, err = fmt.Fprintf(e.writer, "  %s", data)
	} else {
		_, err = fmt.Fprintf(e.writer, ",\n  %s", data)
	}

	return err
}

// exportFields exports specific fields (for -T fields -e)
func (e *Exporter) exportFields(pkt *capture.PacketInfo) error {
	values := make([]string, len(e.fields))

	for i, fieldName := range e.fields {
		values[i] = e.registry.ExtractString(fieldName, pkt)
	}

	_, err := fmt.Fprintln(e.writer, strings.Join(values, "\t"))
	return err
}

// exportDetail exports packet detail (for -V)
func (e *Exporter) exportDetail(pkt *capture.PacketInfo) error {
	fmt.Fprintf(e.writer, "\nFrame %d: %d bytes on wire\n", pkt.Number, pkt.Length)
	fmt.Fprintf(e.writer, "    Arrival Time: %s\n", pkt.Timestamp.Format("2006-01-02 15:04:05.000000"))

	for _, layer := range pkt.Layers {
		if layer.Name == "PacketCable" && pkt.PKTC != nil {
			fmt.Fprintf(e.writer, "\n%s:\n", layer.Name)
			if err := WriteTree(e.writer, pkt.PKTC.Tree(), 1); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintf(e.writer, "\n%s:\n", layer.Name)
		for _, detail := range layer.Details {
			fmt.Fprintf(e.writer, "    %s\n", detail)
		}
	}

	_, err := fmt.Fprintln(e.writer)
	return err
}

// WriteTree prints the tree below root with each item's byte range, one
// item per line, indented by depth.
func WriteTree(w io.Writer, root *pktc.Item, indent int) error {
	var err error
	root.Walk(func(item *pktc.Item, depth int) {
		if err != nil {
			return
		}
		_, err = fmt.Fprintf(w, "%s[%d+%d] %s\n",
			strings.Repeat("    ", indent+depth), item.Offset, item.Length, item.Label())
	})
	return err
}

// HexDump writes data as offset, hex and ASCII columns.
func HexDump(w io.Writer, data []byte) error {
	const bytesPerLine = 16
	var b strings.Builder
	for i := 0; i < len(data); i += bytesPerLine {
		fmt.Fprintf(&b, "%08x  ", i)

		for j := 0; j < bytesPerLine; j++ {
			if i+j < len(data) {
				fmt.Fprintf(&b, "%02x ", data[i+j])
			} else {
				b.WriteString("   ")
			}
			if j == 7 {
				b.WriteString(" ")
			}
		}

		b.WriteString(" |")
		for j := 0; j < bytesPerLine && i+j < len(data); j++ {
			c := data[i+j]
			if c >= 32 && c <= 126 {
				b.WriteByte(c)
			} else {
				b.WriteByte('.')
			}
		}
		b.WriteString("|\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}
