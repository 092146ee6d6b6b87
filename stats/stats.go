// Package stats provides PKTC message statistics similar to tshark -z options
package stats

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/Zerofisher/pktcanalyzer/capture"
	"github.com/Zerofisher/pktcanalyzer/pktc"
)

// Manager collects and reports PKTC traffic statistics
type Manager struct {
	byKMMID     map[pktc.KMMID]int
	byDOI       map[pktc.DOI]int
	byUser      map[string]int
	endpoints   map[string]*Endpoint
	firstSeen   time.Time
	lastSeen    time.Time
	packets     int // all packets seen
	messages    int // PKTC packets
	malformed   int
	unsupported int
	trailing    int
	bytes       int64
}

// Endpoint represents PKTC traffic for a single address
type Endpoint struct {
	Address    string
	TxMessages int
	RxMessages int
	TxBytes    int64
	RxBytes    int64
	Requests   int // AP Requests sent
	Replies    int // AP Replies sent
	Malformed  int // malformed messages sent
}

// NewManager creates a new statistics manager
func NewManager() *Manager {
	return &Manager{
		byKMMID:   make(map[pktc.KMMID]int),
		byDOI:     make(map[pktc.DOI]int),
		byUser:    make(map[string]int),
		endpoints: make(map[string]*Endpoint),
	}
}

// ProcessPacket updates statistics with a new packet
func (m *Manager) ProcessPacket(pkt *capture.PacketInfo) {
	m.packets++
	if !pkt.IsPKTC() {
		return
	}

	if m.firstSeen.IsZero() || pkt.Timestamp.Before(m.firstSeen) {
		m.firstSeen = pkt.Timestamp
	}
	if pkt.Timestamp.After(m.lastSeen) {
		m.lastSeen = pkt.Timestamp
	}

	m.messages++
	m.bytes += int64(len(pkt.Payload))
	if pkt.Trailing > 0 {
		m.trailing++
	}

	if h := pkt.Header; h != nil {
		m.byKMMID[h.Type.Value]++
		m.byDOI[h.DOI.Value]++
	}

	if err := pkt.DecodeErr; err != nil {
		if errors.Is(err, pktc.ErrUnsupportedDomainOrMessage) || errors.Is(err, pktc.ErrUnsupportedDomain) {
			m.unsupported++
		} else {
			m.malformed++
		}
	} else if pkt.PKTC != nil {
		if ad := pkt.PKTC.AppData(); ad != nil {
			m.byUser[ad.UserName.Value]++
		}
	}

	m.updateEndpoints(pkt)
}

func (m *Manager) endpoint(addr string) *Endpoint {
	ep, ok := m.endpoints[addr]
	if !ok {
		ep = &Endpoint{Address: addr}
		m.endpoints[addr] = ep
	}
	return ep
}

func (m *Manager) updateEndpoints(pkt *capture.PacketInfo) {
	if pkt.SrcIP == "" || pkt.DstIP == "" {
		return
	}
	size := int64(len(pkt.Payload))

	src := m.endpoint(pkt.SrcIP)
	src.TxMessages++
	src.TxBytes += size
	if pkt.Malformed() {
		src.Malformed++
	} else if pkt.Header != nil {
		switch pkt.Header.Type.Value {
		case pktc.KMMIDAPRequest:
			src.Requests++
		case pktc.KMMIDAPReply:
			src.Replies++
		}
	}

	dst := m.endpoint(pkt.DstIP)
	dst.RxMessages++
	dst.RxBytes += size
}

// Summary is a snapshot of the collected counters
type Summary struct {
	Packets     int
	Messages    int
	Malformed   int
	Unsupported int
	Trailing    int
	Bytes       int64
	Duration    time.Duration
	ByKMMID     map[pktc.KMMID]int
	ByDOI       map[pktc.DOI]int
	ByUser      map[string]int
}

// Summary returns a copy of the collected counters
func (m *Manager) Summary() Summary {
	s := Summary{
		Packets:     m.packets,
		Messages:    m.messages,
		Malformed:   m.malformed,
		Unsupported: m.unsupported,
		Trailing:    m.trailing,
		Bytes:       m.bytes,
		Duration:    m.lastSeen.Sub(m.firstSeen),
		ByKMMID:     make(map[pktc.KMMID]int, len(m.byKMMID)),
		ByDOI:       make(map[pktc.DOI]int, len(m.byDOI)),
		ByUser:      make(map[string]int, len(m.byUser)),
	}
	for k, v := range m.byKMMID {
		s.ByKMMID[k] = v
	}
	for k, v := range m.byDOI {
		s.ByDOI[k] = v
	}
	for k, v := range m.byUser {
		s.ByUser[k] = v
	}
	return s
}

// Endpoints returns endpoints sorted by messages sent and received, busiest first
func (m *Manager) Endpoints() []*Endpoint {
	endpoints := make([]*Endpoint, 0, len(m.endpoints))
	for _, ep := range m.endpoints {
		endpoints = append(endpoints, ep)
	}
	sort.Slice(endpoints, func(i, j int) bool {
		ti := endpoints[i].TxMessages + endpoints[i].RxMessages
		tj := endpoints[j].TxMessages + endpoints[j].RxMessages
		if ti != tj {
			return ti > tj
		}
		return endpoints[i].Address < endpoints[j].Address
	})
	return endpoints
}

// PrintSummary writes message type and domain counts to the writer
func (m *Manager) PrintSummary(w io.Writer) {
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintln(w, "PKTC Message Statistics")
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintf(w, "Packets:       %d\n", m.packets)
	fmt.Fprintf(w, "PKTC messages: %d (%s)\n", m.messages, formatBytes(m.bytes))
	fmt.Fprintf(w, "Malformed:     %d\n", m.malformed)
	fmt.Fprintf(w, "Unsupported:   %d\n", m.unsupported)
	fmt.Fprintf(w, "Trailing data: %d\n", m.trailing)
	if m.messages > 0 {
		fmt.Fprintf(w, "Duration:      %s\n", formatDuration(m.lastSeen.Sub(m.firstSeen)))
	}

	fmt.Fprintln(w, "\nBy Message Type:")
	kmmids := make([]pktc.KMMID, 0, len(m.byKMMID))
	for k := range m.byKMMID {
		kmmids = append(kmmids, k)
	}
	sort.Slice(kmmids, func(i, j int) bool { return kmmids[i] < kmmids[j] })
	for _, k := range kmmids {
		fmt.Fprintf(w, "  0x%02x %-30s %8d %6.1f%%\n", uint8(k), k, m.byKMMID[k], m.percent(m.byKMMID[k]))
	}

	fmt.Fprintln(w, "\nBy Domain of Interpretation:")
	dois := make([]pktc.DOI, 0, len(m.byDOI))
	for d := range m.byDOI {
		dois = append(dois, d)
	}
	sort.Slice(dois, func(i, j int) bool { return dois[i] < dois[j] })
	for _, d := range dois {
		fmt.Fprintf(w, "  %-4d %-30s %8d %6.1f%%\n", uint8(d), d, m.byDOI[d], m.percent(m.byDOI[d]))
	}

	if len(m.byUser) > 0 {
		fmt.Fprintln(w, "\nBy SNMP User:")
		users := make([]string, 0, len(m.byUser))
		for u := range m.byUser {
			users = append(users, u)
		}
		sort.Strings(users)
		for _, u := range users {
			fmt.Fprintf(w, "  %-35s %8d\n", truncate(u, 35), m.byUser[u])
		}
	}
	fmt.Fprintln(w, "================================================================================")
}

// PrintEndpoints writes endpoint statistics to the writer
func (m *Manager) PrintEndpoints(w io.Writer) {
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintln(w, "PKTC Endpoints")
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintf(w, "%-40s %8s %8s %10s %8s %8s %9s\n",
		"Address", "Tx Msgs", "Rx Msgs", "Tx Bytes", "AP-REQ", "AP-REP", "Malformed")

	for _, ep := range m.Endpoints() {
		fmt.Fprintf(w, "%-40s %8d %8d %10s %8d %8d %9d\n",
			truncate(ep.Address, 40),
			ep.TxMessages,
			ep.RxMessages,
			formatBytes(ep.TxBytes),
			ep.Requests,
			ep.Replies,
			ep.Malformed,
		)
	}
	fmt.Fprintln(w, "================================================================================")
}

func (m *Manager) percent(n int) float64 {
	if m.messages == 0 {
		return 0
	}
	return float64(n) * 100 / float64(m.messages)
}

// Helper functions

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
	return fmt.Sprintf("%.1fh", d.Hours())
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
