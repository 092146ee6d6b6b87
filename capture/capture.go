package capture

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Zerofisher/pktcanalyzer/pktc"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// PacketInfo holds parsed packet information
type PacketInfo struct {
	Number    int
	Timestamp time.Time
	Length    int
	SrcMAC    string
	DstMAC    string
	SrcIP     string
	DstIP     string
	Protocol  string
	SrcPort   uint16
	DstPort   uint16
	Info      string
	RawData   []byte
	Layers    []LayerInfo

	// PKTC is set when the UDP payload decoded completely. Header is set
	// for every PKTC packet, including malformed ones, and DecodeErr says
	// why the body did not decode.
	PKTC      *pktc.Message
	Header    *pktc.Header
	DecodeErr error
	Payload   []byte // UDP payload
	Trailing  int    // bytes after the message
}

// IsPKTC reports whether the packet was sent to or from a PKTC port.
func (p *PacketInfo) IsPKTC() bool {
	return p.Protocol == "PKTC"
}

// Malformed reports whether a PKTC packet failed to decode.
func (p *PacketInfo) Malformed() bool {
	return p.DecodeErr != nil
}

// FlowKey identifies the direction of the packet as "src:port -> dst:port".
func (p *PacketInfo) FlowKey() string {
	return fmt.Sprintf("%s:%d -> %s:%d", p.SrcIP, p.SrcPort, p.DstIP, p.DstPort)
}

// ReverseFlowKey is FlowKey of a packet travelling the other way.
func (p *PacketInfo) ReverseFlowKey() string {
	return fmt.Sprintf("%s:%d -> %s:%d", p.DstIP, p.DstPort, p.SrcIP, p.SrcPort)
}

// LayerInfo holds information about a protocol layer
type LayerInfo struct {
	Name    string
	Details []string
}

// Capturer handles packet capture from interface or file
type Capturer struct {
	handle     *pcap.Handle
	packetChan chan PacketInfo
	stopChan   chan struct{}
	stopOnce   sync.Once
	counter    int
}

// ListInterfaces returns available network interfaces
func ListInterfaces() ([]pcap.Interface, error) {
	return pcap.FindAllDevs()
}

// NewLiveCapturer creates a capturer for live interface
func NewLiveCapturer(iface string, filter string) (*Capturer, error) {
	handle, err := pcap.OpenLive(iface, 65536, true, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("failed to open interface %s: %w", iface, err)
	}
	return newCapturer(handle, filter)
}

// NewFileCapturer creates a capturer for pcap file
func NewFileCapturer(filename string, filter string) (*Capturer, error) {
	handle, err := pcap.OpenOffline(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", filename, err)
	}
	return newCapturer(handle, filter)
}

func newCapturer(handle *pcap.Handle, filter string) (*Capturer, error) {
	if filter != "" {
		if err := handle.SetBPFFilter(filter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("failed to set BPF filter: %w", err)
		}
	}

	return &Capturer{
		handle:     handle,
		packetChan: make(chan PacketInfo, 1000),
		stopChan:   make(chan struct{}),
	}, nil
}

// Start begins packet capture
func (c *Capturer) Start() <-chan PacketInfo {
	go c.captureLoop()
	return c.packetChan
}

// Stop stops the capture
func (c *Capturer) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
		c.handle.Close()
	})
}

func (c *Capturer) captureLoop() {
	defer close(c.packetChan)

	packetSource := gopacket.NewPacketSource(c.handle, c.handle.LinkType())

	for {
		select {
		case <-c.stopChan:
			return
		case packet, ok := <-packetSource.Packets():
			if !ok {
				return
			}
			c.counter++
			info := ParsePacket(packet, c.counter)

			select {
			case c.packetChan <- info:
			case <-c.stopChan:
				return
			}
		}
	}
}

// ReadFile decodes every packet of a capture file.
func ReadFile(filename, filter string) ([]PacketInfo, error) {
	c, err := NewFileCapturer(filename, filter)
	if err != nil {
		return nil, err
	}
	defer c.handle.Close()

	var packets []PacketInfo
	for info := range c.Start() {
		packets = append(packets, info)
	}
	return packets, nil
}

// ParsePacket extracts addressing and the PKTC message from a decoded
// packet.
func ParsePacket(packet gopacket.Packet, number int) PacketInfo {
	info := PacketInfo{
		Number:    number,
		Timestamp: packet.Metadata().Timestamp,
		Length:    packet.Metadata().Length,
		RawData:   packet.Data(),
		Layers:    make([]LayerInfo, 0, 4),
	}
	if info.Length == 0 {
		info.Length = len(info.RawData)
	}

	if ethLayer := packet.Layer(layers.LayerTypeEthernet); ethLayer != nil {
		eth := ethLayer.(*layers.Ethernet)
		info.SrcMAC = eth.SrcMAC.String()
		info.DstMAC = eth.DstMAC.String()

		info.Layers = append(info.Layers, LayerInfo{
			Name: "Ethernet II",
			Details: []string{
				fmt.Sprintf("Source: %s", eth.SrcMAC),
				fmt.Sprintf("Destination: %s", eth.DstMAC),
				fmt.Sprintf("Type: %s (0x%04x)", eth.EthernetType, uint16(eth.EthernetType)),
			},
		})
	}

	if ipLayer := packet.Layer(layers.LayerTypeIPv4); ipLayer != nil {
		ip := ipLayer.(*layers.IPv4)
		info.SrcIP = ip.SrcIP.String()
		info.DstIP = ip.DstIP.String()
		info.Protocol = ip.Protocol.String()

		info.Layers = append(info.Layers, LayerInfo{
			Name: "IPv4",
			Details: []string{
				fmt.Sprintf("Total Length: %d", ip.Length),
				fmt.Sprintf("Identification: 0x%04x (%d)", ip.Id, ip.Id),
				fmt.Sprintf("TTL: %d", ip.TTL),
				fmt.Sprintf("Protocol: %s (%d)", ip.Protocol, uint8(ip.Protocol)),
				fmt.Sprintf("Source: %s", ip.SrcIP),
				fmt.Sprintf("Destination: %s", ip.DstIP),
			},
		})
	}

	if ipLayer := packet.Layer(layers.LayerTypeIPv6); ipLayer != nil {
		ip := ipLayer.(*layers.IPv6)
		info.SrcIP = ip.SrcIP.String()
		info.DstIP = ip.DstIP.String()
		info.Protocol = ip.NextHeader.String()

		info.Layers = append(info.Layers, LayerInfo{
			Name: "IPv6",
			Details: []string{
				fmt.Sprintf("Payload Length: %d", ip.Length),
				fmt.Sprintf("Next Header: %s (%d)", ip.NextHeader, uint8(ip.NextHeader)),
				fmt.Sprintf("Hop Limit: %d", ip.HopLimit),
				fmt.Sprintf("Source: %s", ip.SrcIP),
				fmt.Sprintf("Destination: %s", ip.DstIP),
			},
		})
	}

	if udpLayer := packet.Layer(layers.LayerTypeUDP); udpLayer != nil {
		udp := udpLayer.(*layers.UDP)
		info.Protocol = "UDP"
		info.SrcPort = uint16(udp.SrcPort)
		info.DstPort = uint16(udp.DstPort)
		info.Payload = udp.Payload
		info.Info = fmt.Sprintf("%s → %s Len=%d", FormatPort(info.SrcPort), FormatPort(info.DstPort), len(udp.Payload))

		info.Layers = append(info.Layers, LayerInfo{
			Name: "UDP",
			Details: []string{
				fmt.Sprintf("Source Port: %d", udp.SrcPort),
				fmt.Sprintf("Destination Port: %d", udp.DstPort),
				fmt.Sprintf("Length: %d", udp.Length),
				fmt.Sprintf("Checksum: 0x%04x", udp.Checksum),
			},
		})
	}

	if l := packet.Layer(LayerTypePKTC); l != nil {
		parsePKTC(&info, l.(*PKTC))
	} else if info.Protocol == "UDP" && len(info.Payload) > 0 && len(info.Payload) < pktc.HeaderSize &&
		(IsPKTCPort(info.SrcPort) || IsPKTCPort(info.DstPort)) {
		// gopacket reports this as a decode failure
		info.Protocol = "PKTC"
		info.DecodeErr = &pktc.DecodeError{
			Err:   pktc.ErrTruncatedInput,
			Field: pktc.FieldKMMID,
			Need:  pktc.HeaderSize,
			Have:  len(info.Payload),
		}
		info.Info = "[Malformed] " + info.DecodeErr.Error()
	}

	return info
}

func parsePKTC(info *PacketInfo, layer *PKTC) {
	hdr := layer.Header
	info.Protocol = "PKTC"
	info.Header = &hdr
	info.PKTC = layer.Message
	info.DecodeErr = layer.Err
	info.Info = Summary(layer.Message, hdr, layer.Err)

	var details []string
	if layer.Message != nil {
		info.Trailing = len(layer.Payload)
		layer.Message.Tree().Walk(func(item *pktc.Item, depth int) {
			if depth == 0 {
				return
			}
			details = append(details, strings.Repeat("  ", depth-1)+item.Label())
		})
		if info.Trailing > 0 {
			details = append(details, fmt.Sprintf("Trailing data: %d bytes", info.Trailing))
		}
	} else {
		details = append(details,
			fmt.Sprintf("Key Management Message ID: %s", hdr.Type.Value),
			fmt.Sprintf("Domain of Interpretation: %s", hdr.DOI.Value),
			fmt.Sprintf("Version: %s", hdr.Version()),
			fmt.Sprintf("[Malformed: %v]", layer.Err),
		)
	}

	info.Layers = append(info.Layers, LayerInfo{
		Name:    "PacketCable",
		Details: details,
	})
}

// Summary is the one-line description of a PKTC message. msg may be nil
// when err is set.
func Summary(msg *pktc.Message, hdr pktc.Header, err error) string {
	if err != nil {
		kind := "Malformed"
		if errors.Is(err, pktc.ErrUnsupportedDomainOrMessage) || errors.Is(err, pktc.ErrUnsupportedDomain) {
			kind = "Unsupported"
		}
		return fmt.Sprintf("[%s] %s (%s v%s): %v", kind, hdr.Type.Value, hdr.DOI.Value, hdr.Version(), err)
	}

	s := fmt.Sprintf("%s (%s v%s)", hdr.Type.Value, hdr.DOI.Value, hdr.Version())
	if ad := msg.AppData(); ad != nil {
		s += fmt.Sprintf(" user=%s", ad.UserName.Value)
	}
	if cs := msg.Ciphersuites(); cs != nil {
		names := make([]string, 0, len(cs.Suites))
		for _, suite := range cs.Suites {
			names = append(names, fmt.Sprintf("%s/%s", suite.Auth.Value, suite.Transform.Value))
		}
		s += fmt.Sprintf(" suites=[%s]", strings.Join(names, ", "))
	}
	if rep := msg.Reply(); rep != nil {
		s += fmt.Sprintf(" lifetime=%ds", rep.Lifetime.Value)
	}
	return s
}
