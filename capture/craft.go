package capture

import (
	"fmt"
	"net"

	"github.com/Zerofisher/pktcanalyzer/pktc"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Endpoint is one side of a crafted frame.
type Endpoint struct {
	MAC  net.HardwareAddr
	IP   net.IP
	Port uint16
}

// FrameOptions addresses a crafted frame.
type FrameOptions struct {
	Src Endpoint
	Dst Endpoint
	TTL uint8
}

// DefaultFrameOptions sends from an MTA to a CMS on the PKTC port.
func DefaultFrameOptions() FrameOptions {
	return FrameOptions{
		Src: Endpoint{
			MAC:  net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
			IP:   net.IPv4(10, 0, 0, 2),
			Port: pktc.DefaultPort,
		},
		Dst: Endpoint{
			MAC:  net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xaa},
			IP:   net.IPv4(10, 0, 0, 1),
			Port: pktc.DefaultPort,
		},
		TTL: 64,
	}
}

// Reverse swaps source and destination.
func (o FrameOptions) Reverse() FrameOptions {
	o.Src, o.Dst = o.Dst, o.Src
	return o
}

// BuildFrame serializes payload as the body of an Ethernet/IPv4/UDP frame
// with lengths and checksums filled in.
func BuildFrame(payload []byte, opts FrameOptions) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       opts.Src.MAC,
		DstMAC:       opts.Dst.MAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      opts.TTL,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    opts.Src.IP.To4(),
		DstIP:    opts.Dst.IP.To4(),
	}
	if ip.SrcIP == nil || ip.DstIP == nil {
		return nil, fmt.Errorf("crafted frames need IPv4 addresses, got %s -> %s", opts.Src.IP, opts.Dst.IP)
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(opts.Src.Port),
		DstPort: layers.UDPPort(opts.Dst.Port),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, fmt.Errorf("failed to set checksum layer: %w", err)
	}

	buf := gopacket.NewSerializeBuffer()
	serializeOpts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, serializeOpts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("failed to serialize frame: %w", err)
	}
	return buf.Bytes(), nil
}
