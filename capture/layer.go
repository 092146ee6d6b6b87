package capture

import (
	"sync"
	"sync/atomic"

	"github.com/Zerofisher/pktcanalyzer/kerberos"
	"github.com/Zerofisher/pktcanalyzer/pktc"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// LayerTypePKTC type registration
var LayerTypePKTC = gopacket.RegisterLayerType(1293, gopacket.LayerTypeMetadata{Name: "PKTC", Decoder: gopacket.DecodeFunc(decodePKTC)})

var (
	layerDecoder atomic.Pointer[pktc.Decoder]

	portsMu sync.Mutex
	ports   = map[uint16]bool{}
)

func init() {
	SetAuthDecoder(kerberos.Decoder{})
	RegisterPort(pktc.DefaultPort)
}

// SetAuthDecoder replaces the decoder used for embedded Kerberos blobs by
// every PKTC layer decoded afterwards.
func SetAuthDecoder(auth pktc.AuthDecoder) {
	layerDecoder.Store(pktc.NewDecoder(auth))
}

// RegisterPort makes gopacket decode UDP payloads on port as PKTC.
func RegisterPort(port uint16) {
	portsMu.Lock()
	defer portsMu.Unlock()
	if ports[port] {
		return
	}
	ports[port] = true
	layers.RegisterUDPPortLayerType(layers.UDPPort(port), LayerTypePKTC)
}

// IsPKTCPort reports whether port has been registered.
func IsPKTCPort(port uint16) bool {
	portsMu.Lock()
	defer portsMu.Unlock()
	return ports[port]
}

// PKTC is a PacketCable key management message. When the body cannot be
// decoded the layer still carries the header and Err says why.
type PKTC struct {
	layers.BaseLayer
	Header  pktc.Header
	Message *pktc.Message
	Err     error
}

// LayerType returns LayerTypePKTC
func (p *PKTC) LayerType() gopacket.LayerType {
	return LayerTypePKTC
}

// DecodeFromBytes decodes the given bytes into this layer. Only a payload
// too short for the header is an error.
func (p *PKTC) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	hdr, err := pktc.ParseHeader(data, 0)
	if err != nil {
		df.SetTruncated()
		return err
	}
	p.Header = hdr

	msg, err := layerDecoder.Load().Decode(data, 0)
	if err != nil {
		p.Message = nil
		p.Err = err
		p.Contents = data
		p.Payload = nil
		return nil
	}

	p.Message = msg
	p.Err = nil
	p.Contents = data[:msg.End()]
	p.Payload = data[msg.End():]
	return nil
}

// CanDecode returns the set of layer types that this DecodingLayer can decode.
func (p *PKTC) CanDecode() gopacket.LayerClass {
	return LayerTypePKTC
}

// NextLayerType returns the layer type contained by this DecodingLayer.
func (p *PKTC) NextLayerType() gopacket.LayerType {
	if len(p.Payload) > 0 {
		return gopacket.LayerTypePayload
	}
	return gopacket.LayerTypeZero
}

// Malformed reports whether the body failed to decode.
func (p *PKTC) Malformed() bool {
	return p.Err != nil
}

func decodePKTC(data []byte, p gopacket.PacketBuilder) error {
	layer := &PKTC{}
	err := layer.DecodeFromBytes(data, p)
	if err != nil {
		return err
	}
	p.AddLayer(layer)

	return p.NextDecoder(layer.NextLayerType())
}
