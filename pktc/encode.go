package pktc

import (
	"encoding/binary"
	"fmt"
)

// Encode serializes m from its field values. Spans, length prefixes and
// the ciphersuite count are ignored and derived from the data, so a
// message built by hand only needs its values set.
func Encode(m *Message) ([]byte, error) {
	if m.VersionMajor.Value > 0x0f || m.VersionMinor.Value > 0x0f {
		return nil, fmt.Errorf("pktc: version %s does not fit in one byte", m.Version())
	}

	buf := []byte{
		byte(m.Type.Value),
		byte(m.DOI.Value),
		m.VersionMajor.Value<<4 | m.VersionMinor.Value,
	}

	var err error
	switch b := m.Body.(type) {
	case nil:
		return buf, nil
	case *APRequest:
		if m.Type.Value != KMMIDAPRequest {
			return nil, fmt.Errorf("pktc: AP Request body under message id %s", m.Type.Value)
		}
		buf = append(buf, b.AuthBlob.Value...)
		buf = binary.BigEndian.AppendUint32(buf, b.ServerNonce.Value)
		if buf, err = appendAppData(buf, b.AppData); err != nil {
			return nil, err
		}
		if buf, err = appendCiphersuites(buf, b.Ciphersuites); err != nil {
			return nil, err
		}
		buf = append(buf, b.Reestablish.Value)
		return appendMAC(buf, b.MAC.Value)
	case *APReply:
		if m.Type.Value != KMMIDAPReply {
			return nil, fmt.Errorf("pktc: AP Reply body under message id %s", m.Type.Value)
		}
		buf = append(buf, b.AuthBlob.Value...)
		if buf, err = appendAppData(buf, b.AppData); err != nil {
			return nil, err
		}
		if buf, err = appendCiphersuites(buf, b.Ciphersuites); err != nil {
			return nil, err
		}
		buf = binary.BigEndian.AppendUint32(buf, b.Lifetime.Value)
		buf = binary.BigEndian.AppendUint32(buf, b.GracePeriod.Value)
		buf = append(buf, b.Reestablish.Value, b.AckRequired.Value)
		return appendMAC(buf, b.MAC.Value)
	default:
		return nil, fmt.Errorf("pktc: unsupported body %T", b)
	}
}

func appendAppData(buf []byte, ad *AppData) ([]byte, error) {
	if ad == nil {
		return nil, fmt.Errorf("pktc: missing application specific data")
	}
	if len(ad.EngineID.Value) > 0xff {
		return nil, fmt.Errorf("pktc: engine id is %d bytes, max 255", len(ad.EngineID.Value))
	}
	if len(ad.UserName.Value) > 0xff {
		return nil, fmt.Errorf("pktc: user name is %d bytes, max 255", len(ad.UserName.Value))
	}

	buf = append(buf, byte(len(ad.EngineID.Value)))
	buf = append(buf, ad.EngineID.Value...)
	buf = binary.BigEndian.AppendUint32(buf, ad.Boots.Value)
	buf = binary.BigEndian.AppendUint32(buf, ad.Time.Value)
	buf = append(buf, byte(len(ad.UserName.Value)))
	buf = append(buf, ad.UserName.Value...)
	return buf, nil
}

func appendCiphersuites(buf []byte, l *CiphersuiteList) ([]byte, error) {
	if l == nil {
		return append(buf, 0), nil
	}
	if len(l.Suites) > 0xff {
		return nil, fmt.Errorf("pktc: %d ciphersuites, max 255", len(l.Suites))
	}
	buf = append(buf, byte(len(l.Suites)))
	for _, s := range l.Suites {
		buf = append(buf, byte(s.Auth.Value), byte(s.Transform.Value))
	}
	return buf, nil
}

func appendMAC(buf []byte, mac []byte) ([]byte, error) {
	if len(mac) != MACSize {
		return nil, fmt.Errorf("pktc: MAC is %d bytes, want %d", len(mac), MACSize)
	}
	return append(buf, mac...), nil
}
