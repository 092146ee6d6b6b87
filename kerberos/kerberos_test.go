package kerberos

import (
	"errors"
	"testing"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

// buildAP returns a minimal DER Kerberos message with the given
// application tag, pvno and msg-type, followed by a filler field.
func buildAP(t *testing.T, appTag uint8, pvno, msgType int64, filler int) []byte {
	t.Helper()
	var b cryptobyte.Builder
	b.AddASN1(asn1.Tag(classApplication|classConstructed|appTag), func(b *cryptobyte.Builder) {
		b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1(asn1.Tag(0).Constructed().ContextSpecific(), func(b *cryptobyte.Builder) {
				b.AddASN1Int64(pvno)
			})
			b.AddASN1(asn1.Tag(1).Constructed().ContextSpecific(), func(b *cryptobyte.Builder) {
				b.AddASN1Int64(msgType)
			})
			b.AddASN1(asn1.Tag(2).Constructed().ContextSpecific(), func(b *cryptobyte.Builder) {
				b.AddASN1OctetString(make([]byte, filler))
			})
		})
	})
	data, err := b.Bytes()
	if err != nil {
		t.Fatalf("Failed to build DER: %v", err)
	}
	return data
}

func TestParseAPReq(t *testing.T) {
	data := buildAP(t, TagAPReq, 5, MsgTypeAPReq, 10)
	msg, err := Parse(data)
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}
	if msg.Tag != TagAPReq || msg.Name() != "AP-REQ" {
		t.Errorf("tag = %d (%s), want AP-REQ", msg.Tag, msg.Name())
	}
	if msg.PVNO != 5 || msg.MsgType != MsgTypeAPReq {
		t.Errorf("pvno/msg-type = %d/%d, want 5/14", msg.PVNO, msg.MsgType)
	}
	if msg.Length != len(data) {
		t.Errorf("length = %d, want %d", msg.Length, len(data))
	}
}

func TestDecodeIgnoresTrailingBytes(t *testing.T) {
	blob := buildAP(t, TagAPRep, 5, MsgTypeAPRep, 200) // long form length
	data := append(append([]byte{}, blob...), 0x00, 0x00, 0x00, 0x01, 0xff)

	n, err := Decoder{Strict: true}.Decode(data)
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if n != len(blob) {
		t.Errorf("consumed %d bytes, want %d", n, len(blob))
	}
}

func TestDecodeStrict(t *testing.T) {
	data := buildAP(t, 22, 5, 22, 0)

	if _, err := (Decoder{Strict: true}).Decode(data); !errors.Is(err, ErrUnknownType) {
		t.Errorf("strict: got %v, want unknown type", err)
	}
	n, err := Decoder{}.Decode(data)
	if err != nil {
		t.Fatalf("lenient: unexpected error %v", err)
	}
	if n != len(data) {
		t.Errorf("lenient: consumed %d bytes, want %d", n, len(data))
	}
}

func TestDecodeMalformed(t *testing.T) {
	full := buildAP(t, TagAPReq, 5, MsgTypeAPReq, 4)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrEmpty},
		{"truncated", full[:len(full)-1], ErrMalformed},
		{"tag only", full[:1], ErrMalformed},
		{"non minimal length", []byte{0x6e, 0x81, 0x01, 0x00}, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := (Decoder{}).Decode(tt.data); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParsePrimitive(t *testing.T) {
	// OCTET STRING: not an application tag, no version fields
	msg, err := Parse([]byte{0x04, 0x02, 0xaa, 0xbb, 0xcc})
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}
	if msg.Tag != -1 || msg.PVNO != -1 || msg.MsgType != -1 {
		t.Errorf("got %+v, want no tag or version", msg)
	}
	if msg.Length != 4 {
		t.Errorf("length = %d, want 4", msg.Length)
	}
}
