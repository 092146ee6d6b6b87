// Package kerberos frames the Kerberos AP-REQ / AP-REP blobs carried inside
// PacketCable key management messages.
//
// Only the outer DER element is examined: its length tells the caller how
// many bytes the blob occupies. Tickets and authenticators are not decoded
// and nothing is verified cryptographically.
package kerberos

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

// Application tags of the Kerberos messages that may appear in PKTC.
const (
	TagAPReq    = 14
	TagAPRep    = 15
	TagKRBError = 30
)

// Kerberos message types (the msg-type field).
const (
	MsgTypeAPReq    = 14
	MsgTypeAPRep    = 15
	MsgTypeKRBError = 30
)

const (
	classApplication = 0x40
	classConstructed = 0x20
	tagNumberMask    = 0x1f
)

var (
	ErrEmpty       = errors.New("kerberos: empty blob")
	ErrMalformed   = errors.New("kerberos: malformed DER element")
	ErrUnknownType = errors.New("kerberos: unexpected application tag")
)

// Message is the framing information of one blob.
type Message struct {
	Tag     int // application tag number, -1 when not an application tag
	Length  int // total bytes of the outer element
	PVNO    int // protocol version, -1 when absent
	MsgType int // msg-type, -1 when absent
}

// Name returns a readable name of the message kind.
func (m *Message) Name() string {
	switch m.Tag {
	case TagAPReq:
		return "AP-REQ"
	case TagAPRep:
		return "AP-REP"
	case TagKRBError:
		return "KRB-ERROR"
	default:
		return fmt.Sprintf("Unknown (tag %d)", m.Tag)
	}
}

// Parse reads the outer DER element at the start of data. Bytes after the
// element are left alone.
func Parse(data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}

	s := cryptobyte.String(data)
	var elem cryptobyte.String
	var tag asn1.Tag
	if !s.ReadAnyASN1Element(&elem, &tag) {
		return nil, ErrMalformed
	}

	msg := &Message{Tag: -1, Length: len(elem), PVNO: -1, MsgType: -1}
	if uint8(tag)&0xc0 == classApplication {
		msg.Tag = int(uint8(tag) & tagNumberMask)
	}

	// AP-REQ, AP-REP and KRB-ERROR all start with
	// SEQUENCE { [0] pvno INTEGER, [1] msg-type INTEGER, ... }
	if uint8(tag)&classConstructed != 0 {
		parseVersionAndType(elem, msg)
	}
	return msg, nil
}

func parseVersionAndType(elem cryptobyte.String, msg *Message) {
	var body, seq cryptobyte.String
	var tag asn1.Tag
	if !elem.ReadAnyASN1(&body, &tag) {
		return
	}
	if !body.ReadASN1(&seq, asn1.SEQUENCE) {
		return
	}

	var pvno, msgType int
	var field cryptobyte.String
	if seq.PeekASN1Tag(asn1.Tag(0).Constructed().ContextSpecific()) {
		if seq.ReadASN1(&field, asn1.Tag(0).Constructed().ContextSpecific()) && field.ReadASN1Integer(&pvno) {
			msg.PVNO = pvno
		}
	}
	if seq.PeekASN1Tag(asn1.Tag(1).Constructed().ContextSpecific()) {
		if seq.ReadASN1(&field, asn1.Tag(1).Constructed().ContextSpecific()) && field.ReadASN1Integer(&msgType) {
			msg.MsgType = msgType
		}
	}
}

// Decoder reports how many bytes an embedded blob occupies.
type Decoder struct {
	// Strict rejects elements that are not AP-REQ, AP-REP or KRB-ERROR.
	Strict bool
}

// Decode returns the length of the DER element at the start of data.
func (d Decoder) Decode(data []byte) (int, error) {
	msg, err := Parse(data)
	if err != nil {
		return 0, err
	}
	if d.Strict {
		switch msg.Tag {
		case TagAPReq, TagAPRep, TagKRBError:
		default:
			return 0, fmt.Errorf("%w: %s", ErrUnknownType, msg.Name())
		}
	}
	return msg.Length, nil
}
