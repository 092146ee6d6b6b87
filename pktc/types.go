// Package pktc decodes PacketCable key management messages (PKTC).
//
// A message is a 3 byte header (message id, domain of interpretation,
// version) followed by a body whose layout depends on the message id and
// the domain. Only AP Request and AP Reply carry a body layout; every other
// message id decodes to a header-only Message.
package pktc

import "fmt"

// DefaultPort is the UDP port PacketCable key management runs on.
const DefaultPort = 1293

// MACSize is the length of the trailing SHA1 MAC.
const MACSize = 20

// HeaderSize is the fixed length of the message header.
const HeaderSize = 3

// KMMID is the key management message id.
type KMMID uint8

// Key management message ids
const (
	KMMIDWakeUp      KMMID = 0x01
	KMMIDAPRequest   KMMID = 0x02
	KMMIDAPReply     KMMID = 0x03
	KMMIDSecParamRec KMMID = 0x04
	KMMIDRekey       KMMID = 0x05
	KMMIDErrorReply  KMMID = 0x06
)

var kmmidNames = map[KMMID]string{
	KMMIDWakeUp:      "Wake Up",
	KMMIDAPRequest:   "AP Request",
	KMMIDAPReply:     "AP Reply",
	KMMIDSecParamRec: "Security Parameter Recovered",
	KMMIDRekey:       "Rekey",
	KMMIDErrorReply:  "Error Reply",
}

// Known reports whether k is one of the defined message ids.
func (k KMMID) Known() bool {
	_, ok := kmmidNames[k]
	return ok
}

func (k KMMID) String() string {
	if name, ok := kmmidNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Unknown (0x%02x)", uint8(k))
}

// DOI is the domain of interpretation.
type DOI uint8

// Domains of interpretation
const (
	DOIIPSec  DOI = 1
	DOISNMPv3 DOI = 2
)

var doiNames = map[DOI]string{
	DOIIPSec:  "IPSec",
	DOISNMPv3: "SNMPv3",
}

// Known reports whether d is one of the defined domains.
func (d DOI) Known() bool {
	_, ok := doiNames[d]
	return ok
}

func (d DOI) String() string {
	if name, ok := doiNames[d]; ok {
		return name
	}
	return fmt.Sprintf("Unknown (%d)", uint8(d))
}

// AuthAlgorithm is an SNMPv3 authentication algorithm identifier.
type AuthAlgorithm uint8

// SNMPv3 authentication algorithms
const (
	AuthMD5HMAC  AuthAlgorithm = 0x21
	AuthSHA1HMAC AuthAlgorithm = 0x22
)

func (a AuthAlgorithm) String() string {
	switch a {
	case AuthMD5HMAC:
		return "MD5-HMAC"
	case AuthSHA1HMAC:
		return "SHA1-HMAC"
	default:
		return fmt.Sprintf("Unknown (0x%02x)", uint8(a))
	}
}

// EncryptionTransform is an SNMPv3 encryption transform identifier.
type EncryptionTransform uint8

// SNMPv3 encryption transforms
const (
	TransformNull EncryptionTransform = 0x20
	TransformDES  EncryptionTransform = 0x21
)

func (e EncryptionTransform) String() string {
	switch e {
	case TransformNull:
		return "SNMPv3 NULL (no encryption)"
	case TransformDES:
		return "SNMPv3 DES"
	default:
		return fmt.Sprintf("Unknown (0x%02x)", uint8(e))
	}
}

// Span locates a decoded element in the input buffer.
type Span struct {
	Offset int
	Length int
}

// End returns the offset just past the element.
func (s Span) End() int {
	return s.Offset + s.Length
}

// Field is a decoded value together with where it came from.
type Field[T any] struct {
	Span
	Value T
}

// Header holds the three leading fields every message carries.
type Header struct {
	Span
	Type         Field[KMMID]
	DOI          Field[DOI]
	VersionMajor Field[uint8] // high nibble of the version byte
	VersionMinor Field[uint8] // low nibble of the version byte
}

// Version returns the version as "major.minor".
func (h Header) Version() string {
	return fmt.Sprintf("%d.%d", h.VersionMajor.Value, h.VersionMinor.Value)
}

// Message is one decoded PKTC message.
type Message struct {
	Span
	Header

	// Body is nil when the message id has no body layout.
	Body Body
}

// Request returns the AP Request body, or nil.
func (m *Message) Request() *APRequest {
	r, _ := m.Body.(*APRequest)
	return r
}

// Reply returns the AP Reply body, or nil.
func (m *Message) Reply() *APReply {
	r, _ := m.Body.(*APReply)
	return r
}

// AppData returns the application specific data of either body kind.
func (m *Message) AppData() *AppData {
	switch b := m.Body.(type) {
	case *APRequest:
		return b.AppData
	case *APReply:
		return b.AppData
	}
	return nil
}

// Ciphersuites returns the ciphersuite list of either body kind.
func (m *Message) Ciphersuites() *CiphersuiteList {
	switch b := m.Body.(type) {
	case *APRequest:
		return b.Ciphersuites
	case *APReply:
		return b.Ciphersuites
	}
	return nil
}

// Body is implemented by *APRequest and *APReply.
type Body interface {
	Kind() KMMID
	body()
}

// APRequest is the body of an AP Request.
type APRequest struct {
	Span
	AuthBlob     Field[[]byte]
	ServerNonce  Field[uint32]
	AppData      *AppData
	Ciphersuites *CiphersuiteList
	Reestablish  Field[uint8]
	MAC          Field[[]byte]
}

func (*APRequest) Kind() KMMID { return KMMIDAPRequest }
func (*APRequest) body()       {}

// APReply is the body of an AP Reply. Ciphersuites holds the suite
// selected by the responder.
type APReply struct {
	Span
	AuthBlob     Field[[]byte]
	AppData      *AppData
	Ciphersuites *CiphersuiteList
	Lifetime     Field[uint32] // seconds
	GracePeriod  Field[uint32] // seconds
	Reestablish  Field[uint8]
	AckRequired  Field[uint8]
	MAC          Field[[]byte]
}

func (*APReply) Kind() KMMID { return KMMIDAPReply }
func (*APReply) body()       {}

// AppData is the SNMPv3 application specific data. Requests and replies
// share the layout; manager and agent engine ids are not told apart.
type AppData struct {
	Span
	EngineIDLen Field[uint8]
	EngineID    Field[[]byte]
	Boots       Field[uint32]
	Time        Field[uint32]
	UserNameLen Field[uint8]
	UserName    Field[string]
}

// CiphersuiteList is a count prefixed list of ciphersuites.
type CiphersuiteList struct {
	Span
	Count  Field[uint8]
	Suites []Ciphersuite
}

// Ciphersuite is one SNMPv3 (authentication, encryption) pair.
type Ciphersuite struct {
	Span
	Auth      Field[AuthAlgorithm]
	Transform Field[EncryptionTransform]
}
