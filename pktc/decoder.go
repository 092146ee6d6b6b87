package pktc

import "errors"

// AuthDecoder decodes the Kerberos blob embedded in AP Request and AP
// Reply bodies. Decode is handed everything from the start of the blob to
// the end of the buffer and reports how many bytes the blob occupies.
type AuthDecoder interface {
	Decode(data []byte) (int, error)
}

// AuthDecoderFunc adapts a function to AuthDecoder.
type AuthDecoderFunc func(data []byte) (int, error)

// Decode calls f(data).
func (f AuthDecoderFunc) Decode(data []byte) (int, error) {
	return f(data)
}

// Decoder decodes PKTC messages. It holds no per-call state and may be
// used from multiple goroutines.
type Decoder struct {
	auth AuthDecoder
}

// NewDecoder returns a Decoder that hands embedded authentication blobs
// to auth.
func NewDecoder(auth AuthDecoder) *Decoder {
	return &Decoder{auth: auth}
}

// ParseHeader decodes the 3 byte message header at start. Unknown message
// ids and domains are returned as is.
func ParseHeader(buf []byte, start int) (Header, error) {
	if start < 0 || start > len(buf) {
		return Header{}, &DecodeError{Err: ErrTruncatedInput, Field: FieldKMMID, Offset: start, Need: HeaderSize}
	}
	c := &cursor{data: buf, off: start}
	return parseHeader(c)
}

func parseHeader(c *cursor) (Header, error) {
	h := Header{Span: Span{Offset: c.off, Length: HeaderSize}}
	if err := c.need(HeaderSize, FieldKMMID); err != nil {
		return Header{}, err
	}

	kmmid, _ := c.uint8(FieldKMMID)
	h.Type = Field[KMMID]{Span: kmmid.Span, Value: KMMID(kmmid.Value)}

	doi, _ := c.uint8(FieldDOI)
	h.DOI = Field[DOI]{Span: doi.Span, Value: DOI(doi.Value)}

	version, _ := c.uint8(FieldVersionMajor)
	h.VersionMajor = Field[uint8]{Span: version.Span, Value: (version.Value >> 4) & 0x0f}
	h.VersionMinor = Field[uint8]{Span: version.Span, Value: version.Value & 0x0f}

	return h, nil
}

// Decode decodes the message that starts at buf[start]. The returned
// message's End is the offset just past the last byte consumed. Message
// ids without a body layout decode to a header-only message.
func (d *Decoder) Decode(buf []byte, start int) (*Message, error) {
	if start < 0 || start > len(buf) {
		return nil, &DecodeError{Err: ErrTruncatedInput, Field: FieldKMMID, Offset: start, Need: HeaderSize}
	}
	c := &cursor{data: buf, off: start}

	hdr, err := parseHeader(c)
	if err != nil {
		return nil, err
	}
	msg := &Message{Header: hdr}

	switch hdr.Type.Value {
	case KMMIDAPRequest:
		msg.Body, err = d.parseRequest(c, hdr.DOI.Value)
	case KMMIDAPReply:
		msg.Body, err = d.parseReply(c, hdr.DOI.Value)
	}
	if err != nil {
		return nil, err
	}

	msg.Span = Span{Offset: start, Length: c.off - start}
	return msg, nil
}

func (d *Decoder) parseRequest(c *cursor, doi DOI) (*APRequest, error) {
	var err error
	req := &APRequest{}
	start := c.off

	if req.AuthBlob, err = d.parseAuthBlob(c); err != nil {
		return nil, err
	}
	if req.ServerNonce, err = c.uint32(FieldServerNonce); err != nil {
		return nil, err
	}
	if req.AppData, err = parseAppData(c, doi, KMMIDAPRequest); err != nil {
		return nil, err
	}
	if req.Ciphersuites, err = parseCiphersuites(c, doi); err != nil {
		return nil, err
	}
	if req.Reestablish, err = c.uint8(FieldReestablish); err != nil {
		return nil, err
	}
	if req.MAC, err = c.bytes(MACSize, FieldMAC); err != nil {
		return nil, err
	}

	req.Span = Span{Offset: start, Length: c.off - start}
	return req, nil
}

func (d *Decoder) parseReply(c *cursor, doi DOI) (*APReply, error) {
	var err error
	rep := &APReply{}
	start := c.off

	if rep.AuthBlob, err = d.parseAuthBlob(c); err != nil {
		return nil, err
	}
	if rep.AppData, err = parseAppData(c, doi, KMMIDAPReply); err != nil {
		return nil, err
	}
	if rep.Ciphersuites, err = parseCiphersuites(c, doi); err != nil {
		return nil, err
	}
	if rep.Lifetime, err = c.uint32(FieldLifetime); err != nil {
		return nil, err
	}
	if rep.GracePeriod, err = c.uint32(FieldGracePeriod); err != nil {
		return nil, err
	}
	if rep.Reestablish, err = c.uint8(FieldReestablish); err != nil {
		return nil, err
	}
	if rep.AckRequired, err = c.uint8(FieldAckRequired); err != nil {
		return nil, err
	}
	if rep.MAC, err = c.bytes(MACSize, FieldMAC); err != nil {
		return nil, err
	}

	rep.Span = Span{Offset: start, Length: c.off - start}
	return rep, nil
}

// parseAuthBlob runs the nested decoder over the rest of the buffer and
// only advances by its consumed count once that count fits.
func (d *Decoder) parseAuthBlob(c *cursor) (Field[[]byte], error) {
	if d.auth == nil {
		return Field[[]byte]{}, &DecodeError{
			Err:    ErrAuthBlob,
			Field:  FieldAuthBlob,
			Offset: c.off,
			Cause:  errors.New("no authentication blob decoder configured"),
		}
	}

	n, err := d.auth.Decode(c.rest())
	if err != nil {
		return Field[[]byte]{}, &DecodeError{
			Err:    ErrAuthBlob,
			Field:  FieldAuthBlob,
			Offset: c.off,
			Cause:  err,
		}
	}
	if n < 0 || n > c.remaining() {
		return Field[[]byte]{}, &DecodeError{
			Err:    ErrNestedDecoderOverrun,
			Field:  FieldAuthBlob,
			Offset: c.off,
			Need:   n,
			Have:   c.remaining(),
		}
	}
	return c.bytes(n, FieldAuthBlob)
}
