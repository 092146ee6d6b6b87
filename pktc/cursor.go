package pktc

import "encoding/binary"

// cursor is the read position of one decode call. It is never shared
// between calls.
type cursor struct {
	data []byte
	off  int
}

func (c *cursor) remaining() int {
	return len(c.data) - c.off
}

// need fails with ErrTruncatedInput unless n more bytes are available.
func (c *cursor) need(n int, field string) error {
	if n < 0 || c.remaining() < n {
		return &DecodeError{
			Err:    ErrTruncatedInput,
			Field:  field,
			Offset: c.off,
			Need:   n,
			Have:   c.remaining(),
		}
	}
	return nil
}

func (c *cursor) uint8(field string) (Field[uint8], error) {
	if err := c.need(1, field); err != nil {
		return Field[uint8]{}, err
	}
	f := Field[uint8]{Span: Span{Offset: c.off, Length: 1}, Value: c.data[c.off]}
	c.off++
	return f, nil
}

func (c *cursor) uint32(field string) (Field[uint32], error) {
	if err := c.need(4, field); err != nil {
		return Field[uint32]{}, err
	}
	f := Field[uint32]{
		Span:  Span{Offset: c.off, Length: 4},
		Value: binary.BigEndian.Uint32(c.data[c.off : c.off+4]),
	}
	c.off += 4
	return f, nil
}

// bytes copies the next n bytes out of the buffer.
func (c *cursor) bytes(n int, field string) (Field[[]byte], error) {
	if err := c.need(n, field); err != nil {
		return Field[[]byte]{}, err
	}
	v := make([]byte, n)
	copy(v, c.data[c.off:c.off+n])
	f := Field[[]byte]{Span: Span{Offset: c.off, Length: n}, Value: v}
	c.off += n
	return f, nil
}

func (c *cursor) rest() []byte {
	return c.data[c.off:]
}
