package pktc

import (
	"errors"
	"fmt"
)

// Decode failure kinds. Every error returned by the decoder wraps exactly
// one of these in a *DecodeError.
var (
	ErrTruncatedInput             = errors.New("truncated input")
	ErrNestedDecoderOverrun       = errors.New("nested decoder overran buffer")
	ErrUnsupportedDomainOrMessage = errors.New("no application data layout for domain and message")
	ErrUnsupportedDomain          = errors.New("no ciphersuite layout for domain")
	ErrAuthBlob                   = errors.New("malformed authentication blob")
)

// DecodeError reports where and why decoding stopped.
type DecodeError struct {
	Err    error  // one of the Err* kinds
	Field  string // field abbrev being decoded
	Offset int    // absolute buffer offset of the failure
	Need   int    // bytes required, for truncation and overruns
	Have   int    // bytes available
	Cause  error  // error returned by the nested decoder, if any
}

func (e *DecodeError) Error() string {
	switch {
	case errors.Is(e.Err, ErrTruncatedInput), errors.Is(e.Err, ErrNestedDecoderOverrun):
		return fmt.Sprintf("pktc: %s at offset %d (%s): need %d bytes, have %d",
			e.Err, e.Offset, e.Field, e.Need, e.Have)
	case e.Cause != nil:
		return fmt.Sprintf("pktc: %s at offset %d (%s): %v", e.Err, e.Offset, e.Field, e.Cause)
	default:
		return fmt.Sprintf("pktc: %s at offset %d (%s)", e.Err, e.Offset, e.Field)
	}
}

// Unwrap exposes both the kind and the nested cause to errors.Is/As.
func (e *DecodeError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

// ErrorOffset returns the offset recorded in err, or -1 when err is not a
// *DecodeError.
func ErrorOffset(err error) int {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Offset
	}
	return -1
}
