package bitstream

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedBitstream   = errors.New("bitstream: malformed bitstream")
	ErrUnexpectedPacketType = errors.New("bitstream: unexpected packet type")
	ErrIntegrityMismatch    = errors.New("bitstream: essential bits do not match bitstream")
	ErrNoFragment           = errors.New("bitstream: no such fragment")
	ErrNoFrame              = errors.New("bitstream: no such frame")
	ErrFarListRequired      = errors.New("bitstream: multi-frame burst needs a FAR list")
)

// MalformedError locates a decoding failure in a word stream.
type MalformedError struct {
	Source string
	Offset int // word offset, -1 if unknown
	Msg    string
	Err    error
}

func (e *MalformedError) Error() string {
	src := e.Source
	if src == "" {
		src = "stream"
	}
	if e.Offset >= 0 {
		return fmt.Sprintf("bitstream: %s word %d: %s: %v", src, e.Offset, e.Msg, e.Err)
	}
	return fmt.Sprintf("bitstream: %s: %s: %v", src, e.Msg, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// IntegrityError is returned when an essential bits overlay disagrees with the
// loaded bitstream. The merge was skipped; the memory is otherwise intact.
type IntegrityError struct {
	Fragment uint32
	Frames   int
	Words    int
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("bitstream: fragment %08x: %d frames (%d words) differ from essential bits data, merge skipped",
		e.Fragment, e.Frames, e.Words)
}

func (e *IntegrityError) Unwrap() error { return ErrIntegrityMismatch }
