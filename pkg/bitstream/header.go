package bitstream

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// bitPreamble is the fixed start of a .bit file: a 9 byte field and the
// length of the first key.
var bitPreamble = []byte{0x00, 0x09, 0x0f, 0xf0, 0x0f, 0xf0, 0x0f, 0xf0, 0x0f, 0xf0, 0x00, 0x00, 0x01}

// BitHeader is the metadata block in front of a .bit configuration stream.
type BitHeader struct {
	Design     string
	Part       string
	Date       string
	Time       string
	DataLength int
}

// DesignName returns the design name without the UserID/Version suffixes.
func (h *BitHeader) DesignName() string {
	name, _, _ := strings.Cut(h.Design, ";")
	return name
}

// ParseBitHeader splits a .bit file into its header and the configuration
// data. Data without the .bit preamble is returned unchanged with a nil
// header.
func ParseBitHeader(data []byte) (*BitHeader, []byte, error) {
	if !bytes.HasPrefix(data, bitPreamble) {
		return nil, data, nil
	}
	h := &BitHeader{}
	pos := len(bitPreamble)
	for {
		if pos >= len(data) {
			return nil, nil, &MalformedError{Source: "bit header", Offset: -1, Msg: "missing data field", Err: ErrMalformedBitstream}
		}
		key := data[pos]
		pos++
		if key == 'e' {
			if pos+4 > len(data) {
				return nil, nil, &MalformedError{Source: "bit header", Offset: -1, Msg: "truncated data length", Err: ErrMalformedBitstream}
			}
			h.DataLength = int(binary.BigEndian.Uint32(data[pos:]))
			pos += 4
			rest := data[pos:]
			if h.DataLength > len(rest) {
				return nil, nil, &MalformedError{Source: "bit header", Offset: -1,
					Msg: fmt.Sprintf("data length %d exceeds file (%d bytes)", h.DataLength, len(rest)), Err: ErrMalformedBitstream}
			}
			return h, rest[:h.DataLength], nil
		}
		if pos+2 > len(data) {
			return nil, nil, &MalformedError{Source: "bit header", Offset: -1, Msg: "truncated field length", Err: ErrMalformedBitstream}
		}
		n := int(binary.BigEndian.Uint16(data[pos:]))
		pos += 2
		if pos+n > len(data) {
			return nil, nil, &MalformedError{Source: "bit header", Offset: -1, Msg: fmt.Sprintf("field %c overruns file", key), Err: ErrMalformedBitstream}
		}
		value := strings.TrimRight(string(data[pos:pos+n]), "\x00")
		pos += n
		switch key {
		case 'a':
			h.Design = value
		case 'b':
			h.Part = value
		case 'c':
			h.Date = value
		case 'd':
			h.Time = value
		default:
			return nil, nil, &MalformedError{Source: "bit header", Offset: -1, Msg: fmt.Sprintf("unknown field key 0x%02x", key), Err: ErrMalformedBitstream}
		}
	}
}

// WriteBitHeader writes a .bit header announcing dataLength bytes of
// configuration data.
func WriteBitHeader(w io.Writer, h *BitHeader, dataLength int) error {
	var buf bytes.Buffer
	buf.Write(bitPreamble)
	for _, f := range []struct {
		key   byte
		value string
	}{{'a', h.Design}, {'b', h.Part}, {'c', h.Date}, {'d', h.Time}} {
		buf.WriteByte(f.key)
		binary.Write(&buf, binary.BigEndian, uint16(len(f.value)+1))
		buf.WriteString(f.value)
		buf.WriteByte(0)
	}
	buf.WriteByte('e')
	binary.Write(&buf, binary.BigEndian, uint32(dataLength))
	_, err := w.Write(buf.Bytes())
	return err
}
