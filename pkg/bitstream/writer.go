package bitstream

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// WriteBitstream encodes the memory as a configuration stream that Load
// reads back: one synchronized section per fragment, each frame written with
// its own FAR, WCFG and FDRI packets. Debug streams get a .bit header and
// big-endian words, Regular streams use the memory's byte order.
func (m *ConfigMemory) WriteBitstream(w io.Writer, kind Kind) error {
	var words []uint32
	words = append(words, 0xFFFFFFFF, 0x000000BB, 0x11220044, 0xFFFFFFFF, 0xFFFFFFFF)
	for _, f := range m.order {
		words = append(words, SyncWord, NOOP)
		if f.ID != 0 {
			words = append(words, Type1(OpWrite, RegIDCODE, 1), f.ID)
		}
		for _, fr := range f.Frames() {
			words = append(words,
				Type1(OpWrite, RegFAR, 1), fr.FAR,
				Type1(OpWrite, RegCMD, 1), CmdWCFG,
				NOOP,
				Type1(OpWrite, RegFDRI, len(fr.Data)))
			words = append(words, fr.Data...)
		}
		words = append(words, Type1(OpWrite, RegCMD, 1), CmdDESYNC, NOOP, NOOP)
	}

	order := m.byteOrder
	bw := bufio.NewWriter(w)
	if kind == Debug {
		order = binary.BigEndian
		hdr := m.Header
		if hdr == nil {
			now := time.Now()
			hdr = &BitHeader{
				Design: "bitfault;UserID=0XFFFFFFFF",
				Part:   m.Part,
				Date:   now.Format("2006/01/02"),
				Time:   now.Format("15:04:05"),
			}
		}
		if err := WriteBitHeader(bw, hdr, 4*len(words)); err != nil {
			return fmt.Errorf("bitstream: write header: %w", err)
		}
	}
	buf := make([]byte, 4)
	for _, v := range words {
		order.PutUint32(buf, v)
		if _, err := bw.Write(buf); err != nil {
			return fmt.Errorf("bitstream: write: %w", err)
		}
	}
	return bw.Flush()
}
