package bitstream

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const descriptorHeaderSize = 24

// Descriptor is the decoded content of a frame descriptor file.
type Descriptor struct {
	FrameSize  int
	Frames     []DescriptorFrame
	Recovery   []uint32
	Checkpoint []uint32
}

// DescriptorFrame is one frame record of a descriptor file.
type DescriptorFrame struct {
	FAR           uint32
	Flags         uint32
	EssentialBits uint32
	Data          []uint32
	Mask          []uint32
}

// ExportDescriptor writes every frame (deterministic order, see Frames)
// followed by the recovery and checkpoint frame lists. All values are
// little-endian:
//
//	u32 descriptor list offset (24), u32 frame count,
//	u32 recovery list offset, u32 recovery count,
//	u32 checkpoint list offset, u32 checkpoint count,
//	per frame: u32 FAR, u32 flags, u32 essential bits, FrameSize x (u32 data, u32 mask),
//	recovery FARs, checkpoint FARs.
func (m *ConfigMemory) ExportDescriptor(w io.Writer, recovery, checkpoint []uint32) error {
	size := m.params.FrameSize
	n := m.Len()
	recOffset := descriptorHeaderSize + (12+8*size)*n
	cpOffset := recOffset + 4*len(recovery)

	bw := bufio.NewWriter(w)
	buf := make([]byte, 0, 12+8*size)
	buf = appendWords(buf,
		descriptorHeaderSize, uint32(n),
		uint32(recOffset), uint32(len(recovery)),
		uint32(cpOffset), uint32(len(checkpoint)))
	if _, err := bw.Write(buf); err != nil {
		return fmt.Errorf("bitstream: write descriptor: %w", err)
	}
	for fr := range m.Frames() {
		flags, count := fr.summary()
		buf = appendWords(buf[:0], fr.FAR, flags, uint32(count))
		for i := 0; i < size; i++ {
			buf = appendWords(buf, fr.Data[i], fr.Mask[i])
		}
		if _, err := bw.Write(buf); err != nil {
			return fmt.Errorf("bitstream: write descriptor: %w", err)
		}
	}
	buf = appendWords(buf[:0], recovery...)
	buf = appendWords(buf, checkpoint...)
	if _, err := bw.Write(buf); err != nil {
		return fmt.Errorf("bitstream: write descriptor: %w", err)
	}
	return bw.Flush()
}

func appendWords(buf []byte, words ...uint32) []byte {
	for _, w := range words {
		buf = binary.LittleEndian.AppendUint32(buf, w)
	}
	return buf
}

// WriteDescriptorFile exports the descriptor to path.
func (m *ConfigMemory) WriteDescriptorFile(path string, recovery, checkpoint []uint32) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("bitstream: create descriptor: %w", err)
	}
	if err := m.ExportDescriptor(f, recovery, checkpoint); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadDescriptor decodes a descriptor file. The frame size is derived from
// the offsets in the header.
func ReadDescriptor(r io.Reader) (*Descriptor, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	bad := func(msg string) error {
		return &MalformedError{Source: "descriptor", Offset: -1, Msg: msg, Err: ErrMalformedBitstream}
	}
	if len(data) < descriptorHeaderSize {
		return nil, bad("short header")
	}
	word := func(off int) uint32 { return binary.LittleEndian.Uint32(data[off:]) }
	listOff, count := int(word(0)), int(word(4))
	recOff, recCount := int(word(8)), int(word(12))
	cpOff, cpCount := int(word(16)), int(word(20))
	if listOff != descriptorHeaderSize {
		return nil, bad(fmt.Sprintf("descriptor list offset %d", listOff))
	}

	d := &Descriptor{}
	if count > 0 {
		rec := (recOff - listOff) / count
		if (recOff-listOff)%count != 0 || rec < 12 || (rec-12)%8 != 0 {
			return nil, bad(fmt.Sprintf("recovery offset %d does not fit %d frames", recOff, count))
		}
		d.FrameSize = (rec - 12) / 8
	} else if recOff != listOff {
		return nil, bad("recovery offset of empty descriptor")
	}
	if cpOff != recOff+4*recCount || len(data) < cpOff+4*cpCount {
		return nil, bad("auxiliary lists out of bounds")
	}

	off := listOff
	for i := 0; i < count; i++ {
		df := DescriptorFrame{
			FAR:           word(off),
			Flags:         word(off + 4),
			EssentialBits: word(off + 8),
			Data:          make([]uint32, d.FrameSize),
			Mask:          make([]uint32, d.FrameSize),
		}
		off += 12
		for j := 0; j < d.FrameSize; j++ {
			df.Data[j] = word(off)
			df.Mask[j] = word(off + 4)
			off += 8
		}
		d.Frames = append(d.Frames, df)
	}
	for i := 0; i < recCount; i++ {
		d.Recovery = append(d.Recovery, word(recOff+4*i))
	}
	for i := 0; i < cpCount; i++ {
		d.Checkpoint = append(d.Checkpoint, word(cpOff+4*i))
	}
	return d, nil
}

// ReadDescriptorFile decodes the descriptor at path.
func ReadDescriptorFile(path string) (*Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bitstream: open descriptor: %w", err)
	}
	defer f.Close()
	return ReadDescriptor(bufio.NewReader(f))
}
