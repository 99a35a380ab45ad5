package bitstream

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/OpenTraceLab/bitfault/pkg/far"
)

// FlagEssential is set in Frame.Flags when the frame has at least one
// essential bit.
const FlagEssential = 1 << 0

// Frame is one addressable configuration frame. Mask marks the bits that are
// targets for injection; CustomMask holds bits derived from mapped LUTs and
// is folded into Mask by the fault list builder.
type Frame struct {
	FAR      uint32
	Address  far.Address
	Fragment uint32

	Data       []uint32
	Mask       []uint32
	CustomMask []uint32

	Flags         uint32
	EssentialBits int
}

// NewFrame allocates an all-zero frame of size words at raw FAR.
func NewFrame(raw uint32, series far.Series, fragment uint32, size int) (*Frame, error) {
	addr, err := far.Decode(raw, series)
	if err != nil {
		return nil, err
	}
	return &Frame{
		FAR:        raw,
		Address:    addr,
		Fragment:   fragment,
		Data:       make([]uint32, size),
		Mask:       make([]uint32, size),
		CustomMask: make([]uint32, size),
	}, nil
}

// MergeMask ORs overlay into the mask. Words beyond the frame are ignored
// and data is never touched.
func (f *Frame) MergeMask(overlay []uint32) {
	for i := 0; i < len(f.Mask) && i < len(overlay); i++ {
		f.Mask[i] |= overlay[i]
	}
}

// UpdateFlags recomputes EssentialBits and Flags from the mask.
func (f *Frame) UpdateFlags() {
	f.Flags, f.EssentialBits = f.summary()
}

func (f *Frame) summary() (uint32, int) {
	n := 0
	for _, w := range f.Mask {
		n += bits.OnesCount32(w)
	}
	var flags uint32
	if n > 0 {
		flags |= FlagEssential
	}
	return flags, n
}

// Bit returns the data bit at word/bit.
func (f *Frame) Bit(word, bit int) (uint32, error) {
	if word < 0 || word >= len(f.Data) || bit < 0 || bit > 31 {
		return 0, fmt.Errorf("bitstream: bit %d:%d outside frame %08x", word, bit, f.FAR)
	}
	return (f.Data[word] >> uint(bit)) & 1, nil
}

// SetBit writes one data bit.
func (f *Frame) SetBit(word, bit int, v uint32) error {
	if word < 0 || word >= len(f.Data) || bit < 0 || bit > 31 {
		return fmt.Errorf("bitstream: bit %d:%d outside frame %08x", word, bit, f.FAR)
	}
	f.Data[word] = f.Data[word]&^(1<<uint(bit)) | (v&1)<<uint(bit)
	return nil
}

// IsEmpty reports whether every data word is zero.
func (f *Frame) IsEmpty() bool {
	for _, w := range f.Data {
		if w != 0 {
			return false
		}
	}
	return true
}

func (f *Frame) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s, SLR=%08x, Flags=%d, EssentialBits=%d", f.Address, f.Fragment, f.Flags, f.EssentialBits)
	for i, w := range f.Data {
		if i%8 == 0 {
			fmt.Fprintf(&b, "\n  %3d:", i)
		}
		fmt.Fprintf(&b, " %08x", w)
	}
	return b.String()
}
