// Package bitstream models the configuration memory of a device: frames
// indexed by frame address and grouped per SLR fragment, loaded from .bin or
// .bit configuration streams, overlaid with essential bits and exported as a
// frame descriptor file for injector backends.
package bitstream

import (
	"encoding/binary"
	"fmt"
	"io"
	"iter"
	"slices"
	"sort"

	"github.com/OpenTraceLab/bitfault/pkg/device"
	"github.com/OpenTraceLab/bitfault/pkg/far"
)

// Fragment is the part of the configuration memory belonging to one SLR. ID
// is the IDCODE written before its frames, 0 if the stream carried none.
type Fragment struct {
	ID    uint32
	Index int // position in the bitstream

	frames map[uint32]*Frame
	sorted []uint32
	bottom int // cached BottomRows, 0 when stale
}

func newFragment(id uint32, index int) *Fragment {
	return &Fragment{ID: id, Index: index, frames: make(map[uint32]*Frame)}
}

func (f *Fragment) put(fr *Frame) {
	if _, ok := f.frames[fr.FAR]; !ok {
		f.sorted = nil
		f.bottom = 0
	}
	f.frames[fr.FAR] = fr
}

// Len returns the number of frames.
func (f *Fragment) Len() int { return len(f.frames) }

// Frame looks up a frame by raw address.
func (f *Fragment) Frame(raw uint32) (*Frame, bool) {
	fr, ok := f.frames[raw]
	return fr, ok
}

// Addresses returns the frame addresses in ascending order.
func (f *Fragment) Addresses() []uint32 {
	if f.sorted == nil {
		f.sorted = make([]uint32, 0, len(f.frames))
		for a := range f.frames {
			f.sorted = append(f.sorted, a)
		}
		slices.Sort(f.sorted)
	}
	return f.sorted
}

// Frames returns the frames in ascending address order.
func (f *Fragment) Frames() []*Frame {
	addrs := f.Addresses()
	out := make([]*Frame, len(addrs))
	for i, a := range addrs {
		out[i] = f.frames[a]
	}
	return out
}

// BottomRows counts the clock rows of the bottom half (top bit set) seen in
// block 0 frames. It returns -1 when the fragment has no bottom half frames.
func (f *Fragment) BottomRows() int {
	if f.bottom != 0 {
		return f.bottom
	}
	f.bottom = f.countBottomRows()
	return f.bottom
}

func (f *Fragment) countBottomRows() int {
	rows := -1
	for _, fr := range f.frames {
		a := fr.Address
		if a.Block == far.BlockCLB && a.Top == 1 && int(a.Row) > rows {
			rows = int(a.Row)
		}
	}
	if rows < 0 {
		return -1
	}
	return rows + 1
}

// ConfigMemory holds the frames of a device, partitioned into fragments.
type ConfigMemory struct {
	params     *device.Params
	byteOrder  binary.ByteOrder
	farList    *FarList
	trace      io.Writer
	sequential bool

	// Part is taken from the .bit header or the first known IDCODE.
	Part   string
	Header *BitHeader

	fragments map[uint32]*Fragment
	order     []*Fragment
}

// Option configures a ConfigMemory.
type Option func(*ConfigMemory)

// WithByteOrder sets the word order of Regular (.bin) streams.
func WithByteOrder(order binary.ByteOrder) Option {
	return func(m *ConfigMemory) { m.byteOrder = order }
}

// WithFarList supplies the frame order of FDRI bursts.
func WithFarList(l *FarList) Option {
	return func(m *ConfigMemory) { m.farList = l }
}

// WithSequentialAddressing lets multi-frame FDRI bursts load without a FAR
// list, addressing each frame by incrementing the raw FAR. This only matches
// the device for bursts that stay inside one column.
func WithSequentialAddressing() Option {
	return func(m *ConfigMemory) { m.sequential = true }
}

// WithTrace logs every decoded packet to w.
func WithTrace(w io.Writer) Option {
	return func(m *ConfigMemory) { m.trace = w }
}

// New creates an empty configuration memory for a device series.
func New(params *device.Params, opts ...Option) *ConfigMemory {
	m := &ConfigMemory{
		params:    params,
		byteOrder: binary.LittleEndian,
		fragments: make(map[uint32]*Fragment),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Params returns the series constants of the memory.
func (m *ConfigMemory) Params() *device.Params { return m.params }

// FrameSize is the number of words per frame.
func (m *ConfigMemory) FrameSize() int { return m.params.FrameSize }

// SetFarList replaces the FAR list used by later loads.
func (m *ConfigMemory) SetFarList(l *FarList) { m.farList = l }

// FarList returns the loaded FAR list, nil if none.
func (m *ConfigMemory) FarList() *FarList { return m.farList }

// Fragments returns the fragments in bitstream order.
func (m *ConfigMemory) Fragments() []*Fragment {
	return slices.Clone(m.order)
}

// Fragment returns a fragment by ID.
func (m *ConfigMemory) Fragment(id uint32) (*Fragment, bool) {
	f, ok := m.fragments[id]
	return f, ok
}

// Default returns the first fragment, the only one on single die parts.
func (m *ConfigMemory) Default() (*Fragment, error) {
	if len(m.order) == 0 {
		return nil, fmt.Errorf("%w: memory is empty", ErrNoFragment)
	}
	return m.order[0], nil
}

func (m *ConfigMemory) fragment(id uint32) *Fragment {
	f, ok := m.fragments[id]
	if !ok {
		f = newFragment(id, len(m.order))
		m.fragments[id] = f
		m.order = append(m.order, f)
	}
	return f
}

// AddFrame stores fr in its fragment, creating the fragment when needed.
func (m *ConfigMemory) AddFrame(fr *Frame) error {
	if len(fr.Data) != m.params.FrameSize {
		return fmt.Errorf("bitstream: frame %08x has %d words, want %d", fr.FAR, len(fr.Data), m.params.FrameSize)
	}
	m.fragment(fr.Fragment).put(fr)
	return nil
}

// Frame looks up one frame.
func (m *ConfigMemory) Frame(fragmentID, raw uint32) (*Frame, error) {
	f, ok := m.fragments[fragmentID]
	if !ok {
		return nil, fmt.Errorf("%w: %08x", ErrNoFragment, fragmentID)
	}
	fr, ok := f.frames[raw]
	if !ok {
		return nil, fmt.Errorf("%w: %08x in fragment %08x", ErrNoFrame, raw, fragmentID)
	}
	return fr, nil
}

// FramesOfColumn returns every frame of the column holding raw, minor 0
// first.
func (m *ConfigMemory) FramesOfColumn(fragmentID, raw uint32) ([]*Frame, error) {
	f, ok := m.fragments[fragmentID]
	if !ok {
		return nil, fmt.Errorf("%w: %08x", ErrNoFragment, fragmentID)
	}
	addr, err := far.Decode(raw, m.params.Series)
	if err != nil {
		return nil, err
	}
	start := addr.Column().MustEncode()
	addrs := f.Addresses()
	var out []*Frame
	for i := sort.Search(len(addrs), func(i int) bool { return addrs[i] >= start }); i < len(addrs); i++ {
		fr := f.frames[addrs[i]]
		if !fr.Address.SameColumn(addr) {
			break
		}
		out = append(out, fr)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no frames in column of %08x", ErrNoFrame, raw)
	}
	return out, nil
}

// Frames iterates over every frame: fragments in bitstream order, frames by
// ascending address. The order is stable between runs.
func (m *ConfigMemory) Frames() iter.Seq[*Frame] {
	return func(yield func(*Frame) bool) {
		for _, f := range m.order {
			for _, a := range f.Addresses() {
				if !yield(f.frames[a]) {
					return
				}
			}
		}
	}
}

// Len returns the total number of frames.
func (m *ConfigMemory) Len() int {
	n := 0
	for _, f := range m.order {
		n += len(f.frames)
	}
	return n
}

// Bit reads one configuration bit.
func (m *ConfigMemory) Bit(fragmentID uint32, ref far.BitRef) (uint32, error) {
	fr, err := m.Frame(fragmentID, ref.FAR)
	if err != nil {
		return 0, err
	}
	return fr.Bit(ref.Word, ref.Bit)
}

// UpdateFlags refreshes the essential bit summary of every frame.
func (m *ConfigMemory) UpdateFlags() {
	for fr := range m.Frames() {
		fr.UpdateFlags()
	}
}

// EssentialBits returns the total number of mask bits.
func (m *ConfigMemory) EssentialBits() int {
	n := 0
	for fr := range m.Frames() {
		_, c := fr.summary()
		n += c
	}
	return n
}
