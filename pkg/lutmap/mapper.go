// Package lutmap maps LUT cells of a placed netlist onto configuration
// memory bits. For every LUT it locates the 64 truth table bits of the BEL,
// derives the permutation between logical LUT inputs and physical BEL pins,
// and reconstructs the INIT value from the bitstream as a consistency check.
package lutmap

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/OpenTraceLab/bitfault/pkg/bitstream"
	"github.com/OpenTraceLab/bitfault/pkg/device"
	"github.com/OpenTraceLab/bitfault/pkg/far"
)

var (
	ErrUnsupportedSeries  = errors.New("lutmap: LUT mapping not supported for this series")
	ErrNoMatchingBelLabel = errors.New("lutmap: no matching BEL label")
	ErrInitMismatch       = errors.New("lutmap: reconstructed INIT differs from netlist")
	ErrInvalidPin         = errors.New("lutmap: invalid BEL pin")
)

// Mapper resolves LUT BELs against a device layout and a loaded
// configuration memory. Both are only read; a Mapper is safe for concurrent
// use.
type Mapper struct {
	params  *device.Params
	layout  *device.Layout
	memory  *bitstream.ConfigMemory
	workers int
}

type Option func(*Mapper)

// WithWorkers bounds the number of cells mapped in parallel. Values below 1
// select the number of CPUs.
func WithWorkers(n int) Option {
	return func(m *Mapper) { m.workers = n }
}

// New returns a mapper for params' series.
func New(params *device.Params, layout *device.Layout, memory *bitstream.ConfigMemory, opts ...Option) (*Mapper, error) {
	if params == nil || !params.LutMapping {
		series := far.SeriesUnknown
		if params != nil {
			series = params.Series
		}
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedSeries, series)
	}
	if layout == nil || memory == nil {
		return nil, errors.New("lutmap: layout and configuration memory are required")
	}
	m := &Mapper{params: params, layout: layout, memory: memory}
	for _, o := range opts {
		o(m)
	}
	if m.workers < 1 {
		m.workers = runtime.NumCPU()
	}
	return m, nil
}

// Fragment locates the truth table of one LUT BEL: four minor frames of a
// CLB column and a 16-bit run in one word of each. Bits lists the 64 table
// positions, minor frame Minors[3] first.
type Fragment struct {
	SLR            *device.SLR
	ConfigFragment uint32
	Top, Row       uint32
	Major          uint32
	Minors         [4]uint32
	Word           int
	Shift          int
	Bits           [64]far.BitRef
}

// BelFragment computes the configuration bits of the LUT BEL with the given
// label ("A6", "C5", ...) in the slice at sliceX of tile (tileX, tileY).
func (m *Mapper) BelFragment(tileX, tileY, sliceX int, label string) (*Fragment, error) {
	if label == "" {
		return nil, fmt.Errorf("%w: empty label", ErrNoMatchingBelLabel)
	}
	slr, x, y, err := m.layout.TileToLocal(tileX, tileY)
	if err != nil {
		return nil, err
	}
	cfg, err := m.configFragment(slr)
	if err != nil {
		return nil, err
	}
	bottom := cfg.BottomRows()
	if bottom < 0 {
		bottom = slr.BottomRows()
	}

	h := m.params.ClockRegionHeight
	crY, ry := y/h, y%h
	f := &Fragment{SLR: slr, ConfigFragment: cfg.ID, Major: uint32(x)}
	if crY+1 > bottom {
		f.Top, f.Row = 0, uint32(crY-bottom)
	} else {
		f.Top, f.Row = 1, uint32(bottom-crY-1)
	}
	f.Minors = m.params.LutMinors[sliceX&1]

	f.Word = 2 * ry
	if crc := m.params.CRCWord; crc >= 0 && f.Word >= crc {
		f.Word++
	}
	switch label[0] {
	case 'A':
	case 'B':
		f.Shift = 16
	case 'C':
		f.Word++
	case 'D':
		f.Word++
		f.Shift = 16
	default:
		return nil, fmt.Errorf("%w: %q", ErrNoMatchingBelLabel, label)
	}

	var fars [4]uint32
	for j, minor := range f.Minors {
		a := far.Address{Series: m.params.Series, Block: far.BlockCLB, Top: f.Top, Row: f.Row, Major: f.Major, Minor: minor}
		raw, err := a.Encode()
		if err != nil {
			return nil, err
		}
		fars[j] = raw
	}
	for k := range f.Bits {
		f.Bits[k] = far.BitRef{FAR: fars[3-k/16], Word: f.Word, Bit: k%16 + f.Shift}
	}
	return f, nil
}

// configFragment returns the configuration fragment of an SLR. Fragments
// appear in the bitstream in SLR configuration order.
func (m *Mapper) configFragment(slr *device.SLR) (*bitstream.Fragment, error) {
	frags := m.memory.Fragments()
	if slr.ConfigIndex < 0 || slr.ConfigIndex >= len(frags) {
		return nil, fmt.Errorf("%w: no configuration data for %s (config index %d)",
			bitstream.ErrNoFragment, slr.Name, slr.ConfigIndex)
	}
	return frags[slr.ConfigIndex], nil
}

// Content reads the 64-bit truth table of a fragment; bit k of the result
// is the table position k.
func (m *Mapper) Content(f *Fragment) (uint64, error) {
	var v uint64
	for k := 63; k >= 0; k-- {
		b, err := m.memory.Bit(f.ConfigFragment, f.Bits[k])
		if err != nil {
			return 0, err
		}
		v = v<<1 | uint64(b)
	}
	return v, nil
}
