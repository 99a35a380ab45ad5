// Package far decodes and encodes Xilinx Frame Address Register values.
//
// A frame address selects one configuration frame inside a device. Its fields
// (block type, top/bottom half, clock row, major column and minor frame) sit
// at series dependent bit positions, so every operation takes the Series the
// value belongs to.
package far

import (
	"errors"
	"fmt"
	"strings"
)

// Series identifies a device family with its own configuration layout.
type Series int

const (
	SeriesUnknown Series = iota
	Series7
	UltraScalePlus
)

var (
	ErrUnsupportedSeries = errors.New("far: unsupported device series")
	ErrInvalidFieldRange = errors.New("far: field out of range")
)

func (s Series) String() string {
	switch s {
	case Series7:
		return "7series"
	case UltraScalePlus:
		return "ultrascale+"
	default:
		return "unknown"
	}
}

// ParseSeries accepts the names used by part databases and config files.
func ParseSeries(name string) (Series, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "7series", "series7", "s7", "7", "artix7", "kintex7", "virtex7", "zynq7":
		return Series7, nil
	case "ultrascale+", "ultrascaleplus", "usp", "zynqmp", "zynqus+":
		return UltraScalePlus, nil
	}
	return SeriesUnknown, fmt.Errorf("%w: %q", ErrUnsupportedSeries, name)
}

// BlockType is the FAR block type field.
type BlockType uint32

const (
	BlockCLB  BlockType = 0 // CLB, IO, CLK interconnect and configuration
	BlockBRAM BlockType = 1 // block RAM content
	BlockCFG  BlockType = 2 // CFG_CLB
)

func (b BlockType) String() string {
	switch b {
	case BlockCLB:
		return "CLB"
	case BlockBRAM:
		return "BRAM"
	case BlockCFG:
		return "CFG"
	default:
		return fmt.Sprintf("Block%d", uint32(b))
	}
}

// Field locates one FAR field. A zero Width means the series has no such field.
type Field struct {
	Shift uint
	Width uint
}

func (f Field) Max() uint32 {
	if f.Width == 0 {
		return 0
	}
	return 1<<f.Width - 1
}

func (f Field) mask() uint32 {
	return f.Max() << f.Shift
}

func (f Field) get(raw uint32) uint32 {
	return (raw >> f.Shift) & f.Max()
}

// Layout is the per-series FAR field map.
type Layout struct {
	Series     Series
	Block      Field
	Top        Field
	Row        Field
	Major      Field
	Minor      Field
	BlockTypes uint32 // number of valid block types
}

var layouts = map[Series]Layout{
	Series7: {
		Series:     Series7,
		Block:      Field{Shift: 23, Width: 3},
		Top:        Field{Shift: 22, Width: 1},
		Row:        Field{Shift: 17, Width: 5},
		Major:      Field{Shift: 7, Width: 10},
		Minor:      Field{Shift: 0, Width: 7},
		BlockTypes: 3,
	},
	UltraScalePlus: {
		Series:     UltraScalePlus,
		Block:      Field{Shift: 24, Width: 3},
		Row:        Field{Shift: 18, Width: 6},
		Major:      Field{Shift: 8, Width: 10},
		Minor:      Field{Shift: 0, Width: 8},
		BlockTypes: 3,
	},
}

// LayoutFor returns the field map of a series.
func LayoutFor(s Series) (Layout, error) {
	l, ok := layouts[s]
	if !ok {
		return Layout{}, fmt.Errorf("%w: %v", ErrUnsupportedSeries, s)
	}
	return l, nil
}

// Reserved returns the bits of a raw FAR that belong to no field.
func (l Layout) Reserved() uint32 {
	return ^(l.Block.mask() | l.Top.mask() | l.Row.mask() | l.Major.mask() | l.Minor.mask())
}

// RangeError reports a field that does not fit the series layout.
type RangeError struct {
	Series Series
	Field  string
	Value  uint32
	Max    uint32
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("far: %s field %s=%d exceeds %d", e.Series, e.Field, e.Value, e.Max)
}

func (e *RangeError) Unwrap() error { return ErrInvalidFieldRange }
