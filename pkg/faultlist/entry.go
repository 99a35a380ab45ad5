package faultlist

import (
	"fmt"

	"github.com/OpenTraceLab/bitfault/internal/log"
	"github.com/OpenTraceLab/bitfault/pkg/far"
	"github.com/OpenTraceLab/bitfault/pkg/netlist"
)

// CellType is the kind of resource a fault hits, as numbered by the
// injector.
type CellType uint32

const (
	CellEssential CellType = iota // essential bit not owned by a known cell
	CellLUT
	CellFF
	CellBRAM
	CellLUTRAM
)

func (c CellType) String() string {
	switch c {
	case CellEssential:
		return "EssentialBits"
	case CellLUT:
		return "LUT"
	case CellFF:
		return "FF"
	case CellBRAM:
		return "BRAM"
	case CellLUTRAM:
		return "LUTRAM"
	}
	return fmt.Sprintf("CellType(%d)", uint32(c))
}

func cellTypeOf(g netlist.Group) CellType {
	switch g {
	case netlist.GroupLUT:
		return CellLUT
	case netlist.GroupFF:
		return CellFF
	case netlist.GroupBRAM:
		return CellBRAM
	case netlist.GroupLUTRAM:
		return CellLUTRAM
	}
	return CellEssential
}

// Entry is one injection target. ActivityTime and InjectionResult are
// filled by profiling and by the injector.
type Entry struct {
	ID              uint32
	FAR             uint32
	Word            uint32
	Bit             uint32
	ActivityTime    float32
	InjectionResult uint32

	CellType CellType
	Fragment uint32
	Cell     string
	Case     string
	// Mismatch marks a LUT bit whose bitstream INIT differs from the
	// netlist INIT.
	Mismatch bool
}

func (e Entry) Ref() far.BitRef {
	return far.BitRef{FAR: e.FAR, Word: int(e.Word), Bit: int(e.Bit)}
}

type owner struct {
	cell  *netlist.Cell
	index int
}

type ownerKey struct {
	fragment uint32
	ref      far.BitRef
}

// owners indexes the bitmap bits of every netlist cell by fragment and bit.
func (b *Builder) owners() map[ownerKey]owner {
	m := map[ownerKey]owner{}
	if b.Netlist == nil {
		return m
	}
	for _, c := range b.Netlist.All() {
		for _, i := range c.BitmapIndexes() {
			ref := c.Bitmap[i]
			fr, ok := b.cellFrame(c, ref.FAR)
			if !ok {
				continue
			}
			k := ownerKey{fr.Fragment, ref}
			if _, ok := m[k]; !ok {
				m[k] = owner{c, i}
			}
		}
	}
	return m
}

func lutMismatch(c *netlist.Cell) bool {
	return c.LUT != nil && c.LUT.Mapped() && !c.LUT.Match
}

func caseName(c *netlist.Cell, index int) string {
	return fmt.Sprintf("%s/bit_%02d", c.Name, index)
}

func essentialCase(fragment uint32, a far.Address, word, bit int) string {
	return fmt.Sprintf("EB:%08x:(Type_%d/Top_%d/Row_%d/Column_%03d/Frame_%02d)/Word_%03d/Bit_%02d",
		fragment, uint32(a.Block), a.Top, a.Row, a.Major, a.Minor, word, bit)
}

// FromMasks lists every mask bit of the memory: fragments in bitstream
// order, frames by ascending address, words and bits ascending. Bits that
// belong to a netlist cell carry its name and type.
func (b *Builder) FromMasks() ([]Entry, error) {
	own := b.owners()
	var out []Entry
	for fr := range b.Memory.Frames() {
		for w, mask := range fr.Mask {
			for bit := 0; mask != 0 && bit < 32; bit++ {
				if mask>>bit&1 == 0 {
					continue
				}
				e := Entry{
					ID:       uint32(len(out)),
					FAR:      fr.FAR,
					Word:     uint32(w),
					Bit:      uint32(bit),
					Fragment: fr.Fragment,
				}
				if o, ok := own[ownerKey{fr.Fragment, e.Ref()}]; ok {
					e.CellType, e.Cell, e.Case = cellTypeOf(o.cell.Group), o.cell.Name, caseName(o.cell, o.index)
					e.Mismatch = lutMismatch(o.cell)
				} else {
					e.Case = essentialCase(fr.Fragment, fr.Address, w, bit)
				}
				out = append(out, e)
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: all frame masks are empty", ErrEmptyFaultList)
	}
	log.ModFaultList.WithField("entries", len(out)).Info("fault list built from masks")
	return out, nil
}

// FromCells lists the bitmap bits of the cells of groups, group by group in
// netlist order, bit indexes ascending. Unmapped LUTs are skipped.
func (b *Builder) FromCells(groups ...netlist.Group) ([]Entry, error) {
	if b.Netlist == nil {
		return nil, fmt.Errorf("%w: no netlist", ErrEmptyFaultList)
	}
	var out []Entry
	for _, g := range groups {
		for _, c := range b.Netlist.Cells(g) {
			if c.Group == netlist.GroupLUT && !c.LUT.Mapped() {
				continue
			}
			for _, i := range c.BitmapIndexes() {
				ref := c.Bitmap[i]
				e := Entry{
					ID:       uint32(len(out)),
					FAR:      ref.FAR,
					Word:     uint32(ref.Word),
					Bit:      uint32(ref.Bit),
					CellType: cellTypeOf(g),
					Cell:     c.Name,
					Case:     caseName(c, i),
					Mismatch: lutMismatch(c),
				}
				if fr, ok := b.cellFrame(c, ref.FAR); ok {
					e.Fragment = fr.Fragment
				} else if c.LUT != nil {
					e.Fragment = c.LUT.Fragment
				}
				out = append(out, e)
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no mapped cell bits in %v", ErrEmptyFaultList, groups)
	}
	log.ModFaultList.WithFields(log.Fields{"entries": len(out), "groups": groups}).Info("fault list built from cells")
	return out, nil
}
