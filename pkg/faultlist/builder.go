// Package faultlist turns configuration masks and mapped netlist cells into
// fault injection targets and exports them for the injector.
package faultlist

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/OpenTraceLab/bitfault/internal/log"
	"github.com/OpenTraceLab/bitfault/pkg/bitstream"
	"github.com/OpenTraceLab/bitfault/pkg/device"
	"github.com/OpenTraceLab/bitfault/pkg/far"
	"github.com/OpenTraceLab/bitfault/pkg/netlist"
)

// ErrEmptyFaultList is returned when a target selection yields no bit.
var ErrEmptyFaultList = errors.New("faultlist: no injection targets")

// Target selects which configuration bits become injection targets.
type Target int

const (
	// TargetType0 injects essential bits of CLB/interconnect frames and
	// flip-flop state bits.
	TargetType0 Target = iota
	// TargetAll injects every essential bit, flip-flop and block RAM bit.
	TargetAll
	// TargetLUT injects LUT truth table bits only.
	TargetLUT
	// TargetFF injects flip-flop state bits only.
	TargetFF
	// TargetBRAM injects block RAM content bits only.
	TargetBRAM
)

func (t Target) String() string {
	switch t {
	case TargetType0:
		return "type0"
	case TargetAll:
		return "all"
	case TargetLUT:
		return "lut"
	case TargetFF:
		return "ff"
	case TargetBRAM:
		return "bram"
	}
	return fmt.Sprintf("Target(%d)", int(t))
}

// ParseTarget accepts the names printed by String.
func ParseTarget(s string) (Target, error) {
	for t := TargetType0; t <= TargetBRAM; t++ {
		if strings.EqualFold(strings.TrimSpace(s), t.String()) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("faultlist: unknown target %q, want type0, all, lut, ff or bram", s)
}

// usesEssentialBits reports whether the essential bits overlay contributes
// to the target.
func (t Target) usesEssentialBits() bool {
	return t == TargetType0 || t == TargetAll || t == TargetLUT
}

// Builder derives the injection masks of a configuration memory and the
// fault list built from them. The essential bits overlay must already be
// merged into Memory; with CustomLutMask the LUT mapper must have filled
// the custom masks.
type Builder struct {
	Memory  *bitstream.ConfigMemory
	Netlist *netlist.Netlist
	// Layout maps the SLR named by a cell placement to its fragment on
	// multi-SLR parts. Without it cell bits go to the first fragment
	// holding their frame.
	Layout *device.Layout
	Target Target
	// CustomLutMask replaces the essential bits of LUT frames by the bits
	// of the mapped LUT cells.
	CustomLutMask bool
	// RecoveryNodes name the block RAM cells whose frames the injector
	// restores after every run.
	RecoveryNodes []string
}

// MaskStats describes the masks left by PrepareMasks.
type MaskStats struct {
	Frames      int // frames with at least one target bit
	Bits        int
	LutFrames   int // LUT frames whose mask was replaced
	CellFrames  int // frames whose mask was replaced by FF/BRAM bits
	ClearedType int // frames cleared because of their block type
}

func (s MaskStats) String() string {
	return fmt.Sprintf("%d target bits in %d frames (LUT frames %d, FF/BRAM frames %d, cleared %d)",
		s.Bits, s.Frames, s.LutFrames, s.CellFrames, s.ClearedType)
}

func (b *Builder) isLutFrame(fr *bitstream.Frame) bool {
	if fr.Address.Block != far.BlockCLB {
		return false
	}
	for _, minors := range b.Memory.Params().LutMinors {
		if slices.Contains(minors[:], fr.Address.Minor) {
			return true
		}
	}
	return false
}

// PrepareMasks applies the target policy to the frame masks:
//
//   - without essential bits (ff, bram) every mask starts empty;
//   - lut keeps essential bits of LUT frames only;
//   - with CustomLutMask the custom mask overwrites the mask of every LUT
//     frame (type0, all, lut);
//   - flip-flop bits (ff, type0, all) and block RAM bits (bram, all)
//     overwrite the masks of the frames holding them;
//   - type0 finally clears frames outside the CLB block.
//
// Frame flags are refreshed. A policy leaving no bit returns
// ErrEmptyFaultList together with the stats.
func (b *Builder) PrepareMasks() (MaskStats, error) {
	var st MaskStats
	for fr := range b.Memory.Frames() {
		lutFrame := b.isLutFrame(fr)
		switch {
		case !b.Target.usesEssentialBits():
			clear(fr.Mask)
		case b.Target == TargetLUT && !lutFrame:
			clear(fr.Mask)
		}
		if b.CustomLutMask && b.Target.usesEssentialBits() && lutFrame {
			if fr.CustomMask == nil {
				clear(fr.Mask)
			} else {
				copy(fr.Mask, fr.CustomMask)
			}
			st.LutFrames++
		}
	}

	cellMasks := map[*bitstream.Frame][]uint32{}
	var groups []netlist.Group
	switch b.Target {
	case TargetFF, TargetType0:
		groups = []netlist.Group{netlist.GroupFF}
	case TargetBRAM:
		groups = []netlist.Group{netlist.GroupBRAM}
	case TargetAll:
		groups = []netlist.Group{netlist.GroupFF, netlist.GroupBRAM}
	}
	if b.Netlist != nil {
		for _, g := range groups {
			for _, c := range b.Netlist.Cells(g) {
				for _, ref := range c.Bitmap {
					fr, ok := b.cellFrame(c, ref.FAR)
					if !ok {
						log.ModFaultList.WithFields(log.Fields{"cell": c.Name, "far": fmt.Sprintf("%08x", ref.FAR)}).
							Warn("cell bit outside loaded frames")
						continue
					}
					m, ok := cellMasks[fr]
					if !ok {
						m = make([]uint32, len(fr.Mask))
						cellMasks[fr] = m
					}
					if ref.Word >= 0 && ref.Word < len(m) {
						m[ref.Word] |= 1 << ref.Bit
					}
				}
			}
		}
	}
	for fr, m := range cellMasks {
		copy(fr.Mask, m)
	}
	st.CellFrames = len(cellMasks)

	for fr := range b.Memory.Frames() {
		if b.Target == TargetType0 && fr.Address.Block != far.BlockCLB {
			if !isZero(fr.Mask) {
				st.ClearedType++
			}
			clear(fr.Mask)
		}
		fr.UpdateFlags()
		if fr.EssentialBits > 0 {
			st.Frames++
			st.Bits += fr.EssentialBits
		}
	}
	log.ModFaultList.WithFields(log.Fields{
		"target": b.Target,
		"custom": b.CustomLutMask,
		"frames": st.Frames,
		"bits":   st.Bits,
	}).Info("injection masks prepared")
	if st.Bits == 0 {
		return st, fmt.Errorf("%w: target %s leaves every mask empty", ErrEmptyFaultList, b.Target)
	}
	return st, nil
}

func isZero(words []uint32) bool {
	for _, w := range words {
		if w != 0 {
			return false
		}
	}
	return true
}

// fragmentOf returns the fragment holding the bits of c when it is known:
// mapped LUTs carry it, other cells name their SLR.
func (b *Builder) fragmentOf(c *netlist.Cell) (uint32, bool) {
	if c.LUT != nil && c.LUT.Mapped() {
		return c.LUT.Fragment, true
	}
	if c.Placement.SLR == "" || b.Layout == nil {
		return 0, false
	}
	slr, ok := b.Layout.SLRByName(c.Placement.SLR)
	if !ok {
		return 0, false
	}
	frags := b.Memory.Fragments()
	if slr.ConfigIndex < 0 || slr.ConfigIndex >= len(frags) {
		return 0, false
	}
	return frags[slr.ConfigIndex].ID, true
}

// cellFrame finds the frame at raw holding a bit of c, in the fragment of c
// when it is known.
func (b *Builder) cellFrame(c *netlist.Cell, raw uint32) (*bitstream.Frame, bool) {
	if id, ok := b.fragmentOf(c); ok {
		fr, err := b.Memory.Frame(id, raw)
		return fr, err == nil
	}
	return b.frameOf(raw)
}

// frameOf finds the frame at raw, searching fragments in bitstream order.
func (b *Builder) frameOf(raw uint32) (*bitstream.Frame, bool) {
	for _, f := range b.Memory.Fragments() {
		if fr, ok := f.Frame(raw); ok {
			return fr, true
		}
	}
	return nil, false
}

// RecoveryFrames returns the frames holding the block RAMs named by
// RecoveryNodes, either exactly or as a hierarchy prefix, ascending.
func (b *Builder) RecoveryFrames() []uint32 {
	if b.Netlist == nil || len(b.RecoveryNodes) == 0 {
		return nil
	}
	set := map[uint32]bool{}
	for _, c := range b.Netlist.Cells(netlist.GroupBRAM) {
		if !matchesNode(c.Name, b.RecoveryNodes) {
			continue
		}
		for _, ref := range c.Bitmap {
			set[ref.FAR] = true
		}
		if c.BRAM != nil {
			for _, ref := range c.BRAM.ECC {
				set[ref.FAR] = true
			}
		}
	}
	return sortedFARs(set)
}

func matchesNode(name string, nodes []string) bool {
	for _, n := range nodes {
		if name == n || strings.HasPrefix(name, strings.TrimSuffix(n, "/")+"/") {
			return true
		}
	}
	return false
}

// CheckpointFrames returns the frames holding flip-flop state, ascending.
func (b *Builder) CheckpointFrames() []uint32 {
	if b.Netlist == nil {
		return nil
	}
	set := map[uint32]bool{}
	for _, c := range b.Netlist.Cells(netlist.GroupFF) {
		for _, ref := range c.Bitmap {
			set[ref.FAR] = true
		}
	}
	return sortedFARs(set)
}

func sortedFARs(set map[uint32]bool) []uint32 {
	out := make([]uint32, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}
