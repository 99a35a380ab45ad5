package lutmap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/OpenTraceLab/bitfault/internal/log"
	"github.com/OpenTraceLab/bitfault/pkg/far"
	"github.com/OpenTraceLab/bitfault/pkg/netlist"
)

// Report summarizes a MapCells run. Failed lists the cells that could not be
// mapped and Mismatched those whose INIT differs from the bitstream, both in
// input order.
type Report struct {
	Total      int
	Pairs      int
	Mapped     int
	Matched    int
	Mismatched []*netlist.Cell
	Failed     []*netlist.Cell
}

func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "LUT cells: %d, paired BELs: %d, mapped: %d, INIT match: %d, mismatch: %d, failed: %d",
		r.Total, r.Pairs, r.Mapped, r.Matched, len(r.Mismatched), len(r.Failed))
	for _, c := range r.Failed {
		fmt.Fprintf(&b, "\n\tfailed: %s: %v", c.Name, c.LUT.Err)
	}
	return b.String()
}

// MapCells pairs the LUT cells, then maps each one to the bitstream and
// checks its INIT. Cells are mapped concurrently; every worker writes only
// the cell it was handed. Per cell failures are kept in LUT.Err and do not
// stop the run. Cancelling ctx stops handing out cells and returns the
// partial report together with the context error.
func (m *Mapper) MapCells(ctx context.Context, cells []*netlist.Cell) (*Report, error) {
	var luts []*netlist.Cell
	for _, c := range cells {
		if c.Group == netlist.GroupLUT && c.LUT != nil {
			luts = append(luts, c)
		}
	}
	rep := &Report{Total: len(luts), Pairs: Pair(luts)}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for _, c := range luts {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			m.mapCell(c)
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	for _, c := range luts {
		switch {
		case c.LUT.Err != nil:
			rep.Failed = append(rep.Failed, c)
		case c.LUT.Physical == nil:
		case c.LUT.Match:
			rep.Mapped++
			rep.Matched++
		default:
			rep.Mapped++
			rep.Mismatched = append(rep.Mismatched, c)
		}
	}
	log.ModLutMap.WithFields(log.Fields{
		"cells":      rep.Total,
		"pairs":      rep.Pairs,
		"mapped":     rep.Mapped,
		"mismatched": len(rep.Mismatched),
		"failed":     len(rep.Failed),
		"workers":    m.workers,
	}).Info("LUT cells mapped")
	if err != nil {
		return rep, fmt.Errorf("lutmap: mapping interrupted: %w", err)
	}
	return rep, nil
}

func (m *Mapper) mapCell(c *netlist.Cell) {
	lut := c.LUT
	fail := func(err error) {
		lut.Err = err
		lut.Physical, lut.Sequence = nil, nil
		c.Bitmap = map[int]far.BitRef{}
		log.ModLutMap.WithFields(log.Fields{
			"cell":  c.Name,
			"site":  c.Placement.Site,
			"label": c.Label,
		}).Warnf("%v: cell excluded", err)
	}

	frag, err := m.BelFragment(c.Placement.TileX, c.Placement.TileY, c.Placement.SiteX, c.Label)
	if err != nil {
		fail(err)
		return
	}
	table, err := m.params.LutTable(c.BelType)
	if err != nil {
		fail(err)
		return
	}
	seq, err := Sequence(table, c.Connections, lut.CBelInputs, strings.HasSuffix(c.BelType, "5"))
	if err != nil {
		fail(err)
		return
	}

	lut.Fragment = frag.ConfigFragment
	lut.Sequence = seq
	lut.Physical = make(map[int]far.BitRef, len(frag.Bits))
	for k, ref := range frag.Bits {
		lut.Physical[k] = ref
	}
	k := 0
	for 1<<k < len(seq) {
		k++
	}
	c.Bitmap = make(map[int]far.BitRef, len(seq)*len(seq[0]))
	for i, row := range seq {
		for x, pos := range row {
			c.Bitmap[i|x<<k] = frag.Bits[pos]
		}
	}

	if _, err := m.Reconstruct(c); err != nil {
		if errors.Is(err, ErrInitMismatch) {
			logMismatch(c, err)
			return
		}
		fail(err)
		return
	}
	log.ModLutMap.Debugf("%s: %s INIT %s", c.Name, c.Label, lut.Reconstructed)
}

// ApplyCustomMask marks the bitmap bits of every mapped LUT whose name
// starts with scope in the custom mask of their frames. It returns the
// number of bits newly set. Call it only after MapCells returned.
func (m *Mapper) ApplyCustomMask(cells []*netlist.Cell, scope string) (int, error) {
	set := 0
	for _, c := range cells {
		if !c.LUT.Mapped() || !strings.HasPrefix(c.Name, scope) {
			continue
		}
		for _, ref := range c.Bitmap {
			fr, err := m.memory.Frame(c.LUT.Fragment, ref.FAR)
			if err != nil {
				return set, err
			}
			if fr.CustomMask == nil {
				fr.CustomMask = make([]uint32, len(fr.Data))
			}
			bit := uint32(1) << ref.Bit
			if fr.CustomMask[ref.Word]&bit == 0 {
				fr.CustomMask[ref.Word] |= bit
				set++
			}
		}
	}
	log.ModLutMap.WithFields(log.Fields{"scope": scope, "bits": set}).Info("custom LUT mask applied")
	return set, nil
}
