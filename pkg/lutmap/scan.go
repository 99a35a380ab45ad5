package lutmap

import (
	"cmp"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"slices"

	"github.com/OpenTraceLab/bitfault/internal/log"
	"github.com/OpenTraceLab/bitfault/pkg/device"
)

var belLabels = []string{"A6", "B6", "C6", "D6"}

// ScanOptions control ScanLayout.
type ScanOptions struct {
	// BitOrder reorders the raw BEL content into INIT bit order through
	// the BEL's truth table permutation.
	BitOrder bool
	// SkipEmpty drops BELs whose content is all zero.
	SkipEmpty bool
}

// BelContent is the truth table read from one LUT BEL.
type BelContent struct {
	Slice   *device.Slice
	Label   string
	Name    string
	BelType string
	// Raw has table position k at bit k; Init is Raw or, with BitOrder,
	// the value in INIT bit order.
	Raw  uint64
	Init uint64
}

// ScanLayout reads the content of every 6-input LUT BEL of the CLB slices
// inside area (nil for the whole device), ordered by slice X, slice Y and
// name.
func (m *Mapper) ScanLayout(ctx context.Context, area *device.Area, opts ScanOptions) ([]BelContent, error) {
	sl := m.layout.SlicesInArea(area)
	log.ModLutMap.WithFields(log.Fields{"area": areaString(area), "slices": len(sl)}).Info("scanning LUT BELs")

	var out []BelContent
	for n, s := range sl {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		side := "L"
		if s.X%2 == 1 {
			side = "R"
		}
		belType, table := "LUT6", &m.params.LutLogic
		if s.Type == m.params.SliceMType {
			belType, table = "LUT_OR_MEM6", &m.params.LutMemory
		}
		for _, label := range belLabels {
			f, err := m.BelFragment(s.Tile.X, s.Tile.Y, s.X, label)
			if err != nil {
				return nil, fmt.Errorf("lutmap: %s %s: %w", s.Name, label, err)
			}
			raw, err := m.Content(f)
			if err != nil {
				return nil, fmt.Errorf("lutmap: %s %s: %w", s.Name, label, err)
			}
			if opts.SkipEmpty && raw == 0 {
				continue
			}
			bc := BelContent{
				Slice:   s,
				Label:   label,
				Name:    fmt.Sprintf("Tile_X%03dY%03d:Slice_%s:Label_%s", s.Tile.X, s.Tile.Y, side, label),
				BelType: belType,
				Raw:     raw,
				Init:    raw,
			}
			if opts.BitOrder {
				bc.Init = 0
				for b := range 64 {
					bc.Init |= (raw >> table[b] & 1) << b
				}
			}
			out = append(out, bc)
		}
		if (n+1)%1000 == 0 {
			log.ModLutMap.Debugf("scanned %d/%d slices (%s)", n+1, len(sl), s.Name)
		}
	}
	slices.SortStableFunc(out, func(a, b BelContent) int {
		return cmp.Or(cmp.Compare(a.Slice.X, b.Slice.X), cmp.Compare(a.Slice.Y, b.Slice.Y), cmp.Compare(a.Name, b.Name))
	})
	return out, nil
}

func areaString(a *device.Area) string {
	if a == nil {
		return "device"
	}
	return a.String()
}

// WriteBelContentsCSV writes a ';' separated table with a leading "sep="
// line so spreadsheet tools pick up the delimiter.
func WriteBelContentsCSV(w io.Writer, contents []BelContent) error {
	if _, err := io.WriteString(w, "sep=;\n"); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	cw.Comma = ';'
	if err := cw.Write([]string{"Slice", "Bel", "Name", "BelType", "Init"}); err != nil {
		return err
	}
	for _, bc := range contents {
		rec := []string{bc.Slice.Name, bc.Label, bc.Name, bc.BelType, fmt.Sprintf("0x%016x", bc.Init)}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
