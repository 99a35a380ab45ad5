package device

import (
	"fmt"
	"iter"
	"regexp"
	"strconv"
)

// Area is a rectangle of tiles, or of slices when Slices is set. Bounds are
// inclusive.
type Area struct {
	X1, Y1 int
	X2, Y2 int
	Slices bool
}

var areaRe = regexp.MustCompile(`^(SLICE_)?X(\d+)Y(\d+):(SLICE_)?X(\d+)Y(\d+)$`)

// ParseArea parses "X1Y2:X3Y4" (tile notation) or
// "SLICE_X0Y0:SLICE_X9Y49" (slice notation). Corners may be given in any
// order.
func ParseArea(s string) (*Area, error) {
	m := areaRe.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("device: invalid area %q, want X<x1>Y<y1>:X<x2>Y<y2>", s)
	}
	if (m[1] == "") != (m[4] == "") {
		return nil, fmt.Errorf("device: invalid area %q: mixed tile and slice notation", s)
	}
	var v [4]int
	for i, idx := range []int{2, 3, 5, 6} {
		v[i], _ = strconv.Atoi(m[idx])
	}
	a := &Area{X1: min(v[0], v[2]), Y1: min(v[1], v[3]), X2: max(v[0], v[2]), Y2: max(v[1], v[3]), Slices: m[1] != ""}
	return a, nil
}

func (a *Area) Contains(x, y int) bool {
	return x >= a.X1 && x <= a.X2 && y >= a.Y1 && y <= a.Y2
}

func (a *Area) String() string {
	if a.Slices {
		return fmt.Sprintf("SLICE_X%dY%d:SLICE_X%dY%d", a.X1, a.Y1, a.X2, a.Y2)
	}
	return fmt.Sprintf("X%dY%d:X%dY%d", a.X1, a.Y1, a.X2, a.Y2)
}

// TilesInArea yields every tile of every column of every clock region whose
// coordinates fall inside area, walking SLRs in layout order. A nil area
// selects the whole device. The sequence can be ranged over repeatedly.
func (l *Layout) TilesInArea(area *Area) iter.Seq[TileRef] {
	return func(yield func(TileRef) bool) {
		for _, slr := range l.slrs {
			for _, cr := range slr.ClockRegions {
				for _, col := range cr.Columns {
					if area != nil && (col.X < area.X1 || col.X > area.X2) {
						continue
					}
					for _, y := range col.Ys {
						if area != nil && (y < area.Y1 || y > area.Y2) {
							continue
						}
						if !yield(TileRef{ClockRegion: cr, X: col.X, Y: y, Type: col.Type}) {
							return
						}
					}
				}
			}
		}
	}
}

// SlicesInArea returns the CLB slices inside area ordered by X, slice type
// and Y. Tile notation selects by the owning tile's coordinates, slice
// notation by the slice's own. A nil area returns every CLB slice.
func (l *Layout) SlicesInArea(area *Area) []*Slice {
	var out []*Slice
	for _, s := range l.clb {
		switch {
		case area == nil:
		case area.Slices && !area.Contains(s.X, s.Y):
			continue
		case !area.Slices && !area.Contains(s.Tile.X, s.Tile.Y):
			continue
		}
		out = append(out, s)
	}
	return out
}
