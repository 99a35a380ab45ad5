package netlist

import (
	"fmt"
	"sort"
	"strings"

	"github.com/OpenTraceLab/bitfault/internal/log"
	"github.com/OpenTraceLab/bitfault/pkg/device"
)

// Filter restricts the cells taken from the input files.
type Filter struct {
	// UnitPath keeps cells whose name starts with it.
	UnitPath string
	// Area keeps cells inside a Pblock. Tile notation compares tile
	// coordinates, slice notation site coordinates.
	Area *device.Area
}

// Keep reports whether c passes the filter.
func (f Filter) Keep(c *Cell) bool {
	if f.UnitPath != "" && !strings.HasPrefix(c.Name, f.UnitPath) {
		return false
	}
	if f.Area == nil {
		return true
	}
	p := c.Placement
	if f.Area.Slices {
		return f.Area.Contains(p.SiteX, p.SiteY)
	}
	return p.TileX >= 0 && f.Area.Contains(p.TileX, p.TileY)
}

func (f Filter) String() string {
	area := "none"
	if f.Area != nil {
		area = f.Area.String()
	}
	return fmt.Sprintf("unit path %q, area %s", f.UnitPath, area)
}

// Netlist holds the cells of a design grouped by resource kind. Cells keep
// the order in which they were loaded.
type Netlist struct {
	cells    map[Group][]*Cell
	filter   Filter
	location *LocationStats
}

// New returns an empty netlist that applies f to every added cell.
func New(f Filter) *Netlist {
	return &Netlist{cells: map[Group][]*Cell{}, filter: f}
}

// Filter returns the filter the netlist was built with.
func (n *Netlist) Filter() Filter { return n.filter }

// Add appends c unless the filter rejects it.
func (n *Netlist) Add(c *Cell) bool {
	if !n.filter.Keep(c) {
		return false
	}
	n.cells[c.Group] = append(n.cells[c.Group], c)
	return true
}

// Cells returns the cells of group g.
func (n *Netlist) Cells(g Group) []*Cell { return n.cells[g] }

// All returns every cell, group by group in the order of Groups.
func (n *Netlist) All() []*Cell {
	var out []*Cell
	for _, g := range Groups {
		out = append(out, n.cells[g]...)
	}
	return out
}

// Len is the number of cells.
func (n *Netlist) Len() int {
	total := 0
	for _, cs := range n.cells {
		total += len(cs)
	}
	return total
}

// Resolve checks the placement of every slice based cell against the layout
// and fills in missing tile coordinates. Cells whose site is unknown to the
// layout are removed and returned.
func (n *Netlist) Resolve(l *device.Layout) []*Cell {
	var dropped []*Cell
	for _, g := range Groups {
		if g == GroupBRAM || g == GroupOther {
			continue
		}
		kept := n.cells[g][:0]
		for _, c := range n.cells[g] {
			s, ok := l.Slice(c.Placement.Site)
			if !ok {
				log.ModNetlist.WithFields(log.Fields{
					"cell": c.Name,
					"site": c.Placement.Site,
				}).Warnf("%v: cell excluded", ErrUnresolved)
				dropped = append(dropped, c)
				continue
			}
			if c.Placement.TileX < 0 {
				c.Placement.Tile = s.Tile.Name
				c.Placement.TileX, c.Placement.TileY = s.Tile.X, s.Tile.Y
			}
			if cr := s.Tile.ClockRegion; cr != nil {
				if c.Placement.ClockRegionX < 0 {
					c.Placement.ClockRegionX, c.Placement.ClockRegionY = cr.X, cr.Y
				}
				if c.Placement.SLR == "" && cr.SLR != nil {
					c.Placement.SLR = cr.SLR.Name
				}
			}
			kept = append(kept, c)
		}
		n.cells[g] = kept
	}
	return dropped
}

// Statistics counts the loaded cells per group and primitive type, together
// with the coverage of the last logic location file.
type Statistics struct {
	Cells    map[Group]map[string]int
	Location *LocationStats
}

// Statistics summarizes the netlist.
func (n *Netlist) Statistics() Statistics {
	st := Statistics{Cells: map[Group]map[string]int{}, Location: n.location}
	for g, cells := range n.cells {
		if len(cells) == 0 {
			continue
		}
		m := map[string]int{}
		for _, c := range cells {
			m[c.Type]++
		}
		st.Cells[g] = m
	}
	return st
}

func (s Statistics) String() string {
	var b strings.Builder
	for _, g := range Groups {
		types := s.Cells[g]
		if len(types) == 0 {
			continue
		}
		fmt.Fprintf(&b, "Group %s:\n", g)
		names := make([]string, 0, len(types))
		for t := range types {
			names = append(names, t)
		}
		sort.Strings(names)
		for _, t := range names {
			fmt.Fprintf(&b, "\t%-16s : %d\n", t, types[t])
		}
	}
	if s.Location != nil {
		b.WriteString(s.Location.String())
	}
	return b.String()
}
