package device

import (
	"cmp"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/OpenTraceLab/bitfault/internal/log"
	"github.com/OpenTraceLab/bitfault/pkg/far"
)

var (
	ErrLayoutFormat         = errors.New("device: malformed layout")
	ErrCoordinateOutOfRange = errors.New("device: coordinate out of range")
)

// FormatError describes a layout description that could not be used.
type FormatError struct {
	Element string
	Name    string
	Err     error
}

func (e *FormatError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("device: layout %s %q: %v", e.Element, e.Name, e.Err)
	}
	return fmt.Sprintf("device: layout %s: %v", e.Element, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

func (e *FormatError) Is(target error) bool { return target == ErrLayoutFormat }

// Layout is the geometry of one device: SLRs, clock regions, tile columns and
// the slices of CLB tiles. It is immutable once loaded.
type Layout struct {
	Part   string
	Series far.Series

	params *Params
	slrs   []*SLR // layout order
	slices map[string]*Slice
	clb    []*Slice
}

// SLR is one die of the device.
type SLR struct {
	Name         string
	LayoutIndex  int // geometric position, 0 at the bottom
	ConfigIndex  int // position of the SLR's frames in the bitstream
	ClockRegions []*ClockRegion
	YMin, YMax   int // global tile Y extent

	rows       int
	bottomRows int
}

// Rows returns the number of clock region rows of the SLR.
func (s *SLR) Rows() int { return s.rows }

// BottomRows is the number of clock region rows addressed with the FAR top
// bit set (the bottom half of the die).
func (s *SLR) BottomRows() int {
	if s.bottomRows >= 0 {
		return s.bottomRows
	}
	return s.rows/2 + s.rows%2
}

type ClockRegion struct {
	Name       string
	X, Y       int
	SLR        *SLR
	Columns    []*Column
	YMin, YMax int
}

// Column is one tile column of a clock region.
type Column struct {
	X     int
	Type  string
	Major int
	Ys    []int
}

type Tile struct {
	Name        string
	Type        string
	X, Y        int
	Major       int
	ClockRegion *ClockRegion
	Slices      []*Slice
}

type Slice struct {
	Name string
	Type string
	X, Y int
	Tile *Tile
}

// TileRef is one element produced by TilesInArea.
type TileRef struct {
	ClockRegion *ClockRegion
	X, Y        int
	Type        string
}

type xmlTile struct {
	Name   string     `xml:"name,attr"`
	Type   string     `xml:"type,attr"`
	Column string     `xml:"column,attr"`
	Slices []xmlSlice `xml:"Slice"`
}

type xmlSlice struct {
	Name string `xml:"name,attr"`
	Type string `xml:"type,attr"`
}

var (
	coordRe   = regexp.MustCompile(`X(\d+)Y(\d+)$`)
	slrNameRe = regexp.MustCompile(`(\d+)$`)
)

// ParseCoordinates extracts the X/Y pair at the end of a tile, slice, site or
// clock region name ("CLBLL_L_X2Y149", "SLICE_X0Y12", "X1Y2").
func ParseCoordinates(name string) (x, y int, ok bool) {
	m := coordRe.FindStringSubmatch(name)
	if m == nil {
		return 0, 0, false
	}
	x, _ = strconv.Atoi(m[1])
	y, _ = strconv.Atoi(m[2])
	return x, y, true
}

// LoadLayoutFile reads a LAYOUT xml file. series may be SeriesUnknown, in
// which case it is derived from the part name.
func LoadLayoutFile(path string, series far.Series) (*Layout, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("device: open layout: %w", err)
	}
	defer f.Close()
	l, err := ParseLayout(f, series)
	if err != nil {
		return nil, fmt.Errorf("device: %s: %w", path, err)
	}
	return l, nil
}

// ParseLayout streams a layout description. Tiles are decoded one at a time so
// large devices are never held twice in memory.
func ParseLayout(r io.Reader, series far.Series) (*Layout, error) {
	dec := xml.NewDecoder(r)
	l := &Layout{slices: make(map[string]*Slice)}
	var (
		slr     *SLR
		cr      *ClockRegion
		columns map[string]*Column
		depth   int
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &FormatError{Element: "document", Err: err}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch {
			case depth == 1:
				l.Part = attr(t, "part")
				if series == far.SeriesUnknown {
					series = SeriesFromPart(l.Part)
				}
				p, err := ParamsFor(series)
				if err != nil {
					return nil, &FormatError{Element: t.Name.Local, Name: l.Part, Err: err}
				}
				l.Series, l.params = series, p
			case t.Name.Local == "Slr":
				slr, err = newSLR(t)
				if err != nil {
					return nil, err
				}
				l.slrs = append(l.slrs, slr)
			case t.Name.Local == "ClockRegion":
				if slr == nil {
					return nil, &FormatError{Element: "ClockRegion", Name: attr(t, "name"), Err: errors.New("outside Slr")}
				}
				name := attr(t, "name")
				x, y, ok := ParseCoordinates(name)
				if !ok {
					return nil, &FormatError{Element: "ClockRegion", Name: name, Err: errors.New("name is not XnYm")}
				}
				cr = &ClockRegion{Name: name, X: x, Y: y, SLR: slr, YMin: -1, YMax: -1}
				slr.ClockRegions = append(slr.ClockRegions, cr)
				columns = make(map[string]*Column)
			case t.Name.Local == "Tile":
				if cr == nil {
					return nil, &FormatError{Element: "Tile", Name: attr(t, "name"), Err: errors.New("outside ClockRegion")}
				}
				var xt xmlTile
				if err := dec.DecodeElement(&xt, &t); err != nil {
					return nil, &FormatError{Element: "Tile", Name: attr(t, "name"), Err: err}
				}
				depth--
				if err := l.addTile(cr, columns, xt); err != nil {
					return nil, err
				}
			}
		case xml.EndElement:
			depth--
			if t.Name.Local == "ClockRegion" {
				cr = nil
			}
		}
	}
	if l.params == nil {
		return nil, &FormatError{Element: "document", Err: errors.New("empty layout")}
	}
	if len(l.slrs) == 0 {
		return nil, &FormatError{Element: "Device", Name: l.Part, Err: errors.New("no Slr elements")}
	}
	l.finish()
	log.ModLayout.Debugf("layout %s: %d SLRs, %d CLB slices", l.Part, len(l.slrs), len(l.clb))
	return l, nil
}

func attr(t xml.StartElement, name string) string {
	for _, a := range t.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func newSLR(t xml.StartElement) (*SLR, error) {
	name := attr(t, "name")
	m := slrNameRe.FindStringSubmatch(name)
	if m == nil {
		return nil, &FormatError{Element: "Slr", Name: name, Err: errors.New("name is not SLRn")}
	}
	s := &SLR{Name: name, YMin: -1, YMax: -1, bottomRows: -1}
	s.LayoutIndex, _ = strconv.Atoi(m[1])
	s.ConfigIndex = s.LayoutIndex
	if v := attr(t, "config_order_index"); v != "" {
		idx, err := strconv.Atoi(v)
		if err != nil {
			return nil, &FormatError{Element: "Slr", Name: name, Err: fmt.Errorf("config_order_index: %w", err)}
		}
		s.ConfigIndex = idx
	}
	if v := attr(t, "bottom_rows"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, &FormatError{Element: "Slr", Name: name, Err: fmt.Errorf("bottom_rows: %w", err)}
		}
		s.bottomRows = n
	}
	return s, nil
}

func (l *Layout) addTile(cr *ClockRegion, columns map[string]*Column, xt xmlTile) error {
	x, y, ok := ParseCoordinates(xt.Name)
	if !ok {
		log.ModLayout.Debugf("skipping tile without coordinates: %s", xt.Name)
		return nil
	}
	major := 0
	if xt.Column != "" {
		var err error
		if major, err = strconv.Atoi(xt.Column); err != nil {
			return &FormatError{Element: "Tile", Name: xt.Name, Err: fmt.Errorf("column: %w", err)}
		}
	}
	key := fmt.Sprintf("%d/%s", x, xt.Type)
	col, ok := columns[key]
	if !ok {
		col = &Column{X: x, Type: xt.Type, Major: major}
		columns[key] = col
		cr.Columns = append(cr.Columns, col)
	}
	col.Ys = append(col.Ys, y)

	clb := l.params.IsCLBTile(xt.Type)
	if clb || strings.HasPrefix(xt.Type, "INT") {
		cr.YMin, cr.YMax = extend(cr.YMin, cr.YMax, y)
	}
	if !clb || len(xt.Slices) == 0 {
		return nil
	}
	tile := &Tile{Name: xt.Name, Type: xt.Type, X: x, Y: y, Major: major, ClockRegion: cr}
	for _, xs := range xt.Slices {
		sx, sy, ok := ParseCoordinates(xs.Name)
		if !ok {
			return &FormatError{Element: "Slice", Name: xs.Name, Err: errors.New("name has no coordinates")}
		}
		s := &Slice{Name: xs.Name, Type: xs.Type, X: sx, Y: sy, Tile: tile}
		tile.Slices = append(tile.Slices, s)
		l.slices[s.Name] = s
		l.clb = append(l.clb, s)
	}
	return nil
}

func extend(lo, hi, v int) (int, int) {
	if lo < 0 || v < lo {
		lo = v
	}
	if v > hi {
		hi = v
	}
	return lo, hi
}

func (l *Layout) finish() {
	slices.SortFunc(l.slrs, func(a, b *SLR) int { return cmp.Compare(a.LayoutIndex, b.LayoutIndex) })
	for _, s := range l.slrs {
		rows := make(map[int]bool)
		for _, cr := range s.ClockRegions {
			rows[cr.Y] = true
			if cr.YMin >= 0 {
				s.YMin, s.YMax = extend(s.YMin, s.YMax, cr.YMin)
				s.YMin, s.YMax = extend(s.YMin, s.YMax, cr.YMax)
			}
			for _, c := range cr.Columns {
				slices.Sort(c.Ys)
			}
			slices.SortFunc(cr.Columns, func(a, b *Column) int {
				return cmp.Or(cmp.Compare(a.X, b.X), strings.Compare(a.Type, b.Type))
			})
		}
		s.rows = len(rows)
		slices.SortFunc(s.ClockRegions, func(a, b *ClockRegion) int {
			return cmp.Or(cmp.Compare(a.Y, b.Y), cmp.Compare(a.X, b.X))
		})
	}
	slices.SortFunc(l.clb, func(a, b *Slice) int {
		return cmp.Or(cmp.Compare(a.X, b.X), strings.Compare(a.Type, b.Type), cmp.Compare(a.Y, b.Y))
	})
}

// Params returns the series constants the layout was built with.
func (l *Layout) Params() *Params { return l.params }

// SLRsByLayout returns the SLRs bottom to top.
func (l *Layout) SLRsByLayout() []*SLR {
	return slices.Clone(l.slrs)
}

// SLRsByConfig returns the SLRs in bitstream order.
func (l *Layout) SLRsByConfig() []*SLR {
	out := slices.Clone(l.slrs)
	slices.SortStableFunc(out, func(a, b *SLR) int { return cmp.Compare(a.ConfigIndex, b.ConfigIndex) })
	return out
}

// SLRByName looks up an SLR by its name ("SLR1").
func (l *Layout) SLRByName(name string) (*SLR, bool) {
	for _, s := range l.slrs {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// ClockRegionHeight is the number of CLB rows per clock region.
func (l *Layout) ClockRegionHeight() int { return l.params.ClockRegionHeight }

// Slice looks up a slice of a CLB tile by name.
func (l *Layout) Slice(name string) (*Slice, bool) {
	s, ok := l.slices[name]
	return s, ok
}

// TileToLocal resolves the SLR holding a global tile coordinate and returns
// the coordinate relative to that SLR. SLRs are searched in layout order.
func (l *Layout) TileToLocal(x, y int) (*SLR, int, int, error) {
	for _, s := range l.slrs {
		if s.YMin >= 0 && y >= s.YMin && y <= s.YMax {
			return s, x, y - s.YMin, nil
		}
	}
	return nil, 0, 0, fmt.Errorf("%w: tile X%dY%d", ErrCoordinateOutOfRange, x, y)
}
