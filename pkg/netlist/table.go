package netlist

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/OpenTraceLab/bitfault/internal/log"
	"github.com/OpenTraceLab/bitfault/pkg/device"
)

// Cell table columns. BEL carries the placed BEL name ("SLICEL.A6LUT");
// tables without it take the label from BellType.
const (
	colNode        = "Node"
	colCellType    = "CellType"
	colLocation    = "CellLocation"
	colBel         = "BEL"
	colBelType     = "BellType"
	colClockRegion = "ClockRegion"
	colTile        = "Tile"
	colInit        = "INIT"
	colConnections = "CellConnections"
)

var requiredColumns = []string{colNode, colCellType, colLocation, colBelType}

// RowError reports a malformed cell table row.
type RowError struct {
	Line   int
	Column string
	Value  string
	Err    error
}

func (e *RowError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("netlist: cell table line %d, column %s: %v", e.Line, e.Column, e.Err)
	}
	return fmt.Sprintf("netlist: cell table line %d, column %s (%q): %v", e.Line, e.Column, e.Value, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

func (e *RowError) Is(target error) bool { return target == ErrFormat }

// LoadCellsFile reads a cell description table from path.
func LoadCellsFile(path string, f Filter) (*Netlist, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("netlist: open cell table: %w", err)
	}
	defer fd.Close()
	return LoadCells(fd, f)
}

// LoadCells reads a cell description table, one placed primitive per row.
// The delimiter is ';' or ',' and is taken from an optional "sep=" line or
// from the header. Cells rejected by f are skipped.
func LoadCells(r io.Reader, f Filter) (*Netlist, error) {
	br := bufio.NewReader(r)
	line := 0
	header, err := readHeaderLine(br, &line)
	if err != nil {
		return nil, err
	}
	sep := ';'
	if sepLine, ok := strings.CutPrefix(header, "sep="); ok {
		if s := strings.TrimSpace(sepLine); s != "" {
			sep = rune(s[0])
		}
		if header, err = readHeaderLine(br, &line); err != nil {
			return nil, err
		}
	} else if !strings.Contains(header, ";") && strings.Contains(header, ",") {
		sep = ','
	}

	cols := map[string]int{}
	for i, name := range strings.Split(header, string(sep)) {
		if name = strings.TrimSpace(name); name != "" {
			cols[name] = i
		}
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, &RowError{Line: line, Column: name, Err: fmt.Errorf("%w: missing column", ErrFormat)}
		}
	}

	cr := csv.NewReader(br)
	cr.Comma = sep
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	n := New(f)
	skipped := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		pos, _ := cr.FieldPos(0)
		c, err := parseRow(rec, cols, line+pos)
		if err != nil {
			return nil, err
		}
		if !n.Add(c) {
			skipped++
		}
	}
	log.ModNetlist.WithFields(log.Fields{
		"cells":   n.Len(),
		"skipped": skipped,
		"filter":  f.String(),
	}).Info("netlist cells loaded")
	return n, nil
}

func readHeaderLine(br *bufio.Reader, line *int) (string, error) {
	for {
		s, err := br.ReadString('\n')
		if s == "" && err != nil {
			if err == io.EOF {
				return "", &RowError{Line: *line + 1, Column: colNode, Err: fmt.Errorf("%w: empty cell table", ErrFormat)}
			}
			return "", err
		}
		*line++
		s = strings.TrimSpace(strings.TrimPrefix(s, "\ufeff"))
		if s != "" {
			return s, nil
		}
	}
}

func parseRow(rec []string, cols map[string]int, line int) (*Cell, error) {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	rowErr := func(col, value string, err error) error {
		return &RowError{Line: line, Column: col, Value: value, Err: err}
	}

	name := field(colNode)
	if name == "" {
		return nil, rowErr(colNode, "", errors.New("empty cell name"))
	}
	cellType := field(colCellType)
	bel := field(colBel)
	belType := field(colBelType)
	if bel == "" {
		bel = belType
	}
	group, label := Classify(bel, cellType)
	c := NewCell(name, group)
	c.Label = label
	c.BelType = belType
	c.Type = strings.ToUpper(cellType)
	if i := strings.LastIndexByte(c.Type, '.'); i >= 0 {
		c.Type = c.Type[i+1:]
	}

	site := field(colLocation)
	x, y, ok := device.ParseCoordinates(site)
	if !ok {
		return nil, rowErr(colLocation, site, errors.New("no site coordinates"))
	}
	c.Placement.Site, c.Placement.SiteX, c.Placement.SiteY = site, x, y
	if tile := field(colTile); tile != "" {
		x, y, ok := device.ParseCoordinates(tile)
		if !ok {
			return nil, rowErr(colTile, tile, errors.New("no tile coordinates"))
		}
		c.Placement.Tile, c.Placement.TileX, c.Placement.TileY = tile, x, y
	}
	if cr := field(colClockRegion); cr != "" {
		x, y, ok := device.ParseCoordinates(cr)
		if !ok {
			return nil, rowErr(colClockRegion, cr, errors.New("no clock region coordinates"))
		}
		c.Placement.ClockRegionX, c.Placement.ClockRegionY = x, y
	}

	if group == GroupLUT || group == GroupFF || group == GroupLUTRAM {
		init, err := ParseInit(field(colInit))
		if err != nil {
			return nil, rowErr(colInit, field(colInit), err)
		}
		c.Init = init
	}
	conns, err := ParseConnections(field(colConnections))
	if err != nil {
		return nil, rowErr(colConnections, field(colConnections), err)
	}
	c.Connections = conns
	return c, nil
}
