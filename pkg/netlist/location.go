package netlist

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/OpenTraceLab/bitfault/internal/log"
	"github.com/OpenTraceLab/bitfault/pkg/device"
	"github.com/OpenTraceLab/bitfault/pkg/far"
)

// RecordKind distinguishes the bit records of a logic location file.
type RecordKind int

const (
	RecordLatch  RecordKind = iota // flip-flop state bit
	RecordBRAM                     // block RAM data bit
	RecordParity                   // block RAM parity bit
	RecordLUTRAM                   // distributed RAM bit
	RecordOther                    // bit of a site no cell group covers (IOB, OLOGIC, ...)
)

// LocationRecord is one "Bit" line of a logic location file.
type LocationRecord struct {
	Kind        RecordKind
	Offset      int // bit offset in the configuration stream
	FAR         uint32
	FrameOffset int
	SLR         string
	Block       string // site name, e.g. SLICE_X0Y1 or RAMB36_X0Y2
	SiteX       int
	SiteY       int
	Label       string // matching label: AFF, RAMB36, A, ...
	Index       int    // bit index inside the cell
	Net         string
}

// Group is the cell group a record belongs to.
func (r *LocationRecord) Group() Group {
	switch r.Kind {
	case RecordLatch:
		return GroupFF
	case RecordBRAM, RecordParity:
		return GroupBRAM
	case RecordLUTRAM:
		return GroupLUTRAM
	}
	return GroupOther
}

// Ref is the configuration bit of the record.
func (r *LocationRecord) Ref() far.BitRef {
	return far.BitRef{FAR: r.FAR, Word: r.FrameOffset / 32, Bit: r.FrameOffset % 32}
}

// ParseLocationLine parses one line of a logic location file. Lines that are
// not "Bit" records return nil and no error. Bit records of sites outside the
// flip-flop, block RAM and LUT RAM families come back as RecordOther; only
// records of a known family with broken fields are errors.
func ParseLocationLine(line int, text string) (*LocationRecord, error) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "Bit ") && !strings.HasPrefix(trimmed, "Bit\t") {
		return nil, nil
	}
	ll, err := locationParser.ParseString("", trimmed)
	if err != nil {
		return nil, locationFailure(line, trimmed, err)
	}
	bad := func(msg string) error {
		return &LocationError{Line: line, Text: trimmed, Err: fmt.Errorf("%w: %s", ErrFormat, msg)}
	}
	farValue, err := strconv.ParseUint(ll.FAR[2:], 16, 32)
	if err != nil {
		return nil, bad("frame address " + ll.FAR)
	}
	rec := &LocationRecord{
		Kind:        RecordOther,
		Offset:      ll.Offset,
		FAR:         uint32(farValue),
		FrameOffset: ll.FrameOffset,
		SLR:         ll.SLR,
		Block:       ll.Block,
	}
	x, y, ok := device.ParseCoordinates(ll.Block)
	slice := strings.HasPrefix(ll.Block, "SLICE_")
	ramb := strings.HasPrefix(ll.Block, "RAMB18_") || strings.HasPrefix(ll.Block, "RAMB36_")

	p := ll.Payload
	switch {
	case p.Other != nil:
		if k := p.Other.Key; k == "Latch" || k == "Ram" {
			return nil, bad(k + " record")
		}
		return rec, nil
	case p.Latch != nil && slice, p.Ram != nil && (slice || ramb):
	default:
		return rec, nil
	}
	if !ok {
		return nil, bad("block " + ll.Block)
	}
	rec.SiteX, rec.SiteY = x, y
	if p.Latch != nil {
		rec.Kind = RecordLatch
		rec.Label = strings.ReplaceAll(strings.ReplaceAll(p.Latch.Name, "FF.", ""), "Q", "FF")
		rec.Net = strings.TrimSpace(strings.TrimPrefix(p.Latch.Net, "Net="))
		return rec, nil
	}
	if err := rec.setRam(ll.Block, p.Ram); err != nil {
		return nil, bad(err.Error())
	}
	return rec, nil
}

func (r *LocationRecord) setRam(block string, p *ramPayload) error {
	switch {
	case strings.HasPrefix(block, "RAMB18_") || strings.HasPrefix(block, "RAMB36_"):
		if p.Bank != "B" {
			return fmt.Errorf("block RAM bank %q", p.Bank)
		}
		r.Label = block[:6]
		var digits string
		switch {
		case strings.HasPrefix(p.Index, "PARBIT"):
			r.Kind, digits = RecordParity, p.Index[len("PARBIT"):]
		case strings.HasPrefix(p.Index, "BIT"):
			r.Kind, digits = RecordBRAM, p.Index[len("BIT"):]
		default:
			return fmt.Errorf("block RAM bit %q", p.Index)
		}
		idx, err := strconv.Atoi(digits)
		if err != nil {
			return fmt.Errorf("block RAM bit %q", p.Index)
		}
		r.Index = idx
	case strings.HasPrefix(block, "SLICE_"):
		if len(p.Bank) != 1 || p.Bank[0] < 'A' || p.Bank[0] > 'H' {
			return fmt.Errorf("LUT RAM bank %q", p.Bank)
		}
		idx, err := strconv.Atoi(p.Index)
		if err != nil {
			return fmt.Errorf("LUT RAM bit %q", p.Index)
		}
		r.Kind, r.Label, r.Index = RecordLUTRAM, p.Bank, idx
	}
	return nil
}

// LocationOptions control how a logic location file is merged into the
// netlist.
type LocationOptions struct {
	// Standalone creates cells for records that match no loaded cell
	// instead of only counting them.
	Standalone bool
	// Layout, when set, gives records tile coordinates so the netlist
	// area filter can be applied to them.
	Layout *device.Layout
}

// LocationStats is the coverage of a logic location file.
type LocationStats struct {
	Lines   int
	Records int
	// Unrecognized counts the bit records of other sites. They are skipped.
	Unrecognized int
	Filtered     int
	Matched   map[Group]int
	Unmatched map[Group]int
	Created   int
}

func (s *LocationStats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Logic location: %d lines, %d bit records, %d other sites, %d filtered, %d cells created\n",
		s.Lines, s.Records, s.Unrecognized, s.Filtered, s.Created)
	for _, g := range []Group{GroupFF, GroupBRAM, GroupLUTRAM} {
		fmt.Fprintf(&b, "\t%-10s: %8d matched, %8d unmatched\n", g, s.Matched[g], s.Unmatched[g])
	}
	return b.String()
}

type siteKey struct {
	x, y  int
	label string
}

// LoadLogicLocationFile merges the logic location file at path.
func (n *Netlist) LoadLogicLocationFile(path string, opts LocationOptions) (*LocationStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("netlist: open logic location file: %w", err)
	}
	defer f.Close()
	return n.LoadLogicLocation(f, opts)
}

// LoadLogicLocation reads a logic location file and fills the bitmaps of the
// flip-flop, block RAM and LUT RAM cells. Records are matched to cells by
// site coordinates and label; word and bit are derived from the frame offset
// (offset/32, offset%32). Block RAM parity bits go to the ECC bitmap.
// Records without a matching cell are counted, or turned into new cells in
// standalone mode. Records of other sites are only counted. A malformed "Bit"
// line of a known family aborts the load.
func (n *Netlist) LoadLogicLocation(r io.Reader, opts LocationOptions) (*LocationStats, error) {
	byKey := map[siteKey][]*Cell{}
	for _, c := range n.All() {
		k := siteKey{c.Placement.SiteX, c.Placement.SiteY, c.Label}
		byKey[k] = append(byKey[k], c)
	}
	created := map[siteKey]*Cell{}
	stats := &LocationStats{Matched: map[Group]int{}, Unmatched: map[Group]int{}}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		stats.Lines++
		rec, err := ParseLocationLine(stats.Lines, sc.Text())
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		if rec.Kind == RecordOther {
			stats.Unrecognized++
			log.ModNetlist.Debugf("logic location line %d: skipped %s bit on %s", stats.Lines, rec.Ref(), rec.Block)
			continue
		}
		stats.Records++
		k := siteKey{rec.SiteX, rec.SiteY, rec.Label}
		if cells, ok := byKey[k]; ok {
			matched := false
			for _, c := range cells {
				if c.Group != rec.Group() || !n.filter.Keep(c) {
					continue
				}
				assignBit(c, rec)
				matched = true
			}
			if matched {
				stats.Matched[rec.Group()]++
				continue
			}
		}
		if !opts.Standalone {
			stats.Unmatched[rec.Group()]++
			continue
		}
		c, ok := created[k]
		if !ok {
			c = n.cellFromRecord(rec, opts.Layout)
			if !n.Add(c) {
				stats.Filtered++
				continue
			}
			created[k] = c
			stats.Created++
		}
		assignBit(c, rec)
		stats.Matched[rec.Group()]++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("netlist: read logic location file: %w", err)
	}
	n.location = stats
	log.ModNetlist.WithFields(log.Fields{
		"records":   stats.Records,
		"other":     stats.Unrecognized,
		"matched":   stats.Matched,
		"unmatched": stats.Unmatched,
		"created":   stats.Created,
	}).Info("logic location file parsed")
	return stats, nil
}

func assignBit(c *Cell, rec *LocationRecord) {
	if c.Placement.SLR == "" {
		c.Placement.SLR = rec.SLR
	}
	ref := rec.Ref()
	switch rec.Kind {
	case RecordParity:
		if c.BRAM == nil {
			c.BRAM = &BramInfo{ECC: map[int]far.BitRef{}}
		}
		c.BRAM.ECC[rec.Index] = ref
	case RecordLatch:
		c.Bitmap[0] = ref
	default:
		c.Bitmap[rec.Index] = ref
	}
}

func (n *Netlist) cellFromRecord(rec *LocationRecord, l *device.Layout) *Cell {
	name := rec.Net
	if name == "" {
		name = fmt.Sprintf("%s/%s", rec.Block, rec.Label)
	}
	c := NewCell(name, rec.Group())
	c.Label = rec.Label
	c.Type = rec.Group().String()
	c.Placement.Site, c.Placement.SiteX, c.Placement.SiteY = rec.Block, rec.SiteX, rec.SiteY
	if l != nil {
		if s, ok := l.Slice(rec.Block); ok {
			c.Placement.Tile = s.Tile.Name
			c.Placement.TileX, c.Placement.TileY = s.Tile.X, s.Tile.Y
		}
	}
	return c
}
