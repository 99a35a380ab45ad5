// Package netlist models the placed cells of an implemented design: LUTs,
// flip-flops, block RAMs and LUT RAMs with their physical placement, INIT
// values and the configuration bits that hold their state.
package netlist

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/OpenTraceLab/bitfault/pkg/far"
)

var (
	// ErrFormat is returned for malformed cell tables and logic location
	// files.
	ErrFormat = errors.New("netlist: malformed input")
	// ErrUnresolved marks cells whose placement does not exist in the
	// device layout.
	ErrUnresolved = errors.New("netlist: unresolved placement")
)

// Group is the kind of resource a cell occupies.
type Group int

const (
	GroupLUT Group = iota
	GroupFF
	GroupBRAM
	GroupLUTRAM
	GroupOther
)

// Groups lists every group in reporting order.
var Groups = []Group{GroupLUT, GroupFF, GroupBRAM, GroupLUTRAM, GroupOther}

func (g Group) String() string {
	switch g {
	case GroupLUT:
		return "LUT"
	case GroupFF:
		return "FF"
	case GroupBRAM:
		return "BRAM"
	case GroupLUTRAM:
		return "LUTRAM"
	case GroupOther:
		return "Other"
	}
	return fmt.Sprintf("Group(%d)", int(g))
}

// ParseGroup accepts the names printed by String, case insensitive.
// "Register" is accepted for FF.
func ParseGroup(s string) (Group, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LUT":
		return GroupLUT, nil
	case "FF", "REGISTER":
		return GroupFF, nil
	case "BRAM":
		return GroupBRAM, nil
	case "LUTRAM":
		return GroupLUTRAM, nil
	case "OTHER":
		return GroupOther, nil
	}
	return 0, fmt.Errorf("netlist: unknown cell group %q", s)
}

var (
	ffLabels = labelSet(
		"AFF", "A5FF", "BFF", "B5FF", "CFF", "C5FF", "DFF", "D5FF",
		"AFF2", "BFF2", "CFF2", "DFF2", "EFF", "EFF2", "FFF", "FFF2",
		"GFF", "GFF2", "HFF", "HFF2",
	)
	lutLabels = labelSet(
		"A5LUT", "A6LUT", "B5LUT", "B6LUT", "C5LUT", "C6LUT", "D5LUT", "D6LUT",
		"E5LUT", "E6LUT", "F5LUT", "F6LUT", "G5LUT", "G6LUT", "H5LUT", "H6LUT",
	)
	bramLabels = labelSet("RAMB18E1", "RAMB36E1", "RAMB18E2_L", "RAMB18E2_U", "RAMB36E2")
)

func labelSet(labels ...string) map[string]bool {
	m := make(map[string]bool, len(labels))
	for _, l := range labels {
		m[l] = true
	}
	return m
}

// Classify derives the group and the matching label of a cell from its BEL
// name ("SLICEL.A6LUT" or "A6LUT") and primitive type. LUT labels keep the
// letter and input count ("A6"), LUT RAM labels only the letter, BRAM labels
// the site kind ("RAMB36").
func Classify(bel, cellType string) (Group, string) {
	label := strings.ToUpper(bel)
	if i := strings.LastIndexByte(label, '.'); i >= 0 {
		label = label[i+1:]
	}
	cellType = strings.ToUpper(cellType)
	switch {
	case ffLabels[label]:
		return GroupFF, label
	case lutLabels[label]:
		if strings.HasPrefix(cellType, "DMEM") || strings.HasPrefix(cellType, "CLB.LUTRAM") {
			return GroupLUTRAM, label[:1]
		}
		return GroupLUT, label[:2]
	case bramLabels[label]:
		return GroupBRAM, label[:6]
	}
	return GroupOther, label
}

// Placement locates a cell on the device. Site coordinates are those of the
// slice or RAMB site; tile and clock region coordinates are -1 when unknown.
type Placement struct {
	Site         string
	SiteX, SiteY int
	Tile         string
	TileX, TileY int
	ClockRegionX int
	ClockRegionY int
	SLR          string // "SLR1"; empty until known
}

func (p Placement) String() string {
	return fmt.Sprintf("%s (tile X%dY%d, CR X%dY%d)", p.Site, p.TileX, p.TileY, p.ClockRegionX, p.ClockRegionY)
}

// Init is a Verilog style sized constant as written by the vendor tools,
// e.g. 64'h0000000000000001 or 1'b0. Value is valid only for widths up to
// 64 bits.
type Init struct {
	Text  string
	Width int
	Value uint64
	Valid bool
}

// ParseInit decodes an INIT attribute. An empty string yields a zero Init.
func ParseInit(s string) (Init, error) {
	s = strings.TrimSpace(s)
	init := Init{Text: s}
	if s == "" {
		return init, nil
	}
	w, rest, ok := strings.Cut(s, "'")
	if !ok || len(rest) < 2 {
		return init, fmt.Errorf("%w: INIT %q", ErrFormat, s)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return init, fmt.Errorf("%w: INIT width %q", ErrFormat, s)
	}
	init.Width = width
	base := 0
	switch rest[0] {
	case 'h', 'H':
		base = 16
	case 'b', 'B':
		base = 2
	case 'd', 'D':
		base = 10
	default:
		return init, fmt.Errorf("%w: INIT radix %q", ErrFormat, s)
	}
	digits := strings.ReplaceAll(rest[1:], "_", "")
	if width > 64 {
		return init, nil
	}
	v, err := strconv.ParseUint(digits, base, 64)
	if err != nil {
		return init, fmt.Errorf("%w: INIT value %q", ErrFormat, s)
	}
	init.Value, init.Valid = v, true
	return init, nil
}

// LutInfo is the LUT specific part of a cell, filled by the LUT mapper.
type LutInfo struct {
	// Pair is the other logical LUT sharing this physical BEL pair.
	Pair *Cell
	// CBelInputs are the BEL pins used only by the paired cell, ordered by
	// the paired cell's input names.
	CBelInputs []string
	// Fragment is the configuration fragment holding the BEL.
	Fragment uint32
	// Physical maps the 64 BEL truth table positions to configuration bits.
	Physical map[int]far.BitRef
	// Sequence holds, per logical input combination, the physical truth
	// table positions for every combination of CBelInputs.
	Sequence      [][]int
	Reconstructed string
	Match         bool
	Err           error
}

// Mapped reports whether the LUT was placed into the bitstream.
func (l *LutInfo) Mapped() bool { return l != nil && l.Err == nil && l.Physical != nil }

// BramInfo holds the parity bits of a block RAM.
type BramInfo struct {
	ECC map[int]far.BitRef
}

// Cell is one placed primitive. LUT and BRAM are set for the respective
// groups only.
type Cell struct {
	Name      string
	Group     Group
	Type      string // primitive type without library prefix, e.g. LUT6 or FDRE
	BelType   string // e.g. LUT6, LUT_OR_MEM6
	Label     string
	Placement Placement
	Init      Init
	// Connections maps logical input pins (I0..I5) to BEL pins (A1..A6).
	Connections map[string]string
	// Bitmap maps a logical bit index to its configuration bit.
	Bitmap map[int]far.BitRef

	LUT  *LutInfo
	BRAM *BramInfo
}

// NewCell returns a cell of group g with the variant payload allocated.
func NewCell(name string, g Group) *Cell {
	c := &Cell{
		Name:        name,
		Group:       g,
		Connections: map[string]string{},
		Bitmap:      map[int]far.BitRef{},
		Placement:   Placement{SiteX: -1, SiteY: -1, TileX: -1, TileY: -1, ClockRegionX: -1, ClockRegionY: -1},
	}
	switch g {
	case GroupLUT:
		c.LUT = &LutInfo{}
	case GroupBRAM:
		c.BRAM = &BramInfo{ECC: map[int]far.BitRef{}}
	}
	return c
}

// Letter is the BEL letter of a LUT, LUT RAM or FF label.
func (c *Cell) Letter() string {
	if c.Label == "" {
		return ""
	}
	return c.Label[:1]
}

// InputKeys returns the connection keys in lexicographic order.
func (c *Cell) InputKeys() []string {
	keys := make([]string, 0, len(c.Connections))
	for k := range c.Connections {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BitmapIndexes returns the bitmap keys in ascending order.
func (c *Cell) BitmapIndexes() []int {
	idx := make([]int, 0, len(c.Bitmap))
	for k := range c.Bitmap {
		idx = append(idx, k)
	}
	sort.Ints(idx)
	return idx
}

// BitmapSummary lists the distinct frames, words and bits of the bitmap.
func (c *Cell) BitmapSummary() string {
	fars, words, bits := map[uint32]bool{}, map[int]bool{}, map[int]bool{}
	for _, ref := range c.Bitmap {
		fars[ref.FAR], words[ref.Word], bits[ref.Bit] = true, true, true
	}
	var b strings.Builder
	b.WriteString("(FAR:")
	for _, f := range sortedKeys(fars) {
		fmt.Fprintf(&b, " 0x%08X", f)
	}
	b.WriteString(") : (word:")
	for _, w := range sortedKeys(words) {
		fmt.Fprintf(&b, " %d", w)
	}
	b.WriteString(") : (bit:")
	for _, v := range sortedKeys(bits) {
		fmt.Fprintf(&b, " %d", v)
	}
	b.WriteString(")")
	return b.String()
}

func sortedKeys[K int | uint32](m map[K]bool) []K {
	out := make([]K, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c *Cell) String() string {
	return fmt.Sprintf("%s %s %s/%s at %s", c.Group, c.Type, c.Label, c.BelType, c.Placement.Site)
}
