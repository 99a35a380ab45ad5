package lutmap

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/OpenTraceLab/bitfault/internal/log"
	"github.com/OpenTraceLab/bitfault/pkg/netlist"
)

// pinIndex returns n-1 for a BEL pin "A<n>", n in 1..6.
func pinIndex(pin string) (int, error) {
	if len(pin) != 2 || pin[0] != 'A' || pin[1] < '1' || pin[1] > '6' {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPin, pin)
	}
	return int(pin[1] - '1'), nil
}

// Sequence derives the logical to physical truth table permutation of a LUT.
//
// The logical inputs are the connection values ordered by their keys (I0,
// I1, ...) followed by cbel, the pins only used by the paired LUT of the BEL.
// Pins used by neither are held at 1, except A6 of a 5-input BEL which is
// held at 0. For every logical combination i (bit n = value of the n-th
// connection) and every combination x of the cbel pins, res[i][x] is the
// BEL truth table position selected through table.
func Sequence(table *[64]int, conns map[string]string, cbel []string, bel5 bool) ([][]int, error) {
	keys := make([]string, 0, len(conns))
	for k := range conns {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pins := make([]int, 0, len(keys)+len(cbel))
	var used uint
	addPin := func(name string) error {
		p, err := pinIndex(name)
		if err != nil {
			return err
		}
		if used&(1<<p) != 0 {
			return fmt.Errorf("%w: %s used twice", ErrInvalidPin, name)
		}
		used |= 1 << p
		pins = append(pins, p)
		return nil
	}
	for _, k := range keys {
		if err := addPin(conns[k]); err != nil {
			return nil, err
		}
	}
	for _, c := range cbel {
		if err := addPin(c); err != nil {
			return nil, err
		}
	}

	base := 0
	for p := 0; p < 6; p++ {
		if used&(1<<p) != 0 {
			continue
		}
		if p == 5 && bel5 {
			continue
		}
		base |= 1 << p
	}

	k, c := len(keys), len(cbel)
	res := make([][]int, 1<<k)
	for i := range res {
		res[i] = make([]int, 1<<c)
		for x := range res[i] {
			v := uint(i) | uint(x)<<k
			row := base
			for n, p := range pins {
				row |= int(v>>n&1) << p
			}
			res[i][x] = table[row]
		}
	}
	return res, nil
}

// Pair links the LUTs that share one physical BEL: two LUT cells placed in
// the same slice under the same BEL letter. Each gets the pins used only by
// the other as CBelInputs, ordered by the other cell's input names. A cell
// is paired at most once.
func Pair(cells []*netlist.Cell) int {
	pairs := 0
	for i, a := range cells {
		if a.LUT == nil || a.LUT.Pair != nil {
			continue
		}
		for _, b := range cells[i+1:] {
			if b.LUT == nil || b.LUT.Pair != nil {
				continue
			}
			if a.Placement.SiteX != b.Placement.SiteX || a.Placement.SiteY != b.Placement.SiteY || a.Letter() != b.Letter() {
				continue
			}
			a.LUT.Pair, b.LUT.Pair = b, a
			a.LUT.CBelInputs = exclusivePins(b, a)
			b.LUT.CBelInputs = exclusivePins(a, b)
			pairs++
			break
		}
	}
	return pairs
}

// exclusivePins lists the BEL pins of from that other does not use, in the
// order of from's input keys.
func exclusivePins(from, other *netlist.Cell) []string {
	taken := map[string]bool{}
	for _, v := range other.Connections {
		taken[v] = true
	}
	var out []string
	for _, k := range from.InputKeys() {
		if v := from.Connections[k]; !taken[v] {
			out = append(out, v)
		}
	}
	return out
}

// FormatInit renders a LUT truth table the way the netlist tools do, e.g.
// 64'h0000000000000001 or 4'h6.
func FormatInit(width int, v uint64) string {
	return fmt.Sprintf("%d'h%0*X", width, max(1, width/4), v)
}

// Reconstruct reads the truth table of a mapped LUT back from the
// configuration memory and compares it with the INIT of the netlist. The
// result is stored in the cell. A differing value returns an error wrapping
// ErrInitMismatch; the cell stays mapped.
func (m *Mapper) Reconstruct(c *netlist.Cell) (string, error) {
	lut := c.LUT
	if lut == nil || lut.Physical == nil || lut.Sequence == nil {
		return "", fmt.Errorf("lutmap: %s is not mapped", c.Name)
	}
	w := len(lut.Sequence)
	var v uint64
	for b := 0; b < w && b < 64; b++ {
		ref := lut.Physical[lut.Sequence[b][0]]
		bit, err := m.memory.Bit(lut.Fragment, ref)
		if err != nil {
			return "", err
		}
		v |= uint64(bit) << b
	}
	lut.Reconstructed = FormatInit(w, v)
	lut.Match = c.Init.Valid && c.Init.Width == w && c.Init.Value == v
	if lut.Match {
		return lut.Reconstructed, nil
	}
	return lut.Reconstructed, fmt.Errorf("%w: %s INIT %s, bitstream %s", ErrInitMismatch, c.Name, initText(c.Init), lut.Reconstructed)
}

func initText(i netlist.Init) string {
	if i.Text == "" {
		return "<none>"
	}
	return i.Text
}

// SequenceString renders a sequence as comma separated table positions,
// one group per logical combination, groups separated by '|'.
func SequenceString(seq [][]int) string {
	var b strings.Builder
	for i, row := range seq {
		if i > 0 {
			b.WriteByte('|')
		}
		for j, v := range row {
			if j > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Itoa(v))
		}
	}
	return b.String()
}

func logMismatch(c *netlist.Cell, err error) {
	log.ModLutMap.WithFields(log.Fields{
		"cell":  c.Name,
		"site":  c.Placement.Site,
		"tile":  c.Placement.Tile,
		"label": c.Label,
		"init":  initText(c.Init),
		"bits":  c.LUT.Reconstructed,
	}).Error(err)
}
