package lutmap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/OpenTraceLab/bitfault/pkg/bitstream"
	"github.com/OpenTraceLab/bitfault/pkg/device"
	"github.com/OpenTraceLab/bitfault/pkg/far"
	"github.com/OpenTraceLab/bitfault/pkg/netlist"
)

const testFragment = 0x0362D093

// testLayout is one SLR with two clock region rows of 50 tiles: CLBLL_L at
// X2 (slices X0, X1) and CLBLM_R at X3 (slices X2 SLICEM, X3).
func testLayout(t *testing.T) *device.Layout {
	t.Helper()
	var b strings.Builder
	b.WriteString("<Device part=\"xc7a35tcpg236-1\">\n <Slr name=\"SLR0\">\n")
	for r := 0; r < 2; r++ {
		fmt.Fprintf(&b, "  <ClockRegion name=\"X0Y%d\">\n", r)
		for i := 0; i < 50; i++ {
			y := r*50 + i
			fmt.Fprintf(&b, "   <Tile name=\"CLBLL_L_X2Y%d\" type=\"CLBLL_L\" column=\"2\">", y)
			fmt.Fprintf(&b, "<Slice name=\"SLICE_X0Y%d\" type=\"SLICEL\"/><Slice name=\"SLICE_X1Y%d\" type=\"SLICEL\"/></Tile>\n", y, y)
			fmt.Fprintf(&b, "   <Tile name=\"CLBLM_R_X3Y%d\" type=\"CLBLM_R\" column=\"3\">", y)
			fmt.Fprintf(&b, "<Slice name=\"SLICE_X2Y%d\" type=\"SLICEM\"/><Slice name=\"SLICE_X3Y%d\" type=\"SLICEL\"/></Tile>\n", y, y)
		}
		b.WriteString("  </ClockRegion>\n")
	}
	b.WriteString(" </Slr>\n</Device>\n")
	l, err := device.ParseLayout(strings.NewReader(b.String()), far.Series7)
	if err != nil {
		t.Fatalf("ParseLayout failed: %v", err)
	}
	return l
}

// testMemory holds every frame of columns 2 and 3 in both halves of clock
// row 0.
func testMemory(t *testing.T, p *device.Params) *bitstream.ConfigMemory {
	t.Helper()
	m := bitstream.New(p)
	for _, top := range []uint32{0, 1} {
		for major := uint32(2); major <= 3; major++ {
			for minor := uint32(0); minor < 36; minor++ {
				raw := far.Address{Series: far.Series7, Top: top, Major: major, Minor: minor}.MustEncode()
				fr, err := bitstream.NewFrame(raw, far.Series7, testFragment, p.FrameSize)
				if err != nil {
					t.Fatalf("NewFrame(%08x) failed: %v", raw, err)
				}
				if err := m.AddFrame(fr); err != nil {
					t.Fatalf("AddFrame failed: %v", err)
				}
			}
		}
	}
	return m
}

func newTestMapper(t *testing.T, opts ...Option) (*Mapper, *bitstream.ConfigMemory) {
	t.Helper()
	l := testLayout(t)
	mem := testMemory(t, l.Params())
	m, err := New(l.Params(), l, mem, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return m, mem
}

// writeBel stores content into the BEL, table position k from bit k.
func writeBel(t *testing.T, mem *bitstream.ConfigMemory, f *Fragment, content uint64) {
	t.Helper()
	for k, ref := range f.Bits {
		fr, err := mem.Frame(f.ConfigFragment, ref.FAR)
		if err != nil {
			t.Fatalf("Frame(%08x) failed: %v", ref.FAR, err)
		}
		if err := fr.SetBit(ref.Word, ref.Bit, uint32(content>>k&1)); err != nil {
			t.Fatalf("SetBit failed: %v", err)
		}
	}
}

func lutCell(t *testing.T, name string, sx, sy, tx int, label, belType, init string, conns map[string]string) *netlist.Cell {
	t.Helper()
	c := netlist.NewCell(name, netlist.GroupLUT)
	c.Label, c.BelType, c.Type = label, belType, "LUT"+fmt.Sprint(len(conns))
	c.Placement.Site = fmt.Sprintf("SLICE_X%dY%d", sx, sy)
	c.Placement.SiteX, c.Placement.SiteY = sx, sy
	c.Placement.TileX, c.Placement.TileY = tx, sy
	v, err := netlist.ParseInit(init)
	if err != nil {
		t.Fatalf("ParseInit(%q) failed: %v", init, err)
	}
	c.Init = v
	c.Connections = conns
	return c
}

func identity(k int) map[string]string {
	m := map[string]string{}
	for i := 0; i < k; i++ {
		m[fmt.Sprintf("I%d", i)] = fmt.Sprintf("A%d", i+1)
	}
	return m
}

func TestNewUnsupportedSeries(t *testing.T) {
	l := testLayout(t)
	usp, err := device.ParamsFor(far.UltraScalePlus)
	if err != nil {
		t.Fatalf("ParamsFor failed: %v", err)
	}
	_, err = New(usp, l, bitstream.New(usp))
	if !errors.Is(err, ErrUnsupportedSeries) {
		t.Fatalf("New(USP) error = %v, want ErrUnsupportedSeries", err)
	}
}

func TestBelFragment(t *testing.T) {
	m, _ := newTestMapper(t)

	tests := []struct {
		tileX, tileY, sliceX int
		label                string
		top, row             uint32
		word, shift          int
		minors               [4]uint32
	}{
		{2, 0, 0, "A6", 1, 0, 0, 0, [4]uint32{26, 27, 28, 29}},
		{2, 0, 1, "B6", 1, 0, 0, 16, [4]uint32{32, 33, 34, 35}},
		{2, 24, 0, "A6", 1, 0, 48, 0, [4]uint32{26, 27, 28, 29}},
		{2, 24, 0, "C5", 1, 0, 49, 0, [4]uint32{26, 27, 28, 29}},
		{2, 25, 0, "A6", 1, 0, 51, 0, [4]uint32{26, 27, 28, 29}},
		{2, 25, 0, "C6", 1, 0, 52, 0, [4]uint32{26, 27, 28, 29}},
		{3, 49, 3, "D6", 1, 0, 100, 16, [4]uint32{32, 33, 34, 35}},
		{3, 60, 2, "B6", 0, 0, 20, 16, [4]uint32{26, 27, 28, 29}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("X%dY%d_%s", tt.tileX, tt.tileY, tt.label), func(t *testing.T) {
			f, err := m.BelFragment(tt.tileX, tt.tileY, tt.sliceX, tt.label)
			if err != nil {
				t.Fatalf("BelFragment failed: %v", err)
			}
			if f.Top != tt.top || f.Row != tt.row || f.Word != tt.word || f.Shift != tt.shift || f.Minors != tt.minors {
				t.Errorf("fragment top=%d row=%d word=%d shift=%d minors=%v, want %d %d %d %d %v",
					f.Top, f.Row, f.Word, f.Shift, f.Minors, tt.top, tt.row, tt.word, tt.shift, tt.minors)
			}
			if f.Major != uint32(tt.tileX) || f.ConfigFragment != testFragment {
				t.Errorf("major=%d fragment=%08x", f.Major, f.ConfigFragment)
			}
			for k, ref := range f.Bits {
				a, err := far.Decode(ref.FAR, far.Series7)
				if err != nil {
					t.Fatalf("bit %d: %v", k, err)
				}
				if want := tt.minors[3-k/16]; a.Minor != want {
					t.Errorf("bit %d minor = %d, want %d", k, a.Minor, want)
				}
				if ref.Word != tt.word || ref.Bit != k%16+tt.shift {
					t.Errorf("bit %d = %v", k, ref)
				}
			}
		})
	}
}

func TestBelFragmentSkipsCRCWord(t *testing.T) {
	m, _ := newTestMapper(t)
	for y := 0; y < 100; y++ {
		for _, label := range []string{"A6", "B6", "C6", "D6"} {
			f, err := m.BelFragment(2, y, 0, label)
			if err != nil {
				t.Fatalf("BelFragment(Y%d, %s) failed: %v", y, label, err)
			}
			if f.Word == 50 || f.Word > 100 {
				t.Fatalf("BelFragment(Y%d, %s) uses word %d", y, label, f.Word)
			}
		}
	}
}

func TestBelFragmentErrors(t *testing.T) {
	m, _ := newTestMapper(t)
	if _, err := m.BelFragment(2, 3, 0, "E6"); !errors.Is(err, ErrNoMatchingBelLabel) {
		t.Errorf("label E6: error = %v, want ErrNoMatchingBelLabel", err)
	}
	if _, err := m.BelFragment(2, 3, 0, ""); !errors.Is(err, ErrNoMatchingBelLabel) {
		t.Errorf("empty label: error = %v, want ErrNoMatchingBelLabel", err)
	}
	if _, err := m.BelFragment(2, 500, 0, "A6"); !errors.Is(err, device.ErrCoordinateOutOfRange) {
		t.Errorf("tile Y500: error = %v, want ErrCoordinateOutOfRange", err)
	}
}

func TestSequence(t *testing.T) {
	p, _ := device.ParamsFor(far.Series7)

	seq, err := Sequence(&p.LutLogic, identity(6), nil, false)
	if err != nil {
		t.Fatalf("Sequence failed: %v", err)
	}
	for i, row := range seq {
		if len(row) != 1 || row[0] != p.LutLogic[i] {
			t.Fatalf("identity seq[%d] = %v, want [%d]", i, row, p.LutLogic[i])
		}
	}

	// I0 on A3 alone: A1, A2, A4, A5, A6 held at 1.
	seq, err = Sequence(&p.LutLogic, map[string]string{"I0": "A3"}, nil, false)
	if err != nil {
		t.Fatalf("Sequence failed: %v", err)
	}
	if diff := cmp.Diff([][]int{{p.LutLogic[0b111011]}, {p.LutLogic[0b111111]}}, seq); diff != "" {
		t.Errorf("single input (-want +got):\n%s", diff)
	}

	// A 5-input BEL holds A6 at 0.
	seq, err = Sequence(&p.LutMemory, map[string]string{"I0": "A3"}, nil, true)
	if err != nil {
		t.Fatalf("Sequence failed: %v", err)
	}
	if diff := cmp.Diff([][]int{{p.LutMemory[0b011011]}, {p.LutMemory[0b011111]}}, seq); diff != "" {
		t.Errorf("bel5 (-want +got):\n%s", diff)
	}

	// cbel pins extend the combination after the logical inputs.
	seq, err = Sequence(&p.LutLogic, map[string]string{"I0": "A2"}, []string{"A1"}, false)
	if err != nil {
		t.Fatalf("Sequence failed: %v", err)
	}
	want := [][]int{
		{p.LutLogic[0b111100], p.LutLogic[0b111101]},
		{p.LutLogic[0b111110], p.LutLogic[0b111111]},
	}
	if diff := cmp.Diff(want, seq); diff != "" {
		t.Errorf("cbel (-want +got):\n%s", diff)
	}

	for _, tc := range []struct {
		conns map[string]string
		cbel  []string
	}{
		{map[string]string{"I0": "A7"}, nil},
		{map[string]string{"I0": "B1"}, nil},
		{map[string]string{"I0": "A1", "I1": "A1"}, nil},
		{map[string]string{"I0": "A1"}, []string{"A1"}},
	} {
		if _, err := Sequence(&p.LutLogic, tc.conns, tc.cbel, false); !errors.Is(err, ErrInvalidPin) {
			t.Errorf("Sequence(%v, %v) error = %v, want ErrInvalidPin", tc.conns, tc.cbel, err)
		}
	}
}

func TestIdentityLUT6(t *testing.T) {
	m, mem := newTestMapper(t)
	c := lutCell(t, "top/u0/lut", 0, 10, 2, "A6", "LUT6", "64'h0000000000000001", identity(6))

	f, err := m.BelFragment(2, 10, 0, "A6")
	if err != nil {
		t.Fatalf("BelFragment failed: %v", err)
	}
	// All inputs low selects table row 0, which sits at position 63.
	writeBel(t, mem, f, 1<<m.params.LutLogic[0])

	rep, err := m.MapCells(context.Background(), []*netlist.Cell{c})
	if err != nil {
		t.Fatalf("MapCells failed: %v", err)
	}
	if rep.Matched != 1 || c.LUT.Err != nil {
		t.Fatalf("report %v, cell err %v", rep, c.LUT.Err)
	}
	if c.LUT.Reconstructed != "64'h0000000000000001" || !c.LUT.Match {
		t.Errorf("reconstructed %s match %v", c.LUT.Reconstructed, c.LUT.Match)
	}
	if len(c.Bitmap) != 64 {
		t.Fatalf("bitmap has %d entries, want 64", len(c.Bitmap))
	}
	if c.Bitmap[0] != f.Bits[63] {
		t.Errorf("bitmap[0] = %v, want %v", c.Bitmap[0], f.Bits[63])
	}
	if v, err := mem.Bit(testFragment, c.Bitmap[0]); err != nil || v != 1 {
		t.Errorf("bit at bitmap[0] = %d, %v; want 1", v, err)
	}
	for i := 1; i < 64; i++ {
		if v, _ := mem.Bit(testFragment, c.Bitmap[i]); v != 0 {
			t.Errorf("bit at bitmap[%d] = 1", i)
		}
	}
}

// physicalContent builds a BEL content independently of Sequence: the
// logical function init on the pins, unused pins at their hold value and
// noise on every other row.
func physicalContent(r *rand.Rand, table *[64]int, pins []int, init uint64, bel5 bool) uint64 {
	var used int
	for _, p := range pins {
		used |= 1 << p
	}
	content := r.Uint64()
	for row := 0; row < 64; row++ {
		relevant := true
		for p := 0; p < 6; p++ {
			if used&(1<<p) != 0 {
				continue
			}
			hold := 1
			if p == 5 && bel5 {
				hold = 0
			}
			if row>>p&1 != hold {
				relevant = false
			}
		}
		if !relevant {
			continue
		}
		logical := 0
		for n, p := range pins {
			logical |= (row >> p & 1) << n
		}
		pos := table[row]
		content = content&^(1<<pos) | (init>>logical&1)<<pos
	}
	return content
}

func TestReconstructRandomInit(t *testing.T) {
	m, mem := newTestMapper(t)
	r := rand.New(rand.NewPCG(7, 11))

	for trial := 0; trial < 200; trial++ {
		sliceX := r.IntN(4)
		tileX := 2 + sliceX/2
		y := r.IntN(100)
		label := string(rune('A'+r.IntN(4))) + "6"
		bel5 := r.IntN(4) == 0
		belType := "LUT6"
		if sliceX == 2 {
			belType = "LUT_OR_MEM6"
		}
		npins := 6
		if bel5 {
			belType = belType[:len(belType)-1] + "5"
			npins = 5
		}
		k := 1 + r.IntN(npins)
		perm := r.Perm(npins)[:k]
		conns := map[string]string{}
		for n, p := range perm {
			conns[fmt.Sprintf("I%d", n)] = fmt.Sprintf("A%d", p+1)
		}
		w := 1 << k
		init := r.Uint64()
		if w < 64 {
			init &= 1<<w - 1
		}

		c := lutCell(t, fmt.Sprintf("cell%d", trial), sliceX, y, tileX, label, belType, FormatInit(w, init), conns)
		f, err := m.BelFragment(tileX, y, sliceX, label)
		if err != nil {
			t.Fatalf("trial %d: BelFragment failed: %v", trial, err)
		}
		table, _ := m.params.LutTable(belType)
		writeBel(t, mem, f, physicalContent(r, table, perm, init, bel5))

		if _, err := m.MapCells(context.Background(), []*netlist.Cell{c}); err != nil {
			t.Fatalf("trial %d: MapCells failed: %v", trial, err)
		}
		if c.LUT.Err != nil || !c.LUT.Match {
			t.Fatalf("trial %d (%s %s at X%dY%d, conns %v): init %s, reconstructed %s, err %v",
				trial, belType, label, sliceX, y, conns, c.Init.Text, c.LUT.Reconstructed, c.LUT.Err)
		}
		if len(c.Bitmap) != w {
			t.Fatalf("trial %d: bitmap has %d entries, want %d", trial, len(c.Bitmap), w)
		}
	}
}

func TestPairCombinedCells(t *testing.T) {
	m, _ := newTestMapper(t)
	a := lutCell(t, "o6", 0, 5, 2, "A6", "LUT6", "", map[string]string{"I0": "A1", "I1": "A2"})
	b := lutCell(t, "o5", 0, 5, 2, "A5", "LUT5", "", map[string]string{"I0": "A5", "I1": "A4", "I2": "A1"})
	other := lutCell(t, "b6", 0, 5, 2, "B6", "LUT6", "", map[string]string{"I0": "A1"})

	rep, err := m.MapCells(context.Background(), []*netlist.Cell{a, other, b})
	if err != nil {
		t.Fatalf("MapCells failed: %v", err)
	}
	if rep.Pairs != 1 || rep.Mapped != 3 {
		t.Errorf("report %v", rep)
	}
	if a.LUT.Pair != b || b.LUT.Pair != a || other.LUT.Pair != nil {
		t.Fatalf("pairs: a->%v b->%v other->%v", a.LUT.Pair, b.LUT.Pair, other.LUT.Pair)
	}
	if diff := cmp.Diff([]string{"A5", "A4"}, a.LUT.CBelInputs); diff != "" {
		t.Errorf("a cbel inputs (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"A2"}, b.LUT.CBelInputs); diff != "" {
		t.Errorf("b cbel inputs (-want +got):\n%s", diff)
	}
	for _, c := range []*netlist.Cell{a, b, other} {
		want := 1 << (len(c.Connections) + len(c.LUT.CBelInputs))
		if len(c.Bitmap) != want {
			t.Errorf("%s bitmap has %d entries, want %d", c.Name, len(c.Bitmap), want)
		}
		seen := map[far.BitRef]bool{}
		for _, ref := range c.Bitmap {
			if seen[ref] {
				t.Errorf("%s: bit %v mapped twice", c.Name, ref)
			}
			seen[ref] = true
		}
	}
	// No INIT in the table: mapped, flagged as mismatch, still exported.
	if len(rep.Mismatched) != 3 || a.LUT.Err != nil {
		t.Errorf("mismatched %d, a err %v", len(rep.Mismatched), a.LUT.Err)
	}
}

// A fractured LUT6: the O6 function in the A6=1 half of the BEL, the O5
// function in the A6=0 half, each repeated over the pins it ignores.
func TestReconstructCombinedPair(t *testing.T) {
	tests := []struct {
		name   string
		sliceX int
		tileX  int
		bel    string
	}{
		{name: "SLICEL", sliceX: 1, tileX: 2, bel: "LUT"},
		{name: "SLICEM", sliceX: 2, tileX: 3, bel: "LUT_OR_MEM"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, mem := newTestMapper(t)
			const y = 12
			// O6 = I0 & I1 on A1, A2; O5 = majority(I0, I1, I2) on A5, A4, A1.
			o6 := lutCell(t, "u/o6", tt.sliceX, y, tt.tileX, "C6", tt.bel+"6", "4'h8",
				map[string]string{"I0": "A1", "I1": "A2"})
			o5 := lutCell(t, "u/o5", tt.sliceX, y, tt.tileX, "C5", tt.bel+"5", "8'hE8",
				map[string]string{"I0": "A5", "I1": "A4", "I2": "A1"})

			f, err := m.BelFragment(tt.tileX, y, tt.sliceX, "C6")
			if err != nil {
				t.Fatalf("BelFragment failed: %v", err)
			}
			table, err := m.params.LutTable(tt.bel + "6")
			if err != nil {
				t.Fatal(err)
			}
			pin := func(row, p int) int { return row >> (p - 1) & 1 }
			var content uint64
			for row := 0; row < 64; row++ {
				var bit uint64
				if pin(row, 6) == 1 {
					bit = 0x8 >> (pin(row, 1) | pin(row, 2)<<1) & 1
				} else {
					bit = 0xE8 >> (pin(row, 5) | pin(row, 4)<<1 | pin(row, 1)<<2) & 1
				}
				content |= bit << table[row]
			}
			writeBel(t, mem, f, content)

			rep, err := m.MapCells(context.Background(), []*netlist.Cell{o5, o6})
			if err != nil {
				t.Fatalf("MapCells failed: %v", err)
			}
			if rep.Pairs != 1 || rep.Matched != 2 {
				t.Fatalf("report %v", rep)
			}
			for _, c := range []*netlist.Cell{o6, o5} {
				if c.LUT.Err != nil || !c.LUT.Match {
					t.Errorf("%s: INIT %s, reconstructed %s, err %v", c.Name, c.Init.Text, c.LUT.Reconstructed, c.LUT.Err)
				}
			}
			if diff := cmp.Diff([]string{"A5", "A4"}, o6.LUT.CBelInputs); diff != "" {
				t.Errorf("o6 cbel inputs (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff([]string{"A2"}, o5.LUT.CBelInputs); diff != "" {
				t.Errorf("o5 cbel inputs (-want +got):\n%s", diff)
			}

			// o6 bitmap index: I0, I1, then A5, A4; A3 and A6 held at 1.
			if len(o6.Bitmap) != 16 {
				t.Fatalf("o6 bitmap has %d entries, want 16", len(o6.Bitmap))
			}
			for idx := 0; idx < 16; idx++ {
				row := idx&1 | idx>>1&1<<1 | 1<<2 | idx>>3&1<<3 | idx>>2&1<<4 | 1<<5
				if got, want := o6.Bitmap[idx], f.Bits[table[row]]; got != want {
					t.Errorf("o6 bitmap[%d] = %v, want %v", idx, got, want)
				}
			}
			// o5 bitmap index: I0..I2, then A2; A3 held at 1, A6 at 0.
			if len(o5.Bitmap) != 16 {
				t.Fatalf("o5 bitmap has %d entries, want 16", len(o5.Bitmap))
			}
			for idx := 0; idx < 16; idx++ {
				row := idx>>2&1 | idx>>3&1<<1 | 1<<2 | idx>>1&1<<3 | idx&1<<4
				if got, want := o5.Bitmap[idx], f.Bits[table[row]]; got != want {
					t.Errorf("o5 bitmap[%d] = %v, want %v", idx, got, want)
				}
				if v, _ := mem.Bit(testFragment, o5.Bitmap[idx]); v != uint32(0xE8>>(idx&7)&1) {
					t.Errorf("o5 bit %d = %d", idx, v)
				}
			}
		})
	}
}

func TestMapCellsParallel(t *testing.T) {
	m, mem := newTestMapper(t, WithWorkers(4))
	r := rand.New(rand.NewPCG(3, 5))

	var cells, wantFailed, wantMismatch []*netlist.Cell
	for y := 0; y < 40; y++ {
		init := r.Uint64()
		c := lutCell(t, fmt.Sprintf("lut%02d", y), 1, y, 2, "D6", "LUT6", FormatInit(64, init), identity(6))
		f, err := m.BelFragment(2, y, 1, "D6")
		if err != nil {
			t.Fatalf("BelFragment failed: %v", err)
		}
		var content uint64
		for i := 0; i < 64; i++ {
			content |= (init >> i & 1) << m.params.LutLogic[i]
		}
		switch y {
		case 7:
			c.Label = "X6"
			wantFailed = append(wantFailed, c)
		case 21:
			c.Placement.TileY = 400
			wantFailed = append(wantFailed, c)
		case 30:
			content = ^content
			wantMismatch = append(wantMismatch, c)
		}
		writeBel(t, mem, f, content)
		cells = append(cells, c)
	}
	ff := netlist.NewCell("q_reg", netlist.GroupFF)
	cells = append(cells, ff)

	rep, err := m.MapCells(context.Background(), cells)
	if err != nil {
		t.Fatalf("MapCells failed: %v", err)
	}
	if rep.Total != 40 || rep.Mapped != 38 || rep.Matched != 37 {
		t.Errorf("report %v", rep)
	}
	names := func(cs []*netlist.Cell) []string {
		var out []string
		for _, c := range cs {
			out = append(out, c.Name)
		}
		return out
	}
	if diff := cmp.Diff(names(wantFailed), names(rep.Failed)); diff != "" {
		t.Errorf("failed cells (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(names(wantMismatch), names(rep.Mismatched)); diff != "" {
		t.Errorf("mismatched cells (-want +got):\n%s", diff)
	}
	if !errors.Is(cells[7].LUT.Err, ErrNoMatchingBelLabel) || len(cells[7].Bitmap) != 0 {
		t.Errorf("cell 7: err %v, bitmap %d", cells[7].LUT.Err, len(cells[7].Bitmap))
	}
	if !errors.Is(cells[21].LUT.Err, device.ErrCoordinateOutOfRange) {
		t.Errorf("cell 21: err %v", cells[21].LUT.Err)
	}
	if cells[30].LUT.Err != nil || len(cells[30].Bitmap) != 64 || cells[30].LUT.Match {
		t.Errorf("cell 30: err %v, bitmap %d, match %v", cells[30].LUT.Err, len(cells[30].Bitmap), cells[30].LUT.Match)
	}
}

func TestMapCellsCancelled(t *testing.T) {
	m, _ := newTestMapper(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := lutCell(t, "lut", 0, 0, 2, "A6", "LUT6", "", identity(6))
	rep, err := m.MapCells(ctx, []*netlist.Cell{c})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("MapCells error = %v, want context.Canceled", err)
	}
	if rep == nil || rep.Total != 1 || rep.Mapped != 0 {
		t.Errorf("partial report %v", rep)
	}
}

func TestApplyCustomMask(t *testing.T) {
	m, mem := newTestMapper(t)
	in := lutCell(t, "dut/lut", 0, 3, 2, "B6", "LUT6", "", identity(6))
	narrow := lutCell(t, "dut/lut2", 1, 3, 2, "A6", "LUT6", "", identity(2))
	out := lutCell(t, "tb/lut", 0, 4, 2, "A6", "LUT6", "", identity(6))
	cells := []*netlist.Cell{in, narrow, out}
	if _, err := m.MapCells(context.Background(), cells); err != nil {
		t.Fatalf("MapCells failed: %v", err)
	}

	n, err := m.ApplyCustomMask(cells, "dut/")
	if err != nil {
		t.Fatalf("ApplyCustomMask failed: %v", err)
	}
	if n != 64+4 {
		t.Errorf("ApplyCustomMask set %d bits, want 68", n)
	}
	for _, ref := range in.Bitmap {
		fr, _ := mem.Frame(testFragment, ref.FAR)
		if fr.CustomMask[ref.Word]>>ref.Bit&1 != 1 {
			t.Errorf("bit %v not in custom mask", ref)
		}
		if fr.Mask[ref.Word] != 0 {
			t.Errorf("essential mask of %08x changed", ref.FAR)
		}
	}
	for _, ref := range out.Bitmap {
		fr, _ := mem.Frame(testFragment, ref.FAR)
		if fr.CustomMask[ref.Word]>>ref.Bit&1 != 0 {
			t.Errorf("out of scope bit %v in custom mask", ref)
		}
	}
	if n, _ := m.ApplyCustomMask(cells, "dut/"); n != 0 {
		t.Errorf("second ApplyCustomMask set %d bits, want 0", n)
	}
}

func TestScanLayout(t *testing.T) {
	m, mem := newTestMapper(t)
	f, err := m.BelFragment(2, 10, 1, "C6")
	if err != nil {
		t.Fatalf("BelFragment failed: %v", err)
	}
	// INIT 64'h2 on the identity connection: input combination 1.
	writeBel(t, mem, f, 1<<m.params.LutLogic[1])

	area, err := device.ParseArea("X2Y10:X2Y10")
	if err != nil {
		t.Fatalf("ParseArea failed: %v", err)
	}
	all, err := m.ScanLayout(context.Background(), area, ScanOptions{})
	if err != nil {
		t.Fatalf("ScanLayout failed: %v", err)
	}
	if len(all) != 8 {
		t.Fatalf("ScanLayout returned %d BELs, want 8", len(all))
	}
	if all[0].Name != "Tile_X002Y010:Slice_L:Label_A6" || all[7].Name != "Tile_X002Y010:Slice_R:Label_D6" {
		t.Errorf("order: first %s, last %s", all[0].Name, all[7].Name)
	}

	got, err := m.ScanLayout(context.Background(), area, ScanOptions{SkipEmpty: true, BitOrder: true})
	if err != nil {
		t.Fatalf("ScanLayout failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("SkipEmpty kept %d BELs, want 1", len(got))
	}
	bc := got[0]
	if bc.Name != "Tile_X002Y010:Slice_R:Label_C6" || bc.BelType != "LUT6" || bc.Slice.Name != "SLICE_X1Y10" {
		t.Errorf("BEL %+v", bc)
	}
	if bc.Raw != 1<<m.params.LutLogic[1] || bc.Init != 2 {
		t.Errorf("raw %#x init %#x, want init 0x2", bc.Raw, bc.Init)
	}

	var buf bytes.Buffer
	if err := WriteBelContentsCSV(&buf, got); err != nil {
		t.Fatalf("WriteBelContentsCSV failed: %v", err)
	}
	want := "sep=;\nSlice;Bel;Name;BelType;Init\nSLICE_X1Y10;C6;Tile_X002Y010:Slice_R:Label_C6;LUT6;0x0000000000000002\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("CSV (-want +got):\n%s", diff)
	}
}

func TestScanLayoutSliceM(t *testing.T) {
	m, _ := newTestMapper(t)
	area, _ := device.ParseArea("SLICE_X2Y0:SLICE_X2Y1")
	got, err := m.ScanLayout(context.Background(), area, ScanOptions{})
	if err != nil {
		t.Fatalf("ScanLayout failed: %v", err)
	}
	if len(got) != 8 {
		t.Fatalf("got %d BELs, want 8", len(got))
	}
	for _, bc := range got {
		if bc.BelType != "LUT_OR_MEM6" {
			t.Errorf("%s: bel type %s", bc.Name, bc.BelType)
		}
	}
}

func TestWriteReport(t *testing.T) {
	m, mem := newTestMapper(t)
	good := lutCell(t, "good", 0, 1, 2, "A6", "LUT6", "2'h2", map[string]string{"I0": "A2"})
	bad := lutCell(t, "bad", 0, 1, 2, "Q6", "LUT6", "", identity(1))
	f, _ := m.BelFragment(2, 1, 0, "A6")
	// A2 high, every other pin held at 1.
	writeBel(t, mem, f, 1<<m.params.LutLogic[0b111111])

	cells := []*netlist.Cell{good, bad}
	rep, err := m.MapCells(context.Background(), cells)
	if err != nil {
		t.Fatalf("MapCells failed: %v", err)
	}
	var buf bytes.Buffer
	if err := WriteReport(&buf, rep, cells); err != nil {
		t.Fatalf("WriteReport failed: %v", err)
	}

	var doc struct {
		Summary map[string]int `json:"summary"`
		Cells   []struct {
			Name          string            `json:"name"`
			Reconstructed string            `json:"reconstructed"`
			Match         bool              `json:"match"`
			Pair          *string           `json:"pair"`
			Connections   map[string]string `json:"connections"`
			Sequence      string            `json:"sequence"`
			Bitmap        []struct {
				Index int    `json:"index"`
				FAR   string `json:"far"`
				Word  int    `json:"word"`
				Bit   int    `json:"bit"`
			} `json:"bitmap"`
			Error string `json:"error"`
		} `json:"cells"`
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("report is not JSON: %v\n%s", err, buf.String())
	}
	if diff := cmp.Diff(map[string]int{"cells": 2, "pairs": 0, "mapped": 1, "matched": 1, "mismatched": 0, "failed": 1}, doc.Summary); diff != "" {
		t.Errorf("summary (-want +got):\n%s", diff)
	}
	if len(doc.Cells) != 2 {
		t.Fatalf("report has %d cells", len(doc.Cells))
	}
	g := doc.Cells[0]
	if g.Name != "good" || g.Reconstructed != "2'h2" || !g.Match || g.Pair != nil || g.Connections["I0"] != "A2" {
		t.Errorf("good cell %+v", g)
	}
	wantSeq := fmt.Sprintf("%d|%d", m.params.LutLogic[0b111101], m.params.LutLogic[0b111111])
	if g.Sequence != wantSeq || len(g.Bitmap) != 2 || g.Bitmap[1].Word != f.Word {
		t.Errorf("good cell sequence %s bitmap %+v", g.Sequence, g.Bitmap)
	}
	if !strings.Contains(doc.Cells[1].Error, "no matching BEL label") {
		t.Errorf("bad cell error %q", doc.Cells[1].Error)
	}
}
