package bitstream

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/OpenTraceLab/bitfault/pkg/device"
	"github.com/OpenTraceLab/bitfault/pkg/far"
)

func params7(t *testing.T) *device.Params {
	t.Helper()
	p, err := device.ParamsFor(far.Series7)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func newFrame(t *testing.T, raw, fragment uint32, seed uint32) *Frame {
	t.Helper()
	fr, err := NewFrame(raw, far.Series7, fragment, 101)
	if err != nil {
		t.Fatalf("NewFrame(%08x) failed: %v", raw, err)
	}
	for i := range fr.Data {
		fr.Data[i] = seed*0x9E3779B9 + uint32(i)*0x85EBCA6B
	}
	return fr
}

// stream encodes words little-endian, the default Regular byte order.
func stream(words ...uint32) []byte {
	var buf []byte
	for _, w := range words {
		buf = binary.LittleEndian.AppendUint32(buf, w)
	}
	return buf
}

func burst(n int, v uint32) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = v + uint32(i)
	}
	return out
}

func TestDecodeHeader(t *testing.T) {
	tests := []struct {
		word uint32
		want Packet
	}{
		{0x30002001, Packet{Type: 1, Op: OpWrite, Register: RegFAR, WordCount: 1}},
		{0x30004000, Packet{Type: 1, Op: OpWrite, Register: RegFDRI, WordCount: 0}},
		{0x30008001, Packet{Type: 1, Op: OpWrite, Register: RegCMD, WordCount: 1}},
		{0x30018001, Packet{Type: 1, Op: OpWrite, Register: RegIDCODE, WordCount: 1}},
		{0x20000000, Packet{Type: 1, Op: OpNOP}},
		{0x5000ABCD, Packet{Type: 2, Op: OpWrite, WordCount: 0xABCD}},
	}
	for _, tt := range tests {
		got, err := DecodeHeader(tt.word)
		if err != nil {
			t.Fatalf("DecodeHeader(%08x) failed: %v", tt.word, err)
		}
		if got != tt.want {
			t.Errorf("DecodeHeader(%08x) = %+v, want %+v", tt.word, got, tt.want)
		}
	}
	if Type1(OpWrite, RegFAR, 1) != 0x30002001 || Type2(OpWrite, 0xABCD) != 0x5000ABCD {
		t.Error("header encoders disagree with decoder")
	}
	for _, w := range []uint32{0x00000000, 0x60000000, 0xFFFFFFFF} {
		if _, err := DecodeHeader(w); !errors.Is(err, ErrUnexpectedPacketType) {
			t.Errorf("DecodeHeader(%08x) error = %v", w, err)
		}
	}
}

func TestWriteLoadRoundTrip(t *testing.T) {
	for _, kind := range []Kind{Regular, Debug} {
		t.Run(kind.String(), func(t *testing.T) {
			src := New(params7(t))
			src.Part = "7a35tcpg236"
			frames := []*Frame{
				newFrame(t, 0x00000000, 0x0362D093, 1),
				newFrame(t, 0x00000001, 0x0362D093, 2),
				newFrame(t, 0x00400080, 0x0362D093, 3),
				newFrame(t, 0x00800000, 0x03631093, 4),
			}
			for _, fr := range frames {
				if err := src.AddFrame(fr); err != nil {
					t.Fatal(err)
				}
			}
			var buf bytes.Buffer
			if err := src.WriteBitstream(&buf, kind); err != nil {
				t.Fatalf("WriteBitstream failed: %v", err)
			}

			dst := New(params7(t))
			if err := dst.Load(&buf, kind); err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if dst.Len() != len(frames) {
				t.Fatalf("loaded %d frames, want %d", dst.Len(), len(frames))
			}
			for _, want := range frames {
				got, err := dst.Frame(want.Fragment, want.FAR)
				if err != nil {
					t.Fatalf("Frame(%08x) failed: %v", want.FAR, err)
				}
				if diff := cmp.Diff(want.Data, got.Data); diff != "" {
					t.Errorf("frame %08x data mismatch (-want +got):\n%s", want.FAR, diff)
				}
			}
			frags := dst.Fragments()
			if len(frags) != 2 || frags[0].ID != 0x0362D093 || frags[1].ID != 0x03631093 {
				t.Errorf("fragments not in stream order")
			}
			if kind == Debug {
				if dst.Header == nil || dst.Header.Part != "7a35tcpg236" {
					t.Errorf("header = %+v", dst.Header)
				}
			}
		})
	}
}

func TestLoadType2Burst(t *testing.T) {
	words := []uint32{0xFFFFFFFF, SyncWord, NOOP,
		Type1(OpWrite, RegFAR, 1), 0x00000100,
		Type1(OpWrite, RegFDRI, 0), Type2(OpWrite, 202)}
	words = append(words, burst(202, 7)...)
	m := New(params7(t), WithSequentialAddressing())
	if err := m.Load(bytes.NewReader(stream(words...)), Regular); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	a, err := m.Frame(0, 0x00000100)
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.Frame(0, 0x00000101)
	if err != nil {
		t.Fatal(err)
	}
	if a.Data[0] != 7 || b.Data[0] != 7+101 {
		t.Errorf("burst split wrong: %d, %d", a.Data[0], b.Data[0])
	}
}

func TestLoadBurstNeedsFarList(t *testing.T) {
	words := []uint32{SyncWord,
		Type1(OpWrite, RegFAR, 1), 0x00000100,
		Type1(OpWrite, RegFDRI, 0), Type2(OpWrite, 130*101)}
	words = append(words, burst(130*101, 0)...)

	m := New(params7(t))
	err := m.Load(bytes.NewReader(stream(words...)), Regular)
	if !errors.Is(err, ErrFarListRequired) {
		t.Fatalf("Load error = %v, want ErrFarListRequired", err)
	}
	var me *MalformedError
	if !errors.As(err, &me) || me.Offset != 4 {
		t.Errorf("error = %#v, want offset of the type 2 header", err)
	}
	if m.Len() != 0 {
		t.Errorf("failed load stored %d frames", m.Len())
	}

	// A single frame per FDRI write addresses itself.
	single := append([]uint32{SyncWord, Type1(OpWrite, RegFAR, 1), 0x00000100, Type1(OpWrite, RegFDRI, 101)}, burst(101, 0)...)
	if err := New(params7(t)).Load(bytes.NewReader(stream(single...)), Regular); err != nil {
		t.Errorf("single frame write failed: %v", err)
	}
}

func TestBottomRowsCache(t *testing.T) {
	m := New(params7(t))
	m.AddFrame(newFrame(t, far.Address{Series: far.Series7, Major: 1}.MustEncode(), 0, 1))
	frag, err := m.Default()
	if err != nil {
		t.Fatal(err)
	}
	if got := frag.BottomRows(); got != -1 {
		t.Fatalf("BottomRows() = %d, want -1 without bottom frames", got)
	}
	m.AddFrame(newFrame(t, far.Address{Series: far.Series7, Top: 1, Row: 2, Major: 1}.MustEncode(), 0, 2))
	if got := frag.BottomRows(); got != 3 {
		t.Errorf("BottomRows() after adding row 2 = %d, want 3", got)
	}
	m.AddFrame(newFrame(t, far.Address{Series: far.Series7, Top: 1, Row: 2, Major: 1}.MustEncode(), 0, 3))
	if got := frag.BottomRows(); got != 3 {
		t.Errorf("BottomRows() after replacing a frame = %d, want 3", got)
	}
}

func TestLoadErrors(t *testing.T) {
	short := append([]uint32{SyncWord, Type1(OpWrite, RegFDRI, 100)}, burst(100, 0)...)
	truncated := append([]uint32{SyncWord, Type1(OpWrite, RegFDRI, 101)}, burst(50, 0)...)
	unexpected := []uint32{SyncWord, NOOP, 0x60000000}

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"short burst", stream(short...), ErrMalformedBitstream},
		{"truncated payload", stream(truncated...), ErrMalformedBitstream},
		{"unexpected packet", stream(unexpected...), ErrUnexpectedPacketType},
		{"trailing bytes", append(stream(SyncWord, NOOP), 0x01), ErrMalformedBitstream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(params7(t))
			if err := m.AddFrame(newFrame(t, 0x00000000, 0, 1)); err != nil {
				t.Fatal(err)
			}
			err := m.Load(bytes.NewReader(tt.data), Regular)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Load error = %v, want %v", err, tt.want)
			}
			var me *MalformedError
			if !errors.As(err, &me) {
				t.Errorf("error %T is not a *MalformedError", err)
			}
			if m.Len() != 1 {
				t.Errorf("failed load changed the memory: %d frames", m.Len())
			}
		})
	}
}

func TestFarList(t *testing.T) {
	l, err := NewFarList([]uint32{0x00020000, 0x00000003, 0x00000000, 0x00000000}, far.Series7)
	if err != nil {
		t.Fatal(err)
	}
	var got []uint32
	var pads []bool
	for i := 0; i < l.Len(); i++ {
		raw, pad := l.At(i)
		got = append(got, raw)
		pads = append(pads, pad)
	}
	wantRaw := []uint32{0, 1, 2, 3, 4, 5, 0x00020000, 0x00020001, 0x00020002}
	wantPad := []bool{false, false, false, false, true, true, false, true, true}
	if diff := cmp.Diff(wantRaw, got); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantPad, pads); diff != "" {
		t.Errorf("pad flags mismatch (-want +got):\n%s", diff)
	}
	if _, ok := l.Index(4); ok {
		t.Error("pad frame reported by Index")
	}

	parsed, err := ReadFarList(bytes.NewBufferString("# frames\n0x00000000\n00000003 extra\n\n0x00020000\n"), far.Series7)
	if err != nil {
		t.Fatalf("ReadFarList failed: %v", err)
	}
	if parsed.Len() != l.Len() {
		t.Errorf("ReadFarList gave %d entries, want %d", parsed.Len(), l.Len())
	}
	if _, err := ReadFarList(bytes.NewBufferString("zz\n"), far.Series7); !errors.Is(err, ErrMalformedBitstream) {
		t.Errorf("ReadFarList(zz) error = %v", err)
	}
}

func TestLoadWithFarList(t *testing.T) {
	l, err := NewFarList([]uint32{0x00000000, 0x00000001, 0x00020000}, far.Series7)
	if err != nil {
		t.Fatal(err)
	}
	// 0, 1, pad, pad, 0x20000, pad, pad
	words := []uint32{SyncWord, Type1(OpWrite, RegFAR, 1), 0, Type1(OpWrite, RegFDRI, 0), Type2(OpWrite, 7*101)}
	words = append(words, burst(7*101, 1)...)
	m := New(params7(t), WithFarList(l))
	if err := m.Load(bytes.NewReader(stream(words...)), Regular); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.Len() != 3 {
		t.Fatalf("loaded %d frames, want 3", m.Len())
	}
	fr, err := m.Frame(0, 0x00020000)
	if err != nil {
		t.Fatal(err)
	}
	if fr.Data[0] != 1+4*101 {
		t.Errorf("frame 0x20000 took burst slot %d", (fr.Data[0]-1)/101)
	}
}

func TestFramesOfColumn(t *testing.T) {
	m := New(params7(t))
	col := far.Address{Series: far.Series7, Major: 1}
	for minor := uint32(0); minor < 4; minor++ {
		a := col
		a.Minor = minor
		m.AddFrame(newFrame(t, a.MustEncode(), 0, minor))
	}
	m.AddFrame(newFrame(t, far.Address{Series: far.Series7, Major: 2}.MustEncode(), 0, 9))
	m.AddFrame(newFrame(t, far.Address{Series: far.Series7, Major: 0, Minor: 5}.MustEncode(), 0, 9))

	sibling := col
	sibling.Minor = 2
	frames, err := m.FramesOfColumn(0, sibling.MustEncode())
	if err != nil {
		t.Fatalf("FramesOfColumn failed: %v", err)
	}
	if len(frames) != 4 {
		t.Fatalf("got %d frames, want 4", len(frames))
	}
	for i, fr := range frames {
		if fr.Address.Major != 1 || fr.Address.Minor != uint32(i) {
			t.Errorf("frame %d = %s", i, fr.Address)
		}
	}
	if _, err := m.FramesOfColumn(0, far.Address{Series: far.Series7, Major: 9}.MustEncode()); !errors.Is(err, ErrNoFrame) {
		t.Errorf("empty column error = %v", err)
	}
	if _, err := m.FramesOfColumn(5, 0); !errors.Is(err, ErrNoFragment) {
		t.Errorf("missing fragment error = %v", err)
	}
}

func TestCompare(t *testing.T) {
	a := New(params7(t))
	b := New(params7(t))
	for raw := uint32(0); raw < 3; raw++ {
		a.AddFrame(newFrame(t, raw, 0, raw))
		b.AddFrame(newFrame(t, raw, 0, raw))
	}
	b.AddFrame(newFrame(t, 3, 0, 3))
	fb, _ := b.Frame(0, 1)
	fb.Data[7] ^= 1
	fa, _ := a.Default()
	fbr, _ := b.Default()

	diffs := Compare(fa, fbr, nil)
	want := []FrameDiff{{FAR: 1, Words: []int{7}}, {FAR: 3, OnlyIn: "b"}}
	if d := cmp.Diff(want, diffs); d != "" {
		t.Errorf("Compare mismatch (-want +got):\n%s", d)
	}
	if got := Compare(fa, fbr, func(a far.Address) bool { return a.Minor == 0 }); len(got) != 0 {
		t.Errorf("filtered compare = %+v", got)
	}
}
