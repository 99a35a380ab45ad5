package far

import "fmt"

// Address is a decoded frame address.
type Address struct {
	Series Series
	Block  BlockType
	Top    uint32 // 1 = bottom half on 7-series, always 0 on UltraScale+
	Row    uint32
	Major  uint32 // column
	Minor  uint32 // frame within the column
}

// Decode splits a raw FAR value into its fields.
func Decode(raw uint32, s Series) (Address, error) {
	l, err := LayoutFor(s)
	if err != nil {
		return Address{}, err
	}
	if r := raw & l.Reserved(); r != 0 {
		return Address{}, &RangeError{Series: s, Field: "reserved", Value: r, Max: 0}
	}
	a := Address{
		Series: s,
		Block:  BlockType(l.Block.get(raw)),
		Top:    l.Top.get(raw),
		Row:    l.Row.get(raw),
		Major:  l.Major.get(raw),
		Minor:  l.Minor.get(raw),
	}
	if uint32(a.Block) >= l.BlockTypes {
		return Address{}, &RangeError{Series: s, Field: "block", Value: uint32(a.Block), Max: l.BlockTypes - 1}
	}
	return a, nil
}

// Encode packs the address back into a raw FAR value.
func (a Address) Encode() (uint32, error) {
	l, err := LayoutFor(a.Series)
	if err != nil {
		return 0, err
	}
	fields := []struct {
		name  string
		field Field
		value uint32
		max   uint32
	}{
		{"block", l.Block, uint32(a.Block), l.BlockTypes - 1},
		{"top", l.Top, a.Top, l.Top.Max()},
		{"row", l.Row, a.Row, l.Row.Max()},
		{"major", l.Major, a.Major, l.Major.Max()},
		{"minor", l.Minor, a.Minor, l.Minor.Max()},
	}
	var raw uint32
	for _, f := range fields {
		if f.value > f.max {
			return 0, &RangeError{Series: a.Series, Field: f.name, Value: f.value, Max: f.max}
		}
		raw |= f.value << f.field.Shift
	}
	return raw, nil
}

// MustEncode is Encode for addresses known to be valid. It panics otherwise.
func (a Address) MustEncode() uint32 {
	raw, err := a.Encode()
	if err != nil {
		panic(err)
	}
	return raw
}

// Column returns the address of minor frame 0 of the same column.
func (a Address) Column() Address {
	a.Minor = 0
	return a
}

// SameColumn reports whether both addresses select frames of one column.
func (a Address) SameColumn(b Address) bool {
	return a.Column() == b.Column()
}

// SameRow reports whether both addresses share block type, half and row.
func (a Address) SameRow(b Address) bool {
	return a.Series == b.Series && a.Block == b.Block && a.Top == b.Top && a.Row == b.Row
}

func (a Address) String() string {
	raw, err := a.Encode()
	if err != nil {
		return fmt.Sprintf("FAR[invalid]: Block=%d, Top=%d, Row=%d, Major=%d, Minor=%d",
			uint32(a.Block), a.Top, a.Row, a.Major, a.Minor)
	}
	return fmt.Sprintf("FAR[%08x]: Block=%s, Top=%d, Row=%d, Major=%d, Minor=%d",
		raw, a.Block, a.Top, a.Row, a.Major, a.Minor)
}

// BitRef addresses one configuration bit.
type BitRef struct {
	FAR  uint32
	Word int
	Bit  int
}

func (b BitRef) String() string {
	return fmt.Sprintf("%08x:%d:%d", b.FAR, b.Word, b.Bit)
}
