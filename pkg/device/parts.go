package device

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/OpenTraceLab/bitfault/pkg/far"
)

// ManufacturerXilinx is the JEP106 code found in Xilinx IDCODEs.
const ManufacturerXilinx = 0x049

// IDCode is a parsed IEEE 1149.1 IDCODE as written to the IDCODE
// configuration register.
type IDCode struct {
	Raw              uint32
	Version          uint8  // [31:28]
	PartNumber       uint16 // [27:12]
	ManufacturerCode uint16 // [11:1]
}

// ParseIDCode parses a raw 32-bit IDCODE into its component fields
func ParseIDCode(raw uint32) IDCode {
	return IDCode{
		Raw:              raw,
		Version:          uint8((raw >> 28) & 0xF),
		PartNumber:       uint16((raw >> 12) & 0xFFFF),
		ManufacturerCode: uint16((raw >> 1) & 0x7FF),
	}
}

// Part is one entry of the part database.
type Part struct {
	Name   string
	IDCode uint32 // version bits cleared
	Series far.Series
	SLRs   int
}

type partKey struct {
	ManufacturerCode uint16
	PartNumber       uint16
}

var parts = make(map[partKey]Part)

func register(p Part) {
	id := ParseIDCode(p.IDCode)
	parts[partKey{id.ManufacturerCode, id.PartNumber}] = p
}

func init() {
	for _, p := range []Part{
		{Name: "xc7a35t", IDCode: 0x0362D093, Series: far.Series7, SLRs: 1},
		{Name: "xc7a50t", IDCode: 0x0362C093, Series: far.Series7, SLRs: 1},
		{Name: "xc7a100t", IDCode: 0x03631093, Series: far.Series7, SLRs: 1},
		{Name: "xc7a200t", IDCode: 0x03636093, Series: far.Series7, SLRs: 1},
		{Name: "xc7z010", IDCode: 0x03722093, Series: far.Series7, SLRs: 1},
		{Name: "xc7z020", IDCode: 0x03727093, Series: far.Series7, SLRs: 1},
		{Name: "xc7k325t", IDCode: 0x03651093, Series: far.Series7, SLRs: 1},
		{Name: "xc7vx485t", IDCode: 0x03687093, Series: far.Series7, SLRs: 1},
		{Name: "xczu9eg", IDCode: 0x04738093, Series: far.UltraScalePlus, SLRs: 1},
	} {
		register(p)
	}
}

// LookupPart resolves a configuration IDCODE. The version nibble is ignored.
// Unknown codes return a generic entry and false.
func LookupPart(raw uint32) (Part, bool) {
	id := ParseIDCode(raw)
	if p, ok := parts[partKey{id.ManufacturerCode, id.PartNumber}]; ok {
		return p, true
	}
	return Part{
		Name:   fmt.Sprintf("unknown (0x%08X)", raw),
		IDCode: raw & 0x0FFFFFFF,
		SLRs:   1,
	}, false
}

// Parts returns the part database sorted by name.
func Parts() []Part {
	out := make([]Part, 0, len(parts))
	for _, p := range parts {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Part) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// PartByName resolves a part name such as "xc7a35tcpg236-1" or the
// "7a35tcpg236" form stored in .bit headers. The longest registered name
// that prefixes the input wins.
func PartByName(name string) (Part, bool) {
	n := normalizePart(name)
	var best Part
	found := false
	for _, p := range parts {
		pn := normalizePart(p.Name)
		if strings.HasPrefix(n, pn) && len(pn) > len(normalizePart(best.Name)) {
			best, found = p, true
		}
	}
	return best, found
}

var uspPartRe = regexp.MustCompile(`^(zu\d+|[kv]u\d+p)`)

// SeriesFromPart guesses the series from a part name when the part is not in
// the database.
func SeriesFromPart(name string) far.Series {
	if p, ok := PartByName(name); ok {
		return p.Series
	}
	n := normalizePart(name)
	switch {
	case strings.HasPrefix(n, "7"):
		return far.Series7
	case uspPartRe.MatchString(n):
		return far.UltraScalePlus
	}
	return far.SeriesUnknown
}

func normalizePart(name string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), "xc")
}
