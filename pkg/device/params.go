// Package device describes FPGA device families and geometry: per series
// configuration constants, a part database keyed by configuration IDCODE and
// the SLR / clock region / tile / slice layout tree loaded from LAYOUT files.
package device

import (
	"fmt"
	"strings"

	"github.com/OpenTraceLab/bitfault/pkg/far"
)

// Params holds the configuration constants of one device series. Values are
// handed out as copies so callers can hold several series side by side.
type Params struct {
	Series far.Series

	// FrameSize is the number of 32-bit words per configuration frame.
	FrameSize int
	// CRCWord is the frame word holding ECC bits, -1 if there is none.
	CRCWord int
	// ClockRegionHeight is the number of CLB tile rows per clock region.
	ClockRegionHeight int

	// LutMinors lists the four minor frames holding a slice's LUT truth
	// tables, indexed by slice X parity (0 even, 1 odd). On 7-series an even
	// slice X reads minors 26..29 and an odd one 32..35. Tools that branch on
	// the opposite parity swap the two slices of a tile; see the slice parity
	// decision in DESIGN.md.
	LutMinors [2][4]uint32
	// LutLogic and LutMemory map a physical input combination (A1 = bit 0
	// .. A6 = bit 5) to the BEL truth table bit position, for logic-only and
	// memory capable LUT BELs.
	LutLogic  [64]int
	LutMemory [64]int
	// LutMapping is false for series whose LUT frame layout is not modeled.
	LutMapping bool

	CLBTilePrefix string
	SliceMType    string
}

var lutLogic7 = [64]int{
	63, 47, 62, 46, 61, 45, 60, 44, 15, 31, 14, 30, 13, 29, 12, 28,
	59, 43, 58, 42, 57, 41, 56, 40, 11, 27, 10, 26, 9, 25, 8, 24,
	55, 39, 54, 38, 53, 37, 52, 36, 7, 23, 6, 22, 5, 21, 4, 20,
	51, 35, 50, 34, 49, 33, 48, 32, 3, 19, 2, 18, 1, 17, 0, 16,
}

var lutMemory7 = [64]int{
	31, 15, 30, 14, 29, 13, 28, 12, 63, 47, 62, 46, 61, 45, 60, 44,
	27, 11, 26, 10, 25, 9, 24, 8, 59, 43, 58, 42, 57, 41, 56, 40,
	23, 7, 22, 6, 21, 5, 20, 4, 55, 39, 54, 38, 53, 37, 52, 36,
	19, 3, 18, 2, 17, 1, 16, 0, 51, 35, 50, 34, 49, 33, 48, 32,
}

// ParamsFor returns the constants of a series.
func ParamsFor(s far.Series) (*Params, error) {
	switch s {
	case far.Series7:
		return &Params{
			Series:            far.Series7,
			FrameSize:         101,
			CRCWord:           50,
			ClockRegionHeight: 50,
			LutMinors:         [2][4]uint32{{26, 27, 28, 29}, {32, 33, 34, 35}},
			LutLogic:          lutLogic7,
			LutMemory:         lutMemory7,
			LutMapping:        true,
			CLBTilePrefix:     "CLBL",
			SliceMType:        "SLICEM",
		}, nil
	case far.UltraScalePlus:
		return &Params{
			Series:            far.UltraScalePlus,
			FrameSize:         93,
			CRCWord:           -1,
			ClockRegionHeight: 60,
			CLBTilePrefix:     "CLE",
			SliceMType:        "SLICEM",
		}, nil
	}
	return nil, fmt.Errorf("device: %w: %v", far.ErrUnsupportedSeries, s)
}

// IsCLBTile reports whether a tile type holds configurable logic slices.
func (p *Params) IsCLBTile(tileType string) bool {
	return strings.HasPrefix(tileType, p.CLBTilePrefix)
}

// LutTable returns the permutation table for a BEL type such as LUT6 or
// LUT_OR_MEM5.
func (p *Params) LutTable(belType string) (*[64]int, error) {
	switch strings.ToUpper(belType) {
	case "LUT5", "LUT6":
		return &p.LutLogic, nil
	case "LUT_OR_MEM5", "LUT_OR_MEM6":
		return &p.LutMemory, nil
	}
	return nil, fmt.Errorf("device: no LUT table for BEL type %q", belType)
}
