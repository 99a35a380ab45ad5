package bitstream

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/OpenTraceLab/bitfault/pkg/far"
)

// padFrames is the number of pad frames the device expects after the last
// frame of each row.
const padFrames = 2

// FarList is the order in which a Regular bitstream delivers frames inside a
// multi-frame FDRI burst, including the pad frames at each row end.
type FarList struct {
	series  far.Series
	entries []uint32
	pad     []bool
	index   map[uint32]int
}

// NewFarList builds the burst order from a set of frame addresses: sorted,
// unique, gaps between minors of one column filled and two pad frames after
// every change of block type, half or row.
func NewFarList(raws []uint32, series far.Series) (*FarList, error) {
	sorted := slices.Clone(raws)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	l := &FarList{series: series, index: make(map[uint32]int)}
	var prev far.Address
	for i, raw := range sorted {
		a, err := far.Decode(raw, series)
		if err != nil {
			return nil, fmt.Errorf("bitstream: FAR list entry %08x: %w", raw, err)
		}
		if i > 0 && prev.SameColumn(a) {
			for m := prev.Minor + 1; m < a.Minor; m++ {
				gap := prev
				gap.Minor = m
				l.add(gap.MustEncode(), false)
			}
		}
		l.add(raw, false)
		if i == len(sorted)-1 {
			l.addPads(raw)
			break
		}
		next, err := far.Decode(sorted[i+1], series)
		if err != nil {
			return nil, fmt.Errorf("bitstream: FAR list entry %08x: %w", sorted[i+1], err)
		}
		if !a.SameRow(next) {
			l.addPads(raw)
		}
		prev = a
	}
	return l, nil
}

func (l *FarList) add(raw uint32, pad bool) {
	if i, dup := l.index[raw]; !dup || (l.pad[i] && !pad) {
		l.index[raw] = len(l.entries)
	}
	l.entries = append(l.entries, raw)
	l.pad = append(l.pad, pad)
}

func (l *FarList) addPads(last uint32) {
	for i := uint32(1); i <= padFrames; i++ {
		l.add(last+i, true)
	}
}

// ReadFarList parses one hexadecimal FAR per line ("0x00400000" or
// "00400000"); blank lines and '#' comments are skipped. Further columns on a
// line are ignored.
func ReadFarList(r io.Reader, series far.Series) (*FarList, error) {
	var raws []uint32
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		field := strings.Fields(text)[0]
		field = strings.TrimPrefix(strings.TrimPrefix(field, "0x"), "0X")
		v, err := strconv.ParseUint(strings.TrimSuffix(field, ","), 16, 32)
		if err != nil {
			return nil, &MalformedError{Source: "FAR list", Offset: -1, Msg: fmt.Sprintf("line %d", line), Err: fmt.Errorf("%w: %v", ErrMalformedBitstream, err)}
		}
		raws = append(raws, uint32(v))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return NewFarList(raws, series)
}

// LoadFarList reads a FAR list file and installs it for later loads.
func (m *ConfigMemory) LoadFarList(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("bitstream: open FAR list: %w", err)
	}
	defer f.Close()
	l, err := ReadFarList(f, m.params.Series)
	if err != nil {
		return err
	}
	m.farList = l
	return nil
}

// Len returns the number of entries including pad frames.
func (l *FarList) Len() int { return len(l.entries) }

// At returns entry i and whether it is a pad frame.
func (l *FarList) At(i int) (uint32, bool) { return l.entries[i], l.pad[i] }

// Index returns the position of a non pad address.
func (l *FarList) Index(raw uint32) (int, bool) {
	i, ok := l.index[raw]
	if ok && l.pad[i] {
		return 0, false
	}
	return i, ok
}
