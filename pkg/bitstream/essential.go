package bitstream

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/OpenTraceLab/bitfault/internal/log"
	"github.com/OpenTraceLab/bitfault/pkg/far"
)

// MergeReport summarizes an essential bits merge.
type MergeReport struct {
	Fragment         uint32
	OverlayFrames    int
	Compared         int
	Missing          int // overlay frames with no loaded counterpart
	MismatchedFrames int
	MismatchedWords  int
	Merged           int
	Skipped          bool
	EssentialBits    int
}

// ReadEssentialWords reads an EBC or EBD file: every line starting with a
// run of 0/1 characters is one 32-bit word, everything else is header text.
func ReadEssentialWords(r io.Reader) ([]uint32, error) {
	var words []uint32
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		n := 0
		for n < len(text) && (text[n] == '0' || text[n] == '1') {
			n++
		}
		if n == 0 {
			continue
		}
		if n > 32 {
			return nil, &MalformedError{Source: "essential bits", Offset: -1, Msg: fmt.Sprintf("line %d", line),
				Err: fmt.Errorf("%w: %d bit word", ErrMalformedBitstream, n)}
		}
		v, _ := strconv.ParseUint(text[:n], 2, 32)
		words = append(words, uint32(v))
	}
	return words, sc.Err()
}

// LoadEssentialBits reads an EBC/EBD pair and merges it into a fragment.
func (m *ConfigMemory) LoadEssentialBits(ebcPath, ebdPath string, fragmentID uint32) (*MergeReport, error) {
	ebc, err := os.Open(ebcPath)
	if err != nil {
		return nil, fmt.Errorf("bitstream: open EBC: %w", err)
	}
	defer ebc.Close()
	ebd, err := os.Open(ebdPath)
	if err != nil {
		return nil, fmt.Errorf("bitstream: open EBD: %w", err)
	}
	defer ebd.Close()
	return m.MergeEssentialBits(bufio.NewReader(ebc), bufio.NewReader(ebd), fragmentID)
}

// MergeEssentialBits parses EBC (configuration data) and EBD (essential bit
// flags) streams, verifies the data against the loaded frames and ORs the
// flags into the frame masks. See MergeOverlay for the mismatch policy.
func (m *ConfigMemory) MergeEssentialBits(ebc, ebd io.Reader, fragmentID uint32) (*MergeReport, error) {
	data, err := ReadEssentialWords(ebc)
	if err != nil {
		return nil, err
	}
	mask, err := ReadEssentialWords(ebd)
	if err != nil {
		return nil, err
	}
	if len(data) != len(mask) {
		return nil, &MalformedError{Source: "essential bits", Offset: -1,
			Msg: fmt.Sprintf("EBC has %d words, EBD has %d", len(data), len(mask)), Err: ErrMalformedBitstream}
	}
	overlay, err := m.OverlayFrames(fragmentID, data, mask)
	if err != nil {
		return nil, err
	}
	return m.MergeOverlay(fragmentID, overlay)
}

// OverlayFrames cuts EBC/EBD word streams into frames. The first frame of the
// streams is a dummy; the rest follow the block 0 frames of the fragment in
// burst order (the FAR list when loaded, ascending addresses otherwise).
func (m *ConfigMemory) OverlayFrames(fragmentID uint32, data, mask []uint32) ([]*Frame, error) {
	f, ok := m.fragments[fragmentID]
	if !ok {
		return nil, fmt.Errorf("%w: %08x", ErrNoFragment, fragmentID)
	}
	size := m.params.FrameSize
	type slot struct {
		raw uint32
		pad bool
	}
	var slots []slot
	if l := m.farList; l != nil {
		for i := 0; i < l.Len(); i++ {
			raw, pad := l.At(i)
			if a, err := far.Decode(raw, m.params.Series); err == nil && a.Block == far.BlockCLB {
				slots = append(slots, slot{raw, pad})
			}
		}
	} else {
		for _, fr := range f.Frames() {
			if fr.Address.Block == far.BlockCLB {
				slots = append(slots, slot{raw: fr.FAR})
			}
		}
	}
	var out []*Frame
	i := 0
	for ; i < len(slots); i++ {
		start := size + size*i
		if start+size > len(data) {
			break
		}
		if slots[i].pad {
			continue
		}
		fr, err := NewFrame(slots[i].raw, m.params.Series, fragmentID, size)
		if err != nil {
			return nil, err
		}
		copy(fr.Data, data[start:start+size])
		copy(fr.Mask, mask[start:start+size])
		out = append(out, fr)
	}
	if extra := (len(data) - size) / size; extra > i {
		log.ModBitstream.Debugf("essential bits: %d frames beyond the fragment's block 0 frames ignored", extra-i)
	}
	return out, nil
}

// MergeOverlay merges essential frames into a fragment. Every overlay frame
// that carries data is compared with the loaded frame first. Any difference
// means the overlay belongs to another bitstream: the divergent frames are
// logged, nothing is merged and an *IntegrityError is returned together with
// the report. The error is not fatal; the memory is left as it was.
// Merging the same overlay twice gives the same masks as merging it once.
func (m *ConfigMemory) MergeOverlay(fragmentID uint32, overlay []*Frame) (*MergeReport, error) {
	f, ok := m.fragments[fragmentID]
	if !ok {
		return nil, fmt.Errorf("%w: %08x", ErrNoFragment, fragmentID)
	}
	rep := &MergeReport{Fragment: fragmentID, OverlayFrames: len(overlay)}
	for _, ov := range overlay {
		fr, ok := f.frames[ov.FAR]
		if !ok {
			rep.Missing++
			continue
		}
		if ov.Data == nil {
			continue
		}
		rep.Compared++
		diff, first := 0, -1
		for w := range fr.Data {
			if w < len(ov.Data) && fr.Data[w] != ov.Data[w] {
				if first < 0 {
					first = w
				}
				diff++
			}
		}
		if diff > 0 {
			rep.MismatchedFrames++
			rep.MismatchedWords += diff
			log.ModBitstream.WithFields(log.Fields{
				"fragment": fmt.Sprintf("%08x", fragmentID),
				"far":      fmt.Sprintf("%08x", ov.FAR),
				"words":    diff,
				"first":    first,
			}).Error("essential bits data differs from bitstream")
		}
	}
	if rep.MismatchedFrames > 0 {
		rep.Skipped = true
		err := &IntegrityError{Fragment: fragmentID, Frames: rep.MismatchedFrames, Words: rep.MismatchedWords}
		log.ModBitstream.Errorf("%v: masks stay empty, no fault candidates will be produced", err)
		return rep, err
	}
	for _, ov := range overlay {
		fr, ok := f.frames[ov.FAR]
		if !ok {
			continue
		}
		fr.MergeMask(ov.Mask)
		fr.UpdateFlags()
		rep.Merged++
		rep.EssentialBits += fr.EssentialBits
	}
	if rep.Missing > 0 {
		log.ModBitstream.Warnf("essential bits: %d overlay frames have no loaded frame", rep.Missing)
	}
	log.ModBitstream.Infof("essential bits merged into fragment %08x: %d frames, %d essential bits",
		fragmentID, rep.Merged, rep.EssentialBits)
	return rep, nil
}
