package bitstream

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/OpenTraceLab/bitfault/internal/log"
	"github.com/OpenTraceLab/bitfault/pkg/device"
)

// Kind selects how a bitstream file is framed.
type Kind int

const (
	// Regular is a raw .bin stream of 32-bit words.
	Regular Kind = iota
	// Debug is a .bit file: header, then big-endian words.
	Debug
)

func (k Kind) String() string {
	if k == Debug {
		return "debug"
	}
	return "regular"
}

// ParseKind accepts "regular"/"bin" and "debug"/"bit".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "regular", "bin":
		return Regular, nil
	case "debug", "bit":
		return Debug, nil
	}
	return Regular, fmt.Errorf("bitstream: unknown bitstream kind %q", s)
}

// KindFromPath picks Debug for .bit files and Regular otherwise.
func KindFromPath(path string) Kind {
	if strings.EqualFold(filepath.Ext(path), ".bit") {
		return Debug
	}
	return Regular
}

// LoadBitstream reads a bitstream file into the memory.
func (m *ConfigMemory) LoadBitstream(path string, kind Kind) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("bitstream: open: %w", err)
	}
	defer f.Close()
	if err := m.Load(f, kind); err != nil {
		return fmt.Errorf("bitstream: %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Load decodes a configuration stream. Frames are committed only when the
// whole stream decodes, so a failed load leaves the memory unchanged.
func (m *ConfigMemory) Load(r io.Reader, kind Kind) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	order := m.byteOrder
	var hdr *BitHeader
	if kind == Debug {
		if hdr, data, err = ParseBitHeader(data); err != nil {
			return err
		}
		order = binary.BigEndian
	}
	if len(data)%4 != 0 {
		return &MalformedError{Offset: len(data) / 4, Msg: fmt.Sprintf("%d trailing bytes", len(data)%4), Err: ErrMalformedBitstream}
	}
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = order.Uint32(data[4*i:])
	}

	p := &parser{m: m, words: words, farIdx: -1}
	if err := p.run(); err != nil {
		return err
	}
	if hdr != nil {
		m.Header = hdr
		if m.Part == "" {
			m.Part = hdr.Part
		}
	}
	for _, fr := range p.staged {
		frag := m.fragment(fr.Fragment)
		if old, ok := frag.frames[fr.FAR]; ok {
			copy(old.Data, fr.Data)
			continue
		}
		frag.put(fr)
	}
	log.ModBitstream.WithFields(log.Fields{
		"kind":     kind.String(),
		"frames":   len(p.staged),
		"sections": p.sections,
		"part":     m.Part,
	}).Info("bitstream loaded")
	return nil
}

type parser struct {
	m     *ConfigMemory
	words []uint32
	pos   int

	fragment uint32
	far      uint32
	farIdx   int

	sections   int
	beyond     int
	sequential int
	staged     []*Frame
}

func (p *parser) malformed(offset int, msg string) error {
	return &MalformedError{Offset: offset, Msg: msg, Err: ErrMalformedBitstream}
}

func (p *parser) run() error {
	synced := false
	var reg Register
	for p.pos < len(p.words) {
		w := p.words[p.pos]
		p.pos++
		if !synced {
			if w == SyncWord {
				synced = true
				p.sections++
			}
			continue
		}
		offset := p.pos - 1
		pkt, err := DecodeHeader(w)
		if err != nil {
			return &MalformedError{Offset: offset, Msg: "packet header", Err: err}
		}
		if pkt.Type == 1 {
			reg = pkt.Register
		}
		if p.m.trace != nil {
			fmt.Fprintf(p.m.trace, "%8d: %08x %s\n", offset, w, pkt)
		}
		if pkt.Op != OpWrite {
			continue
		}
		if p.pos+pkt.WordCount > len(p.words) {
			return p.malformed(offset, fmt.Sprintf("%s write of %d words runs past end of stream", reg, pkt.WordCount))
		}
		payload := p.words[p.pos : p.pos+pkt.WordCount]
		p.pos += pkt.WordCount
		if len(payload) == 0 {
			continue
		}
		switch reg {
		case RegFAR:
			p.setFAR(payload[len(payload)-1])
		case RegIDCODE:
			p.selectFragment(payload[0])
		case RegCMD:
			if payload[0] == CmdDESYNC {
				synced = false
			}
		case RegFDRI:
			if err := p.frames(offset, payload); err != nil {
				return err
			}
		}
	}
	if p.beyond > 0 {
		log.ModBitstream.Warnf("%d frames written past the end of the FAR list, addressed sequentially", p.beyond)
	}
	if p.sequential > 0 {
		log.ModBitstream.Warnf("%d frames of multi-frame bursts addressed by FAR increment without a FAR list", p.sequential)
	}
	return nil
}

func (p *parser) setFAR(raw uint32) {
	p.far = raw
	p.farIdx = -1
	if l := p.m.farList; l != nil {
		if i, ok := l.Index(raw); ok {
			p.farIdx = i
		}
	}
}

func (p *parser) selectFragment(id uint32) {
	p.fragment = id
	if p.m.Part == "" {
		if part, ok := device.LookupPart(id); ok {
			p.m.Part = part.Name
		}
	}
	log.ModBitstream.Debugf("IDCODE %08x selects fragment", id)
}

// next returns the address of the next frame in a burst and whether it is a
// pad frame to be dropped.
func (p *parser) next() (uint32, bool) {
	l := p.m.farList
	if l != nil && p.farIdx >= 0 {
		if p.farIdx < l.Len() {
			raw, pad := l.At(p.farIdx)
			p.farIdx++
			p.far = raw
			return raw, pad
		}
		p.farIdx = -1
		p.beyond++
		p.far++
		return p.far, false
	}
	if l != nil {
		p.beyond++
	}
	raw := p.far
	p.far++
	return raw, false
}

func (p *parser) frames(offset int, payload []uint32) error {
	size := p.m.params.FrameSize
	if len(payload)%size != 0 {
		return p.malformed(offset, fmt.Sprintf("FDRI burst of %d words is not a multiple of the %d word frame", len(payload), size))
	}
	if n := len(payload) / size; n > 1 && p.m.farList == nil {
		if !p.m.sequential {
			return &MalformedError{Offset: offset, Msg: fmt.Sprintf("%d frame burst at FAR %08x", n, p.far), Err: ErrFarListRequired}
		}
		p.sequential += n - 1
	}
	for i := 0; i < len(payload); i += size {
		raw, pad := p.next()
		if pad {
			continue
		}
		fr, err := NewFrame(raw, p.m.params.Series, p.fragment, size)
		if err != nil {
			return &MalformedError{Offset: offset, Msg: fmt.Sprintf("frame %d of burst", i/size), Err: fmt.Errorf("%w: %w", ErrMalformedBitstream, err)}
		}
		copy(fr.Data, payload[i:i+size])
		p.staged = append(p.staged, fr)
	}
	return nil
}
