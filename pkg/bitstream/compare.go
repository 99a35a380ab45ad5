package bitstream

import "github.com/OpenTraceLab/bitfault/pkg/far"

// FrameDiff lists the differing words of one frame address. OnlyIn is "a"
// or "b" when the frame exists in one fragment only.
type FrameDiff struct {
	FAR    uint32
	Words  []int
	OnlyIn string
}

// Compare diffs two fragments frame by frame: frames of a in ascending
// address order, then the frames only b holds. keep, when not nil, restricts
// the comparison to matching addresses.
func Compare(a, b *Fragment, keep func(far.Address) bool) []FrameDiff {
	var out []FrameDiff
	seen := make(map[uint32]bool)
	for _, fa := range a.Frames() {
		if keep != nil && !keep(fa.Address) {
			continue
		}
		seen[fa.FAR] = true
		fb, ok := b.frames[fa.FAR]
		if !ok {
			out = append(out, FrameDiff{FAR: fa.FAR, OnlyIn: "a"})
			continue
		}
		var words []int
		for i := range fa.Data {
			if i >= len(fb.Data) || fa.Data[i] != fb.Data[i] {
				words = append(words, i)
			}
		}
		if len(words) > 0 {
			out = append(out, FrameDiff{FAR: fa.FAR, Words: words})
		}
	}
	for _, fb := range b.Frames() {
		if seen[fb.FAR] || (keep != nil && !keep(fb.Address)) {
			continue
		}
		out = append(out, FrameDiff{FAR: fb.FAR, OnlyIn: "b"})
	}
	return out
}
