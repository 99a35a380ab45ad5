package lutmap

import (
	"fmt"
	"io"

	"github.com/go-faster/jx"

	"github.com/OpenTraceLab/bitfault/pkg/netlist"
)

// WriteReport writes the mapping result of LUT cells as indented JSON: the
// run summary followed by one object per cell with its placement, INIT
// check, permutation and logical bitmap.
func WriteReport(w io.Writer, rep *Report, cells []*netlist.Cell) error {
	var e jx.Encoder
	e.SetIdent(2)
	e.Obj(func(e *jx.Encoder) {
		if rep != nil {
			e.Field("summary", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("cells", func(e *jx.Encoder) { e.Int(rep.Total) })
					e.Field("pairs", func(e *jx.Encoder) { e.Int(rep.Pairs) })
					e.Field("mapped", func(e *jx.Encoder) { e.Int(rep.Mapped) })
					e.Field("matched", func(e *jx.Encoder) { e.Int(rep.Matched) })
					e.Field("mismatched", func(e *jx.Encoder) { e.Int(len(rep.Mismatched)) })
					e.Field("failed", func(e *jx.Encoder) { e.Int(len(rep.Failed)) })
				})
			})
		}
		e.Field("cells", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, c := range cells {
					if c.LUT == nil {
						continue
					}
					encodeCell(e, c)
				}
			})
		})
	})
	_, err := w.Write(e.Bytes())
	return err
}

func encodeCell(e *jx.Encoder, c *netlist.Cell) {
	lut := c.LUT
	str := func(name, v string) {
		e.Field(name, func(e *jx.Encoder) { e.Str(v) })
	}
	e.Obj(func(e *jx.Encoder) {
		str("name", c.Name)
		str("type", c.Type)
		str("bel_type", c.BelType)
		str("label", c.Label)
		str("site", c.Placement.Site)
		str("tile", c.Placement.Tile)
		str("init", c.Init.Text)
		if lut.Err != nil {
			str("error", lut.Err.Error())
			return
		}
		str("fragment", fmt.Sprintf("0x%08X", lut.Fragment))
		str("reconstructed", lut.Reconstructed)
		e.Field("match", func(e *jx.Encoder) { e.Bool(lut.Match) })
		e.Field("pair", func(e *jx.Encoder) {
			if lut.Pair == nil {
				e.Null()
				return
			}
			e.Str(lut.Pair.Name)
		})
		e.Field("connections", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, k := range c.InputKeys() {
					e.Field(k, func(e *jx.Encoder) { e.Str(c.Connections[k]) })
				}
			})
		})
		e.Field("cbel_inputs", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, p := range lut.CBelInputs {
					e.Str(p)
				}
			})
		})
		str("sequence", SequenceString(lut.Sequence))
		e.Field("bitmap", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, i := range c.BitmapIndexes() {
					ref := c.Bitmap[i]
					e.Obj(func(e *jx.Encoder) {
						e.Field("index", func(e *jx.Encoder) { e.Int(i) })
						e.Field("far", func(e *jx.Encoder) { e.Str(fmt.Sprintf("0x%08X", ref.FAR)) })
						e.Field("word", func(e *jx.Encoder) { e.Int(ref.Word) })
						e.Field("bit", func(e *jx.Encoder) { e.Int(ref.Bit) })
					})
				}
			})
		})
	})
}
