package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/bitfault/pkg/bitstream"
	"github.com/OpenTraceLab/bitfault/pkg/device"
	"github.com/OpenTraceLab/bitfault/pkg/far"
)

var (
	framesBitfile string
	framesKind    string
	framesFarList string
	framesSeries  string
	framesAll     bool
	framesCompare string
	framesWrite   string
	framesTrace   bool
	framesSeq     bool
)

var framesCmd = &cobra.Command{
	Use:   "frames",
	Short: "Decode a bitstream and show its fragments and frames",
	Long: `Decode a configuration bitstream and print the .bit header, the
configuration fragments (one per SLR) and a frame summary.

Examples:
  bitfault frames --bitfile design.bit
  bitfault frames --bitfile design.bin --far-list design.far --all
  bitfault frames --bitfile a.bit --compare b.bit
  bitfault frames --bitfile design.bit --write design.bin`,
	Args: cobra.NoArgs,
	RunE: runFrames,
}

func init() {
	rootCmd.AddCommand(framesCmd)

	f := framesCmd.Flags()
	f.StringVar(&framesBitfile, "bitfile", "", "bitstream file (.bit or .bin)")
	f.StringVar(&framesKind, "kind", "", "bitstream kind: regular or debug (default from extension)")
	f.StringVar(&framesFarList, "far-list", "", "FAR list giving the frame order of FDRI bursts")
	f.StringVar(&framesSeries, "series", "7series", "device series")
	f.BoolVarP(&framesAll, "all", "a", false, "print every non-empty frame")
	f.StringVar(&framesCompare, "compare", "", "second bitstream to diff against")
	f.StringVar(&framesWrite, "write", "", "re-encode the decoded frames as a regular .bin stream")
	f.BoolVar(&framesTrace, "trace", false, "log every decoded packet")
	f.BoolVar(&framesSeq, "sequential", false, "address multi-frame bursts by FAR increment when no FAR list is given")
	framesCmd.MarkFlagRequired("bitfile")
}

func loadMemory(path string, params *device.Params) (*bitstream.ConfigMemory, error) {
	kind := bitstream.KindFromPath(path)
	if framesKind != "" {
		var err error
		if kind, err = bitstream.ParseKind(framesKind); err != nil {
			return nil, err
		}
	}
	var opts []bitstream.Option
	if framesTrace {
		opts = append(opts, bitstream.WithTrace(os.Stdout))
	}
	if framesSeq {
		opts = append(opts, bitstream.WithSequentialAddressing())
	}
	mem := bitstream.New(params, opts...)
	if framesFarList != "" {
		if err := mem.LoadFarList(framesFarList); err != nil {
			return nil, err
		}
	}
	if err := mem.LoadBitstream(path, kind); err != nil {
		return nil, farListHint(err)
	}
	return mem, nil
}

func runFrames(cmd *cobra.Command, args []string) error {
	series, err := far.ParseSeries(framesSeries)
	if err != nil {
		return err
	}
	params, err := device.ParamsFor(series)
	if err != nil {
		return err
	}
	mem, err := loadMemory(framesBitfile, params)
	if err != nil {
		return err
	}

	if h := mem.Header; h != nil {
		fmt.Printf("Design:  %s\n", h.DesignName())
		fmt.Printf("Part:    %s\n", h.Part)
		fmt.Printf("Created: %s %s\n", h.Date, h.Time)
	} else if mem.Part != "" {
		fmt.Printf("Part:    %s\n", mem.Part)
	}
	fmt.Printf("Series:  %v, %d words per frame\n\n", series, params.FrameSize)

	for _, frag := range mem.Fragments() {
		nonEmpty, byBlock := 0, map[far.BlockType]int{}
		for _, fr := range frag.Frames() {
			byBlock[fr.Address.Block]++
			if !fr.IsEmpty() {
				nonEmpty++
			}
		}
		name := "unknown"
		if p, ok := device.LookupPart(frag.ID); ok {
			name = p.Name
		}
		fmt.Printf("Fragment %d: IDCODE %08x (%s), %d frames, %d non-empty, bottom rows %d\n",
			frag.Index, frag.ID, name, frag.Len(), nonEmpty, frag.BottomRows())
		for _, b := range []far.BlockType{far.BlockCLB, far.BlockBRAM, far.BlockCFG} {
			if byBlock[b] > 0 {
				fmt.Printf("  %-6v %6d frames\n", b, byBlock[b])
			}
		}
		if framesAll {
			for _, fr := range frag.Frames() {
				if !fr.IsEmpty() {
					fmt.Println(fr)
				}
			}
		}
	}

	if framesCompare != "" {
		if err := compareWith(mem, params); err != nil {
			return err
		}
	}
	if framesWrite != "" {
		f, err := os.Create(framesWrite)
		if err != nil {
			return err
		}
		if err := mem.WriteBitstream(f, bitstream.Regular); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Printf("Bitstream written to: %s\n", framesWrite)
	}
	return nil
}

func compareWith(a *bitstream.ConfigMemory, params *device.Params) error {
	b, err := loadMemory(framesCompare, params)
	if err != nil {
		return err
	}
	fa, err := a.Default()
	if err != nil {
		return err
	}
	fb, err := b.Default()
	if err != nil {
		return err
	}
	diffs := bitstream.Compare(fa, fb, nil)
	fmt.Printf("\nCompared with %s: %d differing frames\n", framesCompare, len(diffs))
	for _, d := range diffs {
		switch d.OnlyIn {
		case "":
			fmt.Printf("  %08x: %d words differ %v\n", d.FAR, len(d.Words), d.Words)
		default:
			fmt.Printf("  %08x: only in %s\n", d.FAR, d.OnlyIn)
		}
	}
	return nil
}
