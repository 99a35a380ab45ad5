package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/bitfault/pkg/bitstream"
	"github.com/OpenTraceLab/bitfault/pkg/device"
	"github.com/OpenTraceLab/bitfault/pkg/far"
	"github.com/OpenTraceLab/bitfault/pkg/lutmap"
)

var (
	scanBitfile   string
	scanKind      string
	scanFarList   string
	scanSeq       bool
	scanLayout    string
	scanLayoutDir string
	scanPart      string
	scanSeries    string
	scanArea      string
	scanBitOrder  bool
	scanSkipEmpty bool
	scanOut       string
)

var parseLutsCmd = &cobra.Command{
	Use:   "parse-luts",
	Short: "Read the truth table of every LUT BEL from a bitstream",
	Long: `Read the content of every 6-input LUT BEL of the CLB slices in an area and
export it as a ';' separated table (LUTS.csv next to the bitstream by default).

Examples:
  bitfault parse-luts --bitfile design.bit --layout LAYOUT.xml
  bitfault parse-luts --bitfile design.bit --layout-dir layouts --area X2Y0:X9Y49 --bitorder --skipempty`,
	Args: cobra.NoArgs,
	RunE: runParseLuts,
}

func init() {
	rootCmd.AddCommand(parseLutsCmd)

	f := parseLutsCmd.Flags()
	f.StringVar(&scanBitfile, "bitfile", "", "bitstream file (.bit or .bin)")
	f.StringVar(&scanKind, "kind", "", "bitstream kind: regular or debug (default from extension)")
	f.StringVar(&scanFarList, "far-list", "", "FAR list giving the frame order of FDRI bursts")
	f.BoolVar(&scanSeq, "sequential", false, "address multi-frame bursts by FAR increment when no FAR list is given")
	f.StringVar(&scanLayout, "layout", "", "device LAYOUT xml file")
	f.StringVar(&scanLayoutDir, "layout-dir", "", "directory searched for the LAYOUT of the bitstream's part")
	f.StringVar(&scanPart, "part", "", "part name used for the layout lookup (default from bitstream)")
	f.StringVar(&scanSeries, "series", "7series", "device series")
	f.StringVar(&scanArea, "area", "", "Pblock X1Y1:X2Y2 in tile or SLICE_ notation (default whole device)")
	f.BoolVar(&scanBitOrder, "bitorder", false, "reorder contents into INIT bit order")
	f.BoolVar(&scanSkipEmpty, "skipempty", false, "skip BELs with all-zero content")
	f.StringVarP(&scanOut, "out", "o", "", "output CSV file")
	parseLutsCmd.MarkFlagRequired("bitfile")
}

func runParseLuts(cmd *cobra.Command, args []string) error {
	series, err := far.ParseSeries(scanSeries)
	if err != nil {
		return err
	}
	kind := bitstream.KindFromPath(scanBitfile)
	if scanKind != "" {
		if kind, err = bitstream.ParseKind(scanKind); err != nil {
			return err
		}
	}
	var area *device.Area
	if scanArea != "" {
		if area, err = device.ParseArea(scanArea); err != nil {
			return err
		}
	}

	mem, layout, err := openDevice(deviceInputs{
		series:    series,
		bitfile:   scanBitfile,
		kind:      kind,
		farList:   scanFarList,
		layout:    scanLayout,
		layoutDir: scanLayoutDir,
		part:      scanPart,

		sequential: scanSeq,
	})
	if err != nil {
		return err
	}
	m, err := lutmap.New(layout.Params(), layout, mem)
	if err != nil {
		return err
	}
	contents, err := m.ScanLayout(cmd.Context(), area, lutmap.ScanOptions{BitOrder: scanBitOrder, SkipEmpty: scanSkipEmpty})
	if err != nil {
		return err
	}

	out := scanOut
	if out == "" {
		out = filepath.Join(filepath.Dir(scanBitfile), "LUTS.csv")
	}
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create result file: %w", err)
	}
	if err := lutmap.WriteBelContentsCSV(f, contents); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", out, err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	if verbose {
		fmt.Printf("Scanned %d LUT BELs\n", len(contents))
	}
	fmt.Printf("Result exported to: %s\n", out)
	return nil
}
