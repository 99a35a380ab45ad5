package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/bitfault/internal/log"
	"github.com/OpenTraceLab/bitfault/pkg/faultlist"
	"github.com/OpenTraceLab/bitfault/pkg/far"
	"github.com/OpenTraceLab/bitfault/pkg/netlist"
)

var (
	faultTarget string
	faultSample int
	faultSeed   uint64
	faultIgnore bool
)

var faultloadCmd = &cobra.Command{
	Use:   "faultload",
	Short: "Build the frame descriptor and fault list of an experiment",
	Long: `Run the whole pipeline of the experiment config: load the bitstream and
essential bits, load and map the netlist, apply the fault load target and
write the frame descriptor, the binary fault list and its CSV listing.

Targets:
  type0  essential bits of CLB/interconnect frames and flip-flop bits
  all    every essential bit, flip-flop and block RAM bit
  lut    LUT truth table bits
  ff     flip-flop bits
  bram   block RAM content bits

Examples:
  bitfault faultload --config experiment.toml
  bitfault faultload -c experiment.toml --target lut --sample 5000 --seed 3`,
	Args: cobra.NoArgs,
	RunE: runFaultload,
}

func init() {
	rootCmd.AddCommand(faultloadCmd)

	f := faultloadCmd.Flags()
	f.StringVar(&faultTarget, "target", "", "override faultload.target")
	f.IntVar(&faultSample, "sample", -1, "override faultload.sample")
	f.Uint64Var(&faultSeed, "seed", 0, "override faultload.seed")
	f.BoolVar(&faultIgnore, "ignore-integrity", false, "continue without essential bits when they do not match the bitstream")
}

func runFaultload(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if faultTarget != "" {
		cfg.Faultload.Target = faultTarget
	}
	if faultSample >= 0 {
		cfg.Faultload.Sample = faultSample
	}
	if cmd.Flags().Changed("seed") {
		cfg.Faultload.Seed = faultSeed
	}
	target, err := cfg.Target()
	if err != nil {
		return err
	}

	s, err := openSession(cfg)
	if err != nil {
		return err
	}
	if err := s.loadEssentialBits(faultIgnore); err != nil {
		return err
	}
	if err := s.loadNetlist(); err != nil {
		return err
	}

	luts := s.nl.Cells(netlist.GroupLUT)
	if len(luts) > 0 && s.layout.Params().LutMapping {
		m, rep, err := s.mapLUTs(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(rep)
		if cfg.Faultload.CustomLutMask {
			n, err := m.ApplyCustomMask(luts, cfg.Scope.UnitPath)
			if err != nil {
				return err
			}
			log.ModCLI.Infof("custom LUT mask: %d bits", n)
		}
	} else if cfg.Faultload.CustomLutMask {
		return fmt.Errorf("custom_lut_mask set but no LUT can be mapped (%d LUT cells, series %v)", len(luts), s.layout.Series)
	}

	b := &faultlist.Builder{
		Memory:        s.mem,
		Netlist:       s.nl,
		Layout:        s.layout,
		Target:        target,
		CustomLutMask: cfg.Faultload.CustomLutMask,
		RecoveryNodes: cfg.Faultload.RecoveryNodes,
	}
	stats, err := b.PrepareMasks()
	if err != nil {
		return err
	}
	fmt.Printf("Fault load %s: %v\n", target, stats)

	if err := ensureDir(cfg.Run.OutputDir); err != nil {
		return err
	}
	recovery, checkpoint := b.RecoveryFrames(), b.CheckpointFrames()
	descriptor := cfg.Output(cfg.Run.Descriptor)
	if err := s.mem.WriteDescriptorFile(descriptor, recovery, checkpoint); err != nil {
		return err
	}
	fmt.Printf("Descriptor written to: %s (%d recovery, %d checkpoint frames)\n", descriptor, len(recovery), len(checkpoint))

	entries, err := b.FromMasks()
	if err != nil {
		return err
	}
	if n := cfg.Faultload.Sample; n > 0 && n < len(entries) {
		entries = faultlist.Sample(entries, n, cfg.Faultload.Seed)
		log.ModCLI.WithFields(log.Fields{"sample": n, "seed": cfg.Faultload.Seed}).Info("fault list sampled")
	}
	if err := writeFaultList(cfg.Output(cfg.Run.FaultList), cfg.Run.OutputDir, cfg.Faultload.PartSize, entries); err != nil {
		return err
	}

	csvPath := cfg.Output(cfg.Run.CSV)
	f, err := os.Create(csvPath)
	if err != nil {
		return err
	}
	if err := faultlist.WriteCSV(f, entries); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("Fault list: %d entries, listing written to: %s\n", len(entries), csvPath)
	if verbose {
		printTargetSummary(entries, s.layout.Series)
	}
	return nil
}

func writeFaultList(path, dir string, partSize int, entries []faultlist.Entry) error {
	if partSize > 0 {
		paths, err := faultlist.WriteParts(dir, entries, partSize)
		if err != nil {
			return err
		}
		fmt.Printf("Fault list written to %d parts in: %s\n", len(paths), dir)
		return nil
	}
	if err := faultlist.WriteFile(path, entries); err != nil {
		return err
	}
	fmt.Printf("Fault list written to: %s\n", path)
	return nil
}

func printTargetSummary(entries []faultlist.Entry, series far.Series) {
	byType := map[faultlist.CellType]int{}
	byBlock := map[far.BlockType]int{}
	var decodeErr error
	for _, e := range entries {
		byType[e.CellType]++
		a, err := far.Decode(e.FAR, series)
		if err != nil {
			decodeErr = errors.Join(decodeErr, err)
			continue
		}
		byBlock[a.Block]++
	}
	for _, t := range []faultlist.CellType{faultlist.CellEssential, faultlist.CellLUT, faultlist.CellFF, faultlist.CellBRAM, faultlist.CellLUTRAM} {
		if byType[t] > 0 {
			fmt.Printf("  %-14v %8d\n", t, byType[t])
		}
	}
	for _, b := range []far.BlockType{far.BlockCLB, far.BlockBRAM, far.BlockCFG} {
		if byBlock[b] > 0 {
			fmt.Printf("  block %-8v %8d\n", b, byBlock[b])
		}
	}
	if decodeErr != nil {
		log.ModCLI.Warnf("fault list summary: %v", decodeErr)
	}
}
