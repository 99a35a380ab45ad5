package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/bitfault/pkg/lutmap"
	"github.com/OpenTraceLab/bitfault/pkg/netlist"
)

var lutmapCmd = &cobra.Command{
	Use:   "lutmap",
	Short: "Map the LUT cells of a design onto configuration bits",
	Long: `Load the cell table of the experiment config, map every LUT cell in scope
onto its BEL in the bitstream, check the reconstructed INIT values and write
a JSON report to the output directory.

Examples:
  bitfault lutmap --config experiment.toml
  bitfault lutmap -c experiment.toml -v`,
	Args: cobra.NoArgs,
	RunE: runLutmap,
}

func init() {
	rootCmd.AddCommand(lutmapCmd)
}

func runLutmap(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Inputs.Cells == "" {
		return fmt.Errorf("lutmap needs a cell table (inputs.cells)")
	}
	s, err := openSession(cfg)
	if err != nil {
		return err
	}
	if err := s.loadNetlist(); err != nil {
		return err
	}
	_, rep, err := s.mapLUTs(cmd.Context())
	if err != nil {
		return err
	}

	if err := ensureDir(cfg.Run.OutputDir); err != nil {
		return err
	}
	path := cfg.Output(cfg.Run.Report)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := lutmap.WriteReport(f, rep, s.nl.Cells(netlist.GroupLUT)); err != nil {
		f.Close()
		return fmt.Errorf("write report: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	fmt.Println(rep)
	if verbose {
		for _, c := range rep.Mismatched {
			fmt.Printf("INIT mismatch: %s: netlist %s, bitstream %s\n", c.Name, c.Init.Text, c.LUT.Reconstructed)
		}
	}
	fmt.Printf("Report written to: %s\n", path)
	return nil
}
