package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/bitfault/internal/log"
)

var (
	// Global flags
	cfgFile      string
	logLevel     string
	debugModules string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "bitfault",
	Short: "FPGA configuration memory model and fault list builder",
	Long: `bitfault decodes Xilinx configuration bitstreams, maps netlist cells onto
configuration bits and builds fault lists for bitstream fault injection.

Examples:
  bitfault frames --bitfile design.bit                  # Dump frames and packets
  bitfault parse-luts --bitfile design.bit --layout LAYOUT.xml --area X2Y0:X9Y49
  bitfault lutmap --config experiment.toml             # Map LUT cells, write JSON report
  bitfault faultload --config experiment.toml          # Build descriptor and fault list

The legacy form "bitfault op=parse_luts bitfile=design.bit area=X2Y0:X9Y49" is
accepted as well.`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

// Execute runs the root command
func Execute() {
	args, err := translateLegacyArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "experiment config file (default ./bitfault.toml)")
	pf.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.StringVar(&debugModules, "debug", "", "comma separated modules to trace: bitstream, layout, netlist, lutmap, faultlist, cli or all")
	pf.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

func setupLogging(cmd *cobra.Command, args []string) error {
	level := logLevel
	if debugModules != "" {
		level = "debug"
	}
	if err := log.Setup(level, os.Stderr); err != nil {
		return err
	}
	if debugModules != "" {
		mask, err := log.ParseModules(debugModules)
		if err != nil {
			return err
		}
		log.DisableDebugModules(log.ModuleMaskAll)
		log.EnableDebugModules(mask)
	}
	log.ModCLI.Debugf("running %s", cmd.CommandPath())
	return nil
}
