package cmd

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/bitfault/pkg/device"
)

var (
	partsLayoutDir string
	partsMatch     string
)

var partsCmd = &cobra.Command{
	Use:   "parts",
	Short: "List known parts and available device layouts",
	Long: `List the parts of the built-in IDCODE database and, with --layout-dir, the
device layouts found in a directory.

Examples:
  bitfault parts
  bitfault parts --layout-dir layouts --match xc7a100t`,
	Args: cobra.NoArgs,
	RunE: runParts,
}

func init() {
	rootCmd.AddCommand(partsCmd)

	partsCmd.Flags().StringVar(&partsLayoutDir, "layout-dir", "", "directory holding LAYOUT*.xml files")
	partsCmd.Flags().StringVar(&partsMatch, "match", "", "show only parts this name resolves to")
}

func runParts(cmd *cobra.Command, args []string) error {
	want := ""
	if partsMatch != "" {
		p, ok := device.PartByName(partsMatch)
		if !ok {
			return fmt.Errorf("no known part matches %q", partsMatch)
		}
		want = p.Name
	}

	fmt.Println("Known parts:")
	for _, p := range device.Parts() {
		if want != "" && p.Name != want {
			continue
		}
		fmt.Printf("  %-12s IDCODE %08x  %-12v SLRs %d\n", p.Name, p.IDCode, p.Series, p.SLRs)
	}

	if partsLayoutDir == "" {
		return nil
	}
	repo := device.NewMemoryRepository()
	if err := repo.LoadDir(partsLayoutDir); err != nil {
		return err
	}
	names := repo.Parts()
	slices.Sort(names)
	fmt.Printf("Available layouts in %s:\n", partsLayoutDir)
	for _, n := range names {
		if want != "" {
			if p, ok := device.PartByName(n); !ok || p.Name != want {
				continue
			}
		}
		fmt.Printf("  %s\n", n)
	}
	return nil
}
