package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/OpenTraceLab/bitfault/internal/config"
	"github.com/OpenTraceLab/bitfault/internal/log"
	"github.com/OpenTraceLab/bitfault/pkg/bitstream"
	"github.com/OpenTraceLab/bitfault/pkg/device"
	"github.com/OpenTraceLab/bitfault/pkg/far"
	"github.com/OpenTraceLab/bitfault/pkg/lutmap"
	"github.com/OpenTraceLab/bitfault/pkg/netlist"
)

// deviceInputs names the files that describe the configured device.
type deviceInputs struct {
	series    far.Series
	bitfile   string
	kind      bitstream.Kind
	farList   string
	layout    string
	layoutDir string
	part      string
	// sequential loads FAR-less multi-frame bursts by FAR increment.
	sequential bool
}

// farListHint points at the options that resolve ErrFarListRequired.
func farListHint(err error) error {
	if errors.Is(err, bitstream.ErrFarListRequired) {
		return fmt.Errorf("%w: give a FAR list (--far-list, inputs.far_list) or accept sequential addressing (--sequential, inputs.sequential_far)", err)
	}
	return err
}

// openDevice loads the bitstream, then the layout of its part.
func openDevice(in deviceInputs) (*bitstream.ConfigMemory, *device.Layout, error) {
	if in.bitfile == "" {
		return nil, nil, errors.New("no bitstream file given")
	}
	if _, err := os.Stat(in.bitfile); err != nil {
		return nil, nil, fmt.Errorf("bitstream file: %w", err)
	}
	params, err := device.ParamsFor(in.series)
	if err != nil {
		return nil, nil, err
	}
	var opts []bitstream.Option
	if in.sequential {
		opts = append(opts, bitstream.WithSequentialAddressing())
	}
	mem := bitstream.New(params, opts...)
	if in.farList != "" {
		if err := mem.LoadFarList(in.farList); err != nil {
			return nil, nil, err
		}
	}
	if err := mem.LoadBitstream(in.bitfile, in.kind); err != nil {
		return nil, nil, farListHint(err)
	}

	var layout *device.Layout
	switch {
	case in.layout != "":
		layout, err = device.LoadLayoutFile(in.layout, in.series)
	case in.layoutDir != "":
		part := in.part
		if part == "" {
			part = mem.Part
		}
		if part == "" {
			return nil, nil, errors.New("bitstream names no part, set the part explicitly")
		}
		repo := device.NewMemoryRepository()
		if err = repo.LoadDir(in.layoutDir); err == nil {
			layout, err = repo.Lookup(part)
		}
	default:
		return nil, nil, errors.New("no device layout given")
	}
	if err != nil {
		return nil, nil, err
	}
	if layout.Series != in.series {
		return nil, nil, fmt.Errorf("layout %s is %v, bitstream was read as %v", layout.Part, layout.Series, in.series)
	}
	log.ModCLI.WithFields(log.Fields{
		"part":      mem.Part,
		"layout":    layout.Part,
		"fragments": len(mem.Fragments()),
		"frames":    mem.Len(),
	}).Info("device loaded")
	return mem, layout, nil
}

// loadConfig reads and validates the --config file.
func loadConfig() (config.Config, error) {
	path := cfgFile
	if path == "" {
		path = config.DefaultFileName
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// session is the state shared by the config driven commands.
type session struct {
	cfg    config.Config
	mem    *bitstream.ConfigMemory
	layout *device.Layout
	nl     *netlist.Netlist
}

func openSession(cfg config.Config) (*session, error) {
	series, err := cfg.Series()
	if err != nil {
		return nil, err
	}
	kind, err := cfg.BitstreamKind()
	if err != nil {
		return nil, err
	}
	mem, layout, err := openDevice(deviceInputs{
		series:    series,
		bitfile:   cfg.Inputs.Bitstream,
		kind:      kind,
		farList:   cfg.Inputs.FarList,
		layout:    cfg.Device.Layout,
		layoutDir: cfg.Device.LayoutDir,
		part:      cfg.Device.Part,

		sequential: cfg.Inputs.SequentialFAR,
	})
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, mem: mem, layout: layout}, nil
}

// loadEssentialBits merges the EBC/EBD pair into the first fragment. An
// integrity mismatch fails the command unless ignoreIntegrity is set, in which
// case the mismatch is reported on stdout and the essential bits are dropped.
func (s *session) loadEssentialBits(ignoreIntegrity bool) error {
	if s.cfg.Inputs.EBC == "" {
		return nil
	}
	frag, err := s.mem.Default()
	if err != nil {
		return err
	}
	rep, err := s.mem.LoadEssentialBits(s.cfg.Inputs.EBC, s.cfg.Inputs.EBD, frag.ID)
	var integrity *bitstream.IntegrityError
	if errors.As(err, &integrity) {
		if !ignoreIntegrity {
			return fmt.Errorf("%w (--ignore-integrity drops the essential bits and continues)", err)
		}
		fmt.Printf("Essential bits ignored: %v\n", err)
		log.ModCLI.Warnf("%v: essential bits ignored", err)
		return nil
	}
	if err != nil {
		return err
	}
	log.ModCLI.WithFields(log.Fields{"merged": rep.Merged, "bits": rep.EssentialBits}).Info("essential bits merged")
	return nil
}

// loadNetlist reads the cell table and the logic location file, restricted
// to the configured scope, and resolves placements against the layout.
func (s *session) loadNetlist() error {
	area, err := s.cfg.ScopeArea()
	if err != nil {
		return err
	}
	filter := netlist.Filter{UnitPath: s.cfg.Scope.UnitPath, Area: area}
	if s.cfg.Inputs.Cells != "" {
		s.nl, err = netlist.LoadCellsFile(s.cfg.Inputs.Cells, filter)
		if err != nil {
			return err
		}
	} else {
		s.nl = netlist.New(filter)
	}
	if s.cfg.Inputs.LogicLocation != "" {
		opts := netlist.LocationOptions{Standalone: s.cfg.Inputs.Cells == "", Layout: s.layout}
		if _, err := s.nl.LoadLogicLocationFile(s.cfg.Inputs.LogicLocation, opts); err != nil {
			return err
		}
	}
	if dropped := s.nl.Resolve(s.layout); len(dropped) > 0 {
		log.ModCLI.Warnf("%d cells placed outside the layout", len(dropped))
	}
	if verbose {
		fmt.Print(s.nl.Statistics())
	}
	return nil
}

func (s *session) mapper() (*lutmap.Mapper, error) {
	var opts []lutmap.Option
	if s.cfg.Run.Workers > 0 {
		opts = append(opts, lutmap.WithWorkers(s.cfg.Run.Workers))
	}
	return lutmap.New(s.layout.Params(), s.layout, s.mem, opts...)
}

// mapLUTs maps every LUT cell of the netlist.
func (s *session) mapLUTs(ctx context.Context) (*lutmap.Mapper, *lutmap.Report, error) {
	m, err := s.mapper()
	if err != nil {
		return nil, nil, err
	}
	rep, err := m.MapCells(ctx, s.nl.Cells(netlist.GroupLUT))
	return m, rep, err
}

func ensureDir(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	return nil
}
