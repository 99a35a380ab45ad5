// Package config holds the experiment description read by the bitfault
// commands: which device, which input files, which part of the design and
// which fault load to build.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/OpenTraceLab/bitfault/pkg/bitstream"
	"github.com/OpenTraceLab/bitfault/pkg/device"
	"github.com/OpenTraceLab/bitfault/pkg/far"
	"github.com/OpenTraceLab/bitfault/pkg/faultlist"
)

// DefaultFileName is the config file looked up when none is given.
const DefaultFileName = "bitfault.toml"

var ErrInvalid = errors.New("config: invalid configuration")

type DeviceConfig struct {
	Series string `toml:"series"`
	// Part overrides the part name found in the bitstream header when
	// looking up a layout in LayoutDir.
	Part      string `toml:"part,omitempty"`
	Layout    string `toml:"layout,omitempty"`
	LayoutDir string `toml:"layout_dir,omitempty"`
}

type InputsConfig struct {
	Bitstream string `toml:"bitstream"`
	// Kind is "regular" or "debug"; empty picks from the file extension.
	Kind    string `toml:"kind,omitempty"`
	FarList string `toml:"far_list,omitempty"`
	// SequentialFAR accepts multi-frame bursts without a FAR list.
	SequentialFAR bool   `toml:"sequential_far,omitempty"`
	EBC           string `toml:"ebc,omitempty"`
	EBD           string `toml:"ebd,omitempty"`
	Cells         string `toml:"cells,omitempty"`
	LogicLocation string `toml:"logic_location,omitempty"`
}

type ScopeConfig struct {
	UnitPath string `toml:"unit_path,omitempty"`
	Area     string `toml:"area,omitempty"`
}

type FaultloadConfig struct {
	Target        string   `toml:"target"`
	CustomLutMask bool     `toml:"custom_lut_mask"`
	RecoveryNodes []string `toml:"recovery_nodes,omitempty"`
	// Sample keeps a random subset of that many entries, 0 keeps all.
	Sample int    `toml:"sample,omitempty"`
	Seed   uint64 `toml:"seed,omitempty"`
	// PartSize splits the binary fault list, 0 writes a single file.
	PartSize int `toml:"part_size,omitempty"`
}

type RunConfig struct {
	Workers    int    `toml:"workers,omitempty"`
	OutputDir  string `toml:"output_dir"`
	Report     string `toml:"report"`
	Descriptor string `toml:"descriptor"`
	FaultList  string `toml:"faultlist"`
	CSV        string `toml:"csv"`
}

type Config struct {
	Device    DeviceConfig    `toml:"device"`
	Inputs    InputsConfig    `toml:"inputs"`
	Scope     ScopeConfig     `toml:"scope"`
	Faultload FaultloadConfig `toml:"faultload"`
	Run       RunConfig       `toml:"run"`

	// Dir is the directory relative paths were resolved against.
	Dir string `toml:"-"`
}

// Default returns a configuration with every optional value set.
func Default() Config {
	return Config{
		Device:    DeviceConfig{Series: "7series"},
		Faultload: FaultloadConfig{Target: faultlist.TargetType0.String(), Seed: 1},
		Run: RunConfig{
			OutputDir:  "out",
			Report:     "lutmap.json",
			Descriptor: "Descriptor.dat",
			FaultList:  "Faultlist.bin",
			CSV:        "Faultlist.csv",
		},
	}
}

// Load reads path over the defaults. Unknown keys are an error, and paths
// are resolved against the directory of path.
func Load(path string) (Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if und := md.Undecoded(); len(und) > 0 {
		keys := make([]string, len(und))
		for i, k := range und {
			keys[i] = k.String()
		}
		return cfg, fmt.Errorf("%w: %s: unknown keys %s", ErrInvalid, path, strings.Join(keys, ", "))
	}
	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	cfg.Resolve(abs)
	return cfg, nil
}

// Resolve makes every relative path absolute against dir.
func (c *Config) Resolve(dir string) {
	c.Dir = dir
	for _, p := range []*string{
		&c.Device.Layout, &c.Device.LayoutDir,
		&c.Inputs.Bitstream, &c.Inputs.FarList, &c.Inputs.EBC, &c.Inputs.EBD,
		&c.Inputs.Cells, &c.Inputs.LogicLocation,
		&c.Run.OutputDir,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}

// Output returns the path of an output file inside OutputDir.
func (c *Config) Output(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Run.OutputDir, name)
}

// Validate checks the values that do not need the file system.
func (c *Config) Validate() error {
	var errs []error
	if _, err := far.ParseSeries(c.Device.Series); err != nil {
		errs = append(errs, err)
	}
	if c.Inputs.Kind != "" {
		if _, err := bitstream.ParseKind(c.Inputs.Kind); err != nil {
			errs = append(errs, err)
		}
	}
	if (c.Inputs.EBC == "") != (c.Inputs.EBD == "") {
		errs = append(errs, fmt.Errorf("inputs: ebc and ebd must be given together"))
	}
	if c.Scope.Area != "" {
		if _, err := device.ParseArea(c.Scope.Area); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := faultlist.ParseTarget(c.Faultload.Target); err != nil {
		errs = append(errs, err)
	}
	if c.Faultload.Sample < 0 {
		errs = append(errs, fmt.Errorf("faultload: negative sample size %d", c.Faultload.Sample))
	}
	if c.Faultload.PartSize < 0 {
		errs = append(errs, fmt.Errorf("faultload: negative part size %d", c.Faultload.PartSize))
	}
	if c.Run.Workers < 0 {
		errs = append(errs, fmt.Errorf("run: negative worker count %d", c.Run.Workers))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Series returns the parsed device series.
func (c *Config) Series() (far.Series, error) {
	return far.ParseSeries(c.Device.Series)
}

// Target returns the parsed fault load target.
func (c *Config) Target() (faultlist.Target, error) {
	return faultlist.ParseTarget(c.Faultload.Target)
}

// BitstreamKind returns the configured kind, or the one implied by the
// bitstream file name.
func (c *Config) BitstreamKind() (bitstream.Kind, error) {
	if c.Inputs.Kind == "" {
		return bitstream.KindFromPath(c.Inputs.Bitstream), nil
	}
	return bitstream.ParseKind(c.Inputs.Kind)
}

// ScopeArea returns the parsed Pblock area, nil when unrestricted.
func (c *Config) ScopeArea() (*device.Area, error) {
	if c.Scope.Area == "" {
		return nil, nil
	}
	return device.ParseArea(c.Scope.Area)
}

// Save writes the configuration to path.
func (c Config) Save(path string) error {
	buf, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return os.WriteFile(path, buf, 0644)
}
