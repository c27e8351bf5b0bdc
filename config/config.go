package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"github.com/mit-pdos/go-floppy/common"
	"github.com/mit-pdos/go-floppy/fdc"
	"github.com/mit-pdos/go-floppy/floppy"
	"github.com/mit-pdos/go-floppy/fs"
	"github.com/mit-pdos/go-floppy/super"
	"github.com/mit-pdos/go-floppy/util"
)

const envVarPrefix = "FLOPPY"

// Config describes one drive and the filesystem on it. Values come from
// Default, then the YAML file named by FLOPPY_CONFIG_FILE, then FLOPPY_*
// environment variables.
type Config struct {
	// Image is the file holding the emulated medium; empty means memory.
	Image             string          `envconfig:"IMAGE"               yaml:"image"`
	Geometry          common.Geometry `envconfig:"GEOMETRY"            yaml:"geometry"`
	MaxRetries        uint64          `envconfig:"MAX_RETRIES"         yaml:"maxRetries"`
	PollLimit         uint64          `envconfig:"POLL_LIMIT"          yaml:"pollLimit"`
	DummyWaits        uint64          `envconfig:"DUMMY_WAITS"         yaml:"dummyWaits"`
	Pause             time.Duration   `envconfig:"PAUSE"               yaml:"pause"` // 0 yields
	TableBlocks       uint64          `envconfig:"TABLE_BLOCKS"        yaml:"tableBlocks"`
	DefaultFileBlocks uint64          `envconfig:"DEFAULT_FILE_BLOCKS" yaml:"defaultFileBlocks"`
	LogLevel          string          `envconfig:"LOG_LEVEL"           yaml:"logLevel"`
	Debug             uint64          `envconfig:"DEBUG"               yaml:"debug"`
	FormatIfBlank     bool            `envconfig:"FORMAT_IF_BLANK"     yaml:"formatIfBlank"`
	WriteProtect      bool            `envconfig:"WRITE_PROTECT"       yaml:"writeProtect"`
	VolumeName        string          `envconfig:"VOLUME_NAME"         yaml:"volumeName"`
	// Controller is "primary" or "secondary".
	Controller string `envconfig:"CONTROLLER" yaml:"controller"`
	Drive      uint8  `envconfig:"DRIVE"      yaml:"drive"`
	// CMOS, when set, is the CMOS floppy register; it chooses Controller,
	// Drive and Geometry.
	CMOS      uint8         `envconfig:"CMOS"       yaml:"cmos"`
	SpinUp    uint64        `envconfig:"SPIN_UP"    yaml:"spinUp"`
	MotorIdle time.Duration `envconfig:"MOTOR_IDLE" yaml:"motorIdle"`
}

var controllers = map[string]uint16{
	"primary":   fdc.PRIMARY,
	"secondary": fdc.SECONDARY,
}

func Default() Config {
	return Config{
		Geometry:          common.HD144,
		MaxRetries:        common.MAXRETRIES,
		PollLimit:         fdc.DEFAULT_POLL_LIMIT,
		DummyWaits:        fdc.DEFAULT_DUMMY_WAITS,
		TableBlocks:       common.NTABLEBLK,
		DefaultFileBlocks: common.NDEFAULTBLK,
		LogLevel:          "info",
		Controller:        "primary",
		SpinUp:            fdc.DEFAULT_SPIN_UP,
	}
}

func LoadConfig() (*Config, error) {
	return LoadFile(os.Getenv(envVarPrefix + "_CONFIG_FILE"))
}

// LoadFile is LoadConfig with an explicit file; an empty path or a missing
// file leaves the defaults in place.
func LoadFile(configFile string) (*Config, error) {
	c := Default()
	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err == nil {
			if err := yaml.UnmarshalStrict(data, &c); err != nil {
				return nil, fmt.Errorf("unmarshaling config file: %w", err)
			}
		}
	}

	if err := envconfig.Process(envVarPrefix, &c); err != nil {
		return nil, fmt.Errorf("parsing environment variables: %w", err)
	}
	if err := c.ApplyCMOS(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	if y, e := func() (string, string) {
		if !c.Geometry.Valid() {
			return "geometry", "GEOMETRY"
		}
		if c.PollLimit == 0 {
			return "pollLimit", "POLL_LIMIT"
		}
		if c.DummyWaits == 0 {
			return "dummyWaits", "DUMMY_WAITS"
		}
		if c.TableBlocks == 0 || 1+c.TableBlocks >= c.Geometry.TotalSectors() {
			return "tableBlocks", "TABLE_BLOCKS"
		}
		if c.DefaultFileBlocks == 0 {
			return "defaultFileBlocks", "DEFAULT_FILE_BLOCKS"
		}
		if super.ValidateName(c.VolumeName) != nil {
			return "volumeName", "VOLUME_NAME"
		}
		if _, ok := controllers[c.Controller]; !ok {
			return "controller", "CONTROLLER"
		}
		if c.Drive > 3 {
			return "drive", "DRIVE"
		}
		return "", ""
	}(); y != "" {
		return fmt.Errorf(
			"invalid configuration: %s / %s_%s",
			y,
			envVarPrefix,
			e,
		)
	}
	return nil
}

// ApplyCMOS replaces Controller, Drive and Geometry with the drive the
// CMOS register describes. It does nothing when CMOS is unset.
func (c *Config) ApplyCMOS() error {
	if c.CMOS == 0 {
		return nil
	}
	opts, err := fdc.FromCMOS(c.CMOS, c.ControllerOptions())
	if err != nil {
		return fmt.Errorf("cmos %#02x: %w", c.CMOS, err)
	}
	for name, base := range controllers {
		if base == opts.Base {
			c.Controller = name
		}
	}
	c.Drive = opts.Drive
	c.Geometry = opts.Geometry
	return nil
}

// ApplyLogging points util's logger at the configured level and verbosity.
func (c *Config) ApplyLogging() error {
	if err := util.SetLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	util.Debug = c.Debug
	return nil
}

func (c *Config) Delay() fdc.Delay {
	if c.Pause == 0 {
		return fdc.Yield
	}
	return fdc.Sleep(c.Pause)
}

func (c *Config) ControllerOptions() fdc.Options {
	opts := fdc.DefaultOptions()
	opts.PollLimit = c.PollLimit
	opts.DummyWaits = c.DummyWaits
	opts.Geometry = c.Geometry
	if base, ok := controllers[c.Controller]; ok {
		opts.Base = base
	}
	opts.Drive = c.Drive
	opts.SpinUp = c.SpinUp
	opts.MotorIdle = c.MotorIdle
	return opts
}

func (c *Config) DriverOptions() floppy.Options {
	return floppy.Options{
		MaxRetries:  c.MaxRetries,
		TableBlocks: c.TableBlocks,
		VolumeName:  c.VolumeName,
	}
}

func (c *Config) FsOptions() fs.Options {
	return fs.Options{
		TableBlocks:       c.TableBlocks,
		DefaultFileBlocks: c.DefaultFileBlocks,
		VolumeName:        c.VolumeName,
	}
}
