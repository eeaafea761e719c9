package testr

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/op-testr/flags"
	"github.com/ethereum-optimism/op-testr/selection"
	"github.com/ethereum-optimism/op-testr/types"
	"github.com/ethereum-optimism/op-testr/ui"
)

// SchedulerKind names an external test scheduler.
type SchedulerKind string

const (
	SchedulerStestr SchedulerKind = "stestr"
	SchedulerGo     SchedulerKind = "go"
)

func (k SchedulerKind) IsValid() bool {
	return k == SchedulerStestr || k == SchedulerGo
}

// Config holds the configuration of a run
type Config struct {
	Scheduler    SchedulerKind
	WorkDir      string
	Packages     []string // go package patterns
	StestrBinary string
	TestPath     string // stestr discovery dir, overrides .stestr.conf
	GoBinary     string

	Selection  selection.Options
	Path       string // file or directory of tests to run
	NoDiscover string // single test run without discovery
	Extra      []string

	Serial       bool
	Concurrency  int // 0 lets the scheduler decide
	UntilFailure bool
	ListOnly     bool

	Pretty         bool
	Subunit        bool
	Color          ui.ColorMode
	SlowestCount   int // 0 disables the slowest tests section
	FailOnly       bool
	Abbreviate     bool
	ShowInProgress bool
	ShowOutput     bool

	OutputConfig

	Stdout io.Writer
	Log    log.Logger
}

// Profile is the YAML file given with --config. Its values are defaults that
// explicit flags override.
type Profile struct {
	Scheduler     string   `yaml:"scheduler"`
	WorkDir       string   `yaml:"workdir"`
	Packages      []string `yaml:"packages"`
	TestPath      string   `yaml:"test_path"`
	ExcludeFile   string   `yaml:"exclude_file"`
	IncludeFile   string   `yaml:"include_file"`
	Regex         string   `yaml:"regex"`
	ExcludeRegex  string   `yaml:"exclude_regex"`
	Concurrency   int      `yaml:"concurrency"`
	Serial        bool     `yaml:"serial"`
	Color         string   `yaml:"color"`
	SlowestCount  *int     `yaml:"slowest_count"`
	SubunitOutput string   `yaml:"subunit_output"`
	HTMLOutput    string   `yaml:"html_output"`
	HTMLTitle     string   `yaml:"html_title"`
	ResultsLog    string   `yaml:"results_log"`
	MetricsFile   string   `yaml:"metrics_file"`
}

// LoadProfile reads a YAML profile. Unknown keys are rejected.
func LoadProfile(path string) (*Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, types.NewConfigurationError(err, "cannot read profile %s", path)
	}
	defer f.Close()

	var p Profile
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return nil, types.NewConfigurationError(err, "cannot parse profile %s", path)
	}
	return &p, nil
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckExclusive(ctx); err != nil {
		return nil, types.NewConfigurationError(err, "invalid flags")
	}

	profile := &Profile{}
	if path := ctx.String(flags.ConfigFile.Name); path != "" {
		var err error
		if profile, err = LoadProfile(path); err != nil {
			return nil, err
		}
	}

	str := func(f *cli.StringFlag, fallback string) string {
		if !ctx.IsSet(f.Name) && fallback != "" {
			return fallback
		}
		return ctx.String(f.Name)
	}
	num := func(f *cli.IntFlag, fallback *int) int {
		if !ctx.IsSet(f.Name) && fallback != nil {
			return *fallback
		}
		return ctx.Int(f.Name)
	}

	color, err := ui.ParseColorMode(str(flags.Color, profile.Color))
	if err != nil {
		return nil, types.NewConfigurationError(err, "invalid --%s", flags.Color.Name)
	}

	packages := ctx.StringSlice(flags.Packages.Name)
	if !ctx.IsSet(flags.Packages.Name) && len(profile.Packages) > 0 {
		packages = profile.Packages
	}

	subunit := ctx.Bool(flags.Subunit.Name)
	pretty := !ctx.Bool(flags.NoPretty.Name) && (!subunit || ctx.Bool(flags.Pretty.Name))

	slowestCount := num(flags.SlowestCount, profile.SlowestCount)
	if ctx.Bool(flags.NoSlowest.Name) {
		slowestCount = 0
	}

	workDir, err := filepath.Abs(str(flags.WorkDir, profile.WorkDir))
	if err != nil {
		return nil, types.NewConfigurationError(err, "cannot resolve work directory")
	}

	cfg := &Config{
		Scheduler:    SchedulerKind(str(flags.Scheduler, profile.Scheduler)),
		WorkDir:      workDir,
		Packages:     packages,
		StestrBinary: ctx.String(flags.StestrBinary.Name),
		TestPath:     str(flags.TestPath, profile.TestPath),
		GoBinary:     ctx.String(flags.GoBinary.Name),
		Selection: selection.Options{
			ExcludeFile:  str(flags.ExcludeFile, profile.ExcludeFile),
			IncludeFile:  str(flags.IncludeFile, profile.IncludeFile),
			Regex:        str(flags.Regex, profile.Regex),
			ExcludeRegex: str(flags.ExcludeRegex, profile.ExcludeRegex),
			PrintSkipped: ctx.Bool(flags.PrintExclude.Name),
		},
		Path:           ctx.String(flags.Path.Name),
		NoDiscover:     ctx.String(flags.NoDiscover.Name),
		Extra:          ctx.Args().Slice(),
		Serial:         ctx.Bool(flags.Serial.Name) || (!ctx.IsSet(flags.Parallel.Name) && profile.Serial),
		Concurrency:    num(flags.Concurrency, nonZero(profile.Concurrency)),
		UntilFailure:   ctx.Bool(flags.UntilFailure.Name),
		ListOnly:       ctx.Bool(flags.ListTests.Name),
		Pretty:         pretty,
		Subunit:        subunit,
		Color:          color,
		SlowestCount:   slowestCount,
		FailOnly:       ctx.Bool(flags.FailOnly.Name),
		Abbreviate:     ctx.Bool(flags.Abbreviate.Name),
		ShowInProgress: ctx.Bool(flags.ShowInProgress.Name),
		ShowOutput:     ctx.Bool(flags.ShowOutput.Name),
		OutputConfig: OutputConfig{
			SubunitOutput: str(flags.SubunitOutput, profile.SubunitOutput),
			HTMLOutput:    str(flags.HTMLOutput, profile.HTMLOutput),
			HTMLTitle:     str(flags.HTMLTitle, profile.HTMLTitle),
			ResultsLog:    str(flags.ResultsLog, profile.ResultsLog),
			MetricsFile:   str(flags.MetricsFile, profile.MetricsFile),
		},
		Stdout: os.Stdout,
		Log:    log,
	}
	if ctx.IsSet(flags.Pretty.Name) && subunit {
		return nil, types.NewConfigurationError(nil, "subunit output and pretty output cannot be specified at the same time")
	}

	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func nonZero(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

// Check validates the combination of options.
func (c *Config) Check() error {
	fail := func(format string, args ...any) error {
		return types.NewConfigurationError(nil, format, args...)
	}

	if !c.Scheduler.IsValid() {
		return fail("invalid scheduler %q: must be one of %s, %s", c.Scheduler, SchedulerStestr, SchedulerGo)
	}
	if c.Pretty && c.Subunit {
		return fail("subunit output and pretty output cannot be specified at the same time")
	}
	if c.ListOnly && c.NoDiscover != "" {
		return fail("you can not list tests when you are bypassing discovery to run a single test")
	}
	if c.Serial && c.Concurrency > 0 {
		return fail("you can't specify a concurrency to use when running serially")
	}
	if c.Concurrency < 0 {
		return fail("concurrency must not be negative")
	}
	if c.SlowestCount < 0 {
		return fail("slowest count must not be negative")
	}
	if c.NoDiscover != "" {
		switch {
		case c.UntilFailure:
			return fail("you can not use until-failure mode with no-discover")
		case c.Selection.ExcludeFile != "" || c.Selection.IncludeFile != "":
			return fail("you can not use an exclude or include file with no-discover")
		case c.Selection.ExcludeRegex != "":
			return fail("you can not use an exclude regex with no-discover")
		case len(c.Extra) > 0:
			return fail("unexpected arguments: %s", strings.Join(c.Extra, " "))
		}
	}
	var selectors []string
	for name, v := range map[string]string{"regex": c.Selection.Regex, "path": c.Path, "no-discover": c.NoDiscover} {
		if v != "" {
			selectors = append(selectors, name)
		}
	}
	if len(selectors) > 1 {
		return fail("only one of regex, path and no-discover may be given")
	}
	return nil
}

// SelectionOptions returns the selection inputs of the run. For stestr a test
// path becomes the dotted module regex; the go scheduler takes it as a
// package pattern instead.
func (c *Config) SelectionOptions() selection.Options {
	opts := c.Selection
	if c.Path != "" && c.Scheduler == SchedulerStestr {
		opts.Regex = selection.PathToRegex(c.Path)
	}
	opts.Out = c.Stdout
	return opts
}

// NoDiscoverID returns the test to run without discovery. A stestr test given
// as a file path is turned into its module id.
func (c *Config) NoDiscoverID() string {
	if c.Scheduler == SchedulerStestr && strings.Contains(c.NoDiscover, "/") {
		return selection.PathToRegex(c.NoDiscover)
	}
	return c.NoDiscover
}

func (c *Config) String() string {
	return fmt.Sprintf("scheduler=%s workdir=%s regex=%q pretty=%t subunit=%t",
		c.Scheduler, c.WorkDir, c.Selection.Regex, c.Pretty, c.Subunit)
}
