package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
)

const EnvVarPrefix = "OP_TESTR"

func prefixEnvVars(name string) []string {
	return opservice.PrefixEnvVar(EnvVarPrefix, name)
}

// Selection flags
var (
	ExcludeFile = &cli.StringFlag{
		Name:    "blacklist-file",
		Aliases: []string{"b", "exclude-list"},
		EnvVars: prefixEnvVars("BLACKLIST_FILE"),
		Usage:   "Path to an exclude file holding one regex per line, optionally followed by '# comment'",
	}
	IncludeFile = &cli.StringFlag{
		Name:    "whitelist-file",
		Aliases: []string{"w", "include-list"},
		EnvVars: prefixEnvVars("WHITELIST_FILE"),
		Usage:   "Path to an include file holding one regex per line",
	}
	Regex = &cli.StringFlag{
		Name:    "regex",
		Aliases: []string{"r"},
		EnvVars: prefixEnvVars("REGEX"),
		Usage:   "A normal test selection regex",
	}
	Path = &cli.StringFlag{
		Name:    "path",
		EnvVars: prefixEnvVars("PATH"),
		Usage:   "A file name or directory of tests to run",
	}
	NoDiscover = &cli.StringFlag{
		Name:    "no-discover",
		Aliases: []string{"n"},
		EnvVars: prefixEnvVars("NO_DISCOVER"),
		Usage:   "Run a single test id without test discovery. A file name may be used in place of a test id",
	}
	ExcludeRegex = &cli.StringFlag{
		Name:    "black-regex",
		Aliases: []string{"B", "exclude-regex"},
		EnvVars: prefixEnvVars("BLACK_REGEX"),
		Usage:   "Test rejection regex, applied after the include selection",
	}
	PrintExclude = &cli.BoolFlag{
		Name:    "print-exclude",
		EnvVars: prefixEnvVars("PRINT_EXCLUDE"),
		Usage:   "Print the message and the skipped tests of every exclude rule before the run",
	}
)

// Scheduler flags
var (
	Scheduler = &cli.StringFlag{
		Name:    "scheduler",
		Value:   "stestr",
		EnvVars: prefixEnvVars("SCHEDULER"),
		Usage:   "Test scheduler to drive: 'stestr' or 'go'",
	}
	WorkDir = &cli.StringFlag{
		Name:    "workdir",
		Value:   ".",
		EnvVars: prefixEnvVars("WORKDIR"),
		Usage:   "Directory the scheduler runs in",
	}
	Packages = &cli.StringSliceFlag{
		Name:    "packages",
		EnvVars: prefixEnvVars("PACKAGES"),
		Usage:   "Go package patterns for the go scheduler (default './...')",
	}
	StestrBinary = &cli.StringFlag{
		Name:    "stestr-binary",
		Value:   "stestr",
		EnvVars: prefixEnvVars("STESTR_BINARY"),
		Usage:   "Path to the stestr binary",
	}
	TestPath = &cli.StringFlag{
		Name:    "test-path",
		EnvVars: prefixEnvVars("TEST_PATH"),
		Usage:   "Directory stestr discovers tests in, overriding test_path of .stestr.conf",
	}
	GoBinary = &cli.StringFlag{
		Name:    "go-binary",
		Value:   "go",
		EnvVars: prefixEnvVars("GO_BINARY"),
		Usage:   "Path to the Go binary to use for running tests",
	}
	Parallel = &cli.BoolFlag{
		Name:    "parallel",
		EnvVars: prefixEnvVars("PARALLEL"),
		Usage:   "Run tests in parallel (this is the default)",
	}
	Serial = &cli.BoolFlag{
		Name:    "serial",
		EnvVars: prefixEnvVars("SERIAL"),
		Usage:   "Run tests serially",
	}
	Concurrency = &cli.IntFlag{
		Name:    "concurrency",
		Aliases: []string{"c"},
		EnvVars: prefixEnvVars("CONCURRENCY"),
		Usage:   "The number of workers to use when running in parallel. By default the scheduler decides",
	}
	UntilFailure = &cli.BoolFlag{
		Name:    "until-failure",
		EnvVars: prefixEnvVars("UNTIL_FAILURE"),
		Usage:   "Run the tests in a loop until a failure is encountered",
	}
	ListTests = &cli.BoolFlag{
		Name:    "list",
		Aliases: []string{"l"},
		EnvVars: prefixEnvVars("LIST"),
		Usage:   "List all the tests which will be run",
	}
	ConfigFile = &cli.StringFlag{
		Name:    "config",
		EnvVars: prefixEnvVars("CONFIG"),
		Usage:   "Path to a YAML profile providing defaults for the run flags",
	}
)

// Output flags
var (
	Pretty = &cli.BoolFlag{
		Name:    "pretty",
		Aliases: []string{"p"},
		EnvVars: prefixEnvVars("PRETTY"),
		Usage:   "Print the live trace (this is the default). Mutually exclusive with --subunit",
	}
	NoPretty = &cli.BoolFlag{
		Name:    "no-pretty",
		EnvVars: prefixEnvVars("NO_PRETTY"),
		Usage:   "Disable the live trace",
	}
	Subunit = &cli.BoolFlag{
		Name:    "subunit",
		Aliases: []string{"s"},
		EnvVars: prefixEnvVars("SUBUNIT"),
		Usage:   "Write the subunit v2 stream of the run to stdout instead of the trace",
	}
	Color = &cli.StringFlag{
		Name:    "color",
		Value:   "auto",
		EnvVars: prefixEnvVars("COLOR"),
		Usage:   "Colour the trace: 'auto', 'always' or 'never'",
	}
	Slowest = &cli.BoolFlag{
		Name:    "slowest",
		EnvVars: prefixEnvVars("SLOWEST"),
		Usage:   "After the run print the slowest tests (this is the default)",
	}
	NoSlowest = &cli.BoolFlag{
		Name:    "no-slowest",
		EnvVars: prefixEnvVars("NO_SLOWEST"),
		Usage:   "After the run don't print the slowest tests",
	}
	SlowestCount = &cli.IntFlag{
		Name:    "slowest-count",
		Value:   10,
		EnvVars: prefixEnvVars("SLOWEST_COUNT"),
		Usage:   "Number of tests listed in the slowest tests section",
	}
	SubunitOutput = &cli.StringFlag{
		Name:    "subunit-output",
		EnvVars: prefixEnvVars("SUBUNIT_OUTPUT"),
		Usage:   "Write a raw copy of the input stream to this file",
	}
	HTMLOutput = &cli.StringFlag{
		Name:    "html-output",
		EnvVars: prefixEnvVars("HTML_OUTPUT"),
		Usage:   "Write an HTML report of the run to this file",
	}
	HTMLTitle = &cli.StringFlag{
		Name:    "html-title",
		Value:   "Unit Test Report",
		EnvVars: prefixEnvVars("HTML_TITLE"),
		Usage:   "Title of the HTML report",
	}
	ResultsLog = &cli.StringFlag{
		Name:    "results-log",
		EnvVars: prefixEnvVars("RESULTS_LOG"),
		Usage:   "Write every test result with its captured output to this file",
	}
	MetricsFile = &cli.StringFlag{
		Name:    "metrics-file",
		EnvVars: prefixEnvVars("METRICS_FILE"),
		Usage:   "Write Prometheus metrics of the run to this file (textfile collector format)",
	}
)

// Trace flags
var (
	NoFailureDebug = &cli.BoolFlag{
		Name:    "no-failure-debug",
		Aliases: []string{"n"},
		EnvVars: prefixEnvVars("NO_FAILURE_DEBUG"),
		Usage:   "Disable printing failure debug information in realtime",
	}
	Fails = &cli.BoolFlag{
		Name:    "fails",
		Aliases: []string{"f"},
		EnvVars: prefixEnvVars("FAILS"),
		Usage:   "Print failure debug information after the stream is processed",
	}
	FailOnly = &cli.BoolFlag{
		Name:    "failonly",
		EnvVars: prefixEnvVars("FAILONLY"),
		Usage:   "Don't print success items",
	}
	Abbreviate = &cli.BoolFlag{
		Name:    "abbreviate",
		Aliases: []string{"a"},
		EnvVars: prefixEnvVars("ABBREVIATE"),
		Usage:   "Print one character status for each test",
	}
	NoSummary = &cli.BoolFlag{
		Name:    "no-summary",
		EnvVars: prefixEnvVars("NO_SUMMARY"),
		Usage:   "Don't print the summary of the test run after completion",
	}
	ShowInProgress = &cli.BoolFlag{
		Name:    "show-inprogress",
		EnvVars: prefixEnvVars("SHOW_INPROGRESS"),
		Usage:   "Print a line when a test starts",
	}
	ShowOutput = &cli.BoolFlag{
		Name:    "show-output",
		EnvVars: prefixEnvVars("SHOW_OUTPUT"),
		Usage:   "Print the captured stdout and stderr of passing tests",
	}
)

var selectionFlags = []cli.Flag{
	ExcludeFile,
	IncludeFile,
	Regex,
	Path,
	NoDiscover,
	ExcludeRegex,
	PrintExclude,
}

var schedulerFlags = []cli.Flag{
	Scheduler,
	WorkDir,
	Packages,
	StestrBinary,
	TestPath,
	GoBinary,
	Parallel,
	Serial,
	Concurrency,
	UntilFailure,
	ListTests,
	ConfigFile,
}

var outputFlags = []cli.Flag{
	Pretty,
	NoPretty,
	Subunit,
	Color,
	Slowest,
	NoSlowest,
	SlowestCount,
	SubunitOutput,
	HTMLOutput,
	HTMLTitle,
	ResultsLog,
	MetricsFile,
}

// TraceFlags are the flags of the trace subcommand.
var TraceFlags = []cli.Flag{
	NoFailureDebug,
	Fails,
	FailOnly,
	Abbreviate,
	NoSummary,
	ShowInProgress,
	ShowOutput,
	SlowestCount,
	Color,
	SubunitOutput,
	HTMLOutput,
	HTMLTitle,
	ResultsLog,
	MetricsFile,
}

// HTMLFlags are the flags of the html subcommand.
var HTMLFlags = []cli.Flag{
	HTMLTitle,
}

// Flags are the flags of the run command, the default action of the app.
var Flags []cli.Flag

// LogFlags are shared by every command.
var LogFlags = oplog.CLIFlags(EnvVarPrefix)

func init() {
	Flags = append(Flags, selectionFlags...)
	Flags = append(Flags, schedulerFlags...)
	Flags = append(Flags, outputFlags...)
	Flags = append(Flags, FailOnly, Abbreviate, ShowInProgress, ShowOutput)
}

// mutuallyExclusive lists flag groups of which at most one may be set.
var mutuallyExclusive = [][]*cli.BoolFlag{
	{Pretty, NoPretty},
	{Slowest, NoSlowest},
	{Parallel, Serial},
}

// CheckExclusive rejects contradicting pairs of boolean switches.
func CheckExclusive(ctx *cli.Context) error {
	for _, group := range mutuallyExclusive {
		var set []string
		for _, f := range group {
			if ctx.IsSet(f.Name) {
				set = append(set, "--"+f.Name)
			}
		}
		if len(set) > 1 {
			return fmt.Errorf("flags %s and %s cannot be used together", set[0], set[1])
		}
	}
	var selectors []string
	for _, f := range []*cli.StringFlag{Regex, Path, NoDiscover} {
		if ctx.IsSet(f.Name) {
			selectors = append(selectors, "--"+f.Name)
		}
	}
	if len(selectors) > 1 {
		return fmt.Errorf("flags %s and %s cannot be used together", selectors[0], selectors[1])
	}
	return nil
}
