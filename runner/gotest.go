package runner

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/op-testr/selection"
	"github.com/ethereum-optimism/op-testr/testlist"
	"github.com/ethereum-optimism/op-testr/types"
)

var _ Scheduler = (*GoScheduler)(nil)

// GoConfig configures a GoScheduler.
type GoConfig struct {
	Binary  string
	WorkDir string
	// Packages are go package patterns, "./..." when empty.
	Packages   []string
	CmdBuilder CommandBuilder
	Log        log.Logger
}

// GoScheduler runs Go tests with `go test -json`. Test ids are
// "<import path>.<TestName>".
type GoScheduler struct {
	binary     string
	workDir    string
	packages   []string
	cmdBuilder CommandBuilder
	log        log.Logger
}

// NewGoScheduler creates a GoScheduler
func NewGoScheduler(cfg GoConfig) (*GoScheduler, error) {
	if cfg.WorkDir == "" {
		cfg.WorkDir = "."
	}
	if cfg.Binary == "" {
		cfg.Binary = DefaultGoBinary
	}
	if len(cfg.Packages) == 0 {
		cfg.Packages = []string{AllPackagesPattern}
	}
	if cfg.CmdBuilder == nil {
		cfg.CmdBuilder = DefaultCommandBuilder(cfg.WorkDir)
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	if _, err := testlist.ModulePath(cfg.WorkDir); err != nil {
		return nil, types.NewConfigurationError(err, "%s is not a go module", cfg.WorkDir)
	}

	return &GoScheduler{
		binary:     cfg.Binary,
		workDir:    cfg.WorkDir,
		packages:   cfg.Packages,
		cmdBuilder: cfg.CmdBuilder,
		log:        cfg.Log,
	}, nil
}

func (s *GoScheduler) Name() string {
	return GoSchedulerName
}

// ListTests discovers tests from the _test.go files of the configured
// packages. The seed is not applied; callers filter the candidates.
func (s *GoScheduler) ListTests(_ context.Context, _ string) ([]string, error) {
	return testlist.FindTestIDs(s.workDir, s.packages)
}

// Command builds `go test -json -count=1 ...`. One -run pattern is shared by
// all packages, so a test name selected in one package also runs in the
// others that declare it.
func (s *GoScheduler) Command(ctx context.Context, req Request) (*exec.Cmd, func(), error) {
	args := []string{TestCommand, JSONFlag, CountFlag, DisableCacheCount}
	if req.Serial {
		args = append(args, PackagesFlag, "1", ParallelFlag, "1")
	} else if req.Concurrency > 0 {
		n := strconv.Itoa(req.Concurrency)
		args = append(args, PackagesFlag, n, ParallelFlag, n)
	}
	args = append(args, req.Extra...)

	switch {
	case req.NoDiscover != "":
		pkg, test, ok := testlist.SplitTestID(req.NoDiscover)
		if !ok {
			return nil, nil, types.NewConfigurationError(nil, "%q is not a go test id", req.NoDiscover)
		}
		args = append(args, RunFlag, anchorSubtests(test), pkg)
	case req.Selection != nil && (req.Selection.Materialized || req.Selection.Regex != ""):
		ids, err := s.selectedIDs(ctx, req.Selection)
		if err != nil {
			return nil, nil, err
		}
		if len(ids) == 0 {
			return nil, nil, ErrNoTestsSelected
		}
		pkgs, pattern := RunPattern(ids)
		if len(pkgs) == 0 {
			return nil, nil, ErrNoTestsSelected
		}
		args = append(args, RunFlag, pattern)
		args = append(args, pkgs...)
	default:
		args = append(args, s.packages...)
	}

	s.log.Debug("Built scheduler command", "scheduler", s.Name(), "args", args)
	cmd, cleanup := s.cmdBuilder(ctx, s.binary, args...)
	return cmd, cleanup, nil
}

// selectedIDs materialises a regex selection, since -run only sees test
// names and not the package-qualified ids the regex is written against.
func (s *GoScheduler) selectedIDs(ctx context.Context, sel *selection.Selection) ([]types.TestID, error) {
	if sel.Materialized {
		return sel.Tests, nil
	}
	candidates, err := s.ListTests(ctx, sel.Regex)
	if err != nil {
		return nil, fmt.Errorf("failed to list tests: %w", err)
	}
	return selection.Filter(candidates, sel.Regex, nil)
}

// RunPattern groups go test ids into the sorted package list and a single
// anchored -run pattern over their top-level test names.
func RunPattern(ids []types.TestID) ([]string, string) {
	var pkgs, names []string
	for _, id := range ids {
		pkg, test, ok := testlist.SplitTestID(string(id))
		if !ok {
			continue
		}
		test, _, _ = strings.Cut(test, "/")
		pkgs = append(pkgs, pkg)
		names = append(names, regexp.QuoteMeta(test))
	}
	slices.Sort(pkgs)
	slices.Sort(names)
	pkgs = slices.Compact(pkgs)
	names = slices.Compact(names)
	return pkgs, "^(" + strings.Join(names, "|") + ")$"
}

func anchorSubtests(test string) string {
	parts := strings.Split(test, "/")
	for i, part := range parts {
		parts[i] = "^" + regexp.QuoteMeta(part) + "$"
	}
	return strings.Join(parts, "/")
}
