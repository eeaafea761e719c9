package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/ini.v1"

	"github.com/ethereum-optimism/op-testr/types"
)

var _ Scheduler = (*StestrScheduler)(nil)

// StestrConfig configures a StestrScheduler.
type StestrConfig struct {
	Binary  string
	WorkDir string
	// TestPath overrides test_path of .stestr.conf. The config file may be
	// absent when it is set.
	TestPath   string
	CmdBuilder CommandBuilder
	Log        log.Logger
}

// StestrScheduler runs subunit-speaking Python suites through stestr.
type StestrScheduler struct {
	binary     string
	workDir    string
	testPath   string
	cmdBuilder CommandBuilder
	log        log.Logger
}

// NewStestrScheduler validates the stestr configuration of the work dir.
func NewStestrScheduler(cfg StestrConfig) (*StestrScheduler, error) {
	if cfg.Binary == "" {
		cfg.Binary = DefaultStestrBinary
	}
	if cfg.CmdBuilder == nil {
		cfg.CmdBuilder = DefaultCommandBuilder(cfg.WorkDir)
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	if cfg.TestPath == "" {
		testPath, err := ReadStestrConfig(filepath.Join(cfg.WorkDir, StestrConfigFile))
		if err != nil {
			return nil, err
		}
		cfg.Log.Debug("Loaded stestr config", "test_path", testPath)
	}

	return &StestrScheduler{
		binary:     cfg.Binary,
		workDir:    cfg.WorkDir,
		testPath:   cfg.TestPath,
		cmdBuilder: cfg.CmdBuilder,
		log:        cfg.Log,
	}, nil
}

// ReadStestrConfig returns the test_path declared by a .stestr.conf file.
func ReadStestrConfig(path string) (string, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return "", types.NewConfigurationError(err, "no %s found and no test path given", StestrConfigFile)
	}
	cfg, err := ini.Load(path)
	if err != nil {
		return "", types.NewConfigurationError(err, "cannot parse %s", path)
	}
	testPath := cfg.Section(ini.DefaultSection).Key(StestrTestPathKey).String()
	if testPath == "" {
		return "", types.NewConfigurationError(nil, "%s does not set %s", path, StestrTestPathKey)
	}
	return testPath, nil
}

func (s *StestrScheduler) Name() string {
	return StestrSchedulerName
}

func (s *StestrScheduler) globalArgs() []string {
	if s.testPath == "" {
		return nil
	}
	return []string{StestrTestPathFlag, s.testPath}
}

// ListTests runs `stestr list` and drops scheduler chatter from its output.
func (s *StestrScheduler) ListTests(ctx context.Context, seed string) ([]string, error) {
	args := append(s.globalArgs(), StestrListCommand)
	if seed != "" {
		args = append(args, seed)
	}

	cmd, cleanup := s.cmdBuilder(ctx, s.binary, args...)
	defer cleanup()

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		s.log.Error("Listing tests failed", "scheduler", s.Name(), "stderr", stderr.String())
		return nil, fmt.Errorf("%s %s failed: %w", s.binary, StestrListCommand, err)
	}
	return ParseListing(string(out)), nil
}

// ParseListing splits a scheduler listing into test ids, skipping blank lines
// and lines carrying environment or discovery noise.
func ParseListing(out string) []string {
	var ids []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || isJunk(line) {
			continue
		}
		ids = append(ids, line)
	}
	return ids
}

func isJunk(line string) bool {
	for _, junk := range listingJunk {
		if strings.Contains(line, junk) {
			return true
		}
	}
	return false
}

// Command builds `stestr run --subunit ...`. A materialised selection is
// passed through a temporary --load-list file removed by the cleanup.
func (s *StestrScheduler) Command(ctx context.Context, req Request) (*exec.Cmd, func(), error) {
	args := append(s.globalArgs(), StestrRunCommand, StestrSubunitFlag)
	if req.Serial {
		args = append(args, StestrSerialFlag)
	} else if req.Concurrency > 0 {
		args = append(args, StestrConcurrency, strconv.Itoa(req.Concurrency))
	}
	if req.UntilFailure {
		args = append(args, StestrUntilFailure)
	}

	removeList := func() {}
	switch {
	case req.NoDiscover != "":
		args = append(args, StestrNoDiscover, req.NoDiscover)
	case req.Selection != nil && req.Selection.Materialized:
		if len(req.Selection.Tests) == 0 {
			return nil, nil, ErrNoTestsSelected
		}
		listFile, err := writeLoadList(req.Selection.Tests)
		if err != nil {
			return nil, nil, err
		}
		removeList = func() { _ = os.Remove(listFile) }
		args = append(args, StestrLoadListFlag, listFile)
	case req.Selection != nil && req.Selection.Regex != "":
		args = append(args, req.Selection.Regex)
	}

	args = append(args, req.Extra...)

	s.log.Debug("Built scheduler command", "scheduler", s.Name(), "args", args)
	cmd, cleanup := s.cmdBuilder(ctx, s.binary, args...)
	return cmd, func() {
		cleanup()
		removeList()
	}, nil
}

func writeLoadList(ids []types.TestID) (string, error) {
	f, err := os.CreateTemp("", "op-testr-load-list-*.txt")
	if err != nil {
		return "", fmt.Errorf("failed to create load list: %w", err)
	}
	var sb strings.Builder
	for _, id := range ids {
		sb.WriteString(string(id) + "\n")
	}
	if _, err := f.WriteString(sb.String()); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to write load list: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to write load list: %w", err)
	}
	return f.Name(), nil
}
