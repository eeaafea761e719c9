package selection

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ethereum-optimism/op-testr/types"
)

// CommandLineExcludeMessage is reported for ids removed by the exclude regex
// given on the command line.
const CommandLineExcludeMessage = "Skipped because of regex provided as a command line argument:"

// Lister lists the ids of the tests a scheduler knows about. seed is a
// best-effort filter the scheduler may apply.
type Lister interface {
	ListTests(ctx context.Context, seed string) ([]string, error)
}

// Options describes which tests to select.
type Options struct {
	ExcludeFile  string
	IncludeFile  string
	Regex        string
	ExcludeRegex string
	PrintSkipped bool
	// Out receives the skipped tests when PrintSkipped is set.
	Out io.Writer
}

// Selection is the outcome of Build: either a regex handed to the scheduler as
// is, or the explicit list of ids to run when Materialized is set.
type Selection struct {
	Regex        string
	Tests        []types.TestID
	Materialized bool
	Excluded     []*ExcludeRule
}

// Build combines the include sources into one regex. When a list file or an
// exclude regex is given, it materialises the ids to run from the candidates
// returned by lister.
func Build(ctx context.Context, lister Lister, opts Options) (*Selection, error) {
	includes := []string{}
	if opts.Regex != "" {
		if _, err := compile(opts.Regex); err != nil {
			return nil, err
		}
		includes = append(includes, opts.Regex)
	}
	if opts.IncludeFile != "" {
		patterns, err := ReadIncludeFile(opts.IncludeFile)
		if err != nil {
			return nil, err
		}
		if len(patterns) > 0 {
			includes = append(includes, strings.Join(patterns, "|"))
		}
	}
	regex := strings.Join(includes, "|")

	var rules []*ExcludeRule
	if opts.ExcludeFile != "" {
		fileRules, err := ReadExcludeFile(opts.ExcludeFile)
		if err != nil {
			return nil, err
		}
		rules = append(rules, fileRules...)
	}
	if opts.ExcludeRegex != "" {
		rule, err := NewExcludeRule(opts.ExcludeRegex, CommandLineExcludeMessage)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	sel := &Selection{Regex: regex}
	if len(rules) == 0 && opts.IncludeFile == "" {
		return sel, nil
	}
	if lister == nil {
		return nil, fmt.Errorf("list files and exclusions need a test lister")
	}

	candidates, err := lister.ListTests(ctx, regex)
	if err != nil {
		return nil, fmt.Errorf("failed to list tests: %w", err)
	}
	sel.Tests, err = Filter(candidates, regex, rules)
	if err != nil {
		return nil, err
	}
	sel.Materialized = true
	sel.Excluded = rules

	if opts.PrintSkipped && opts.Out != nil {
		if err := PrintSkipped(opts.Out, rules); err != nil {
			return nil, err
		}
	}
	return sel, nil
}

// Filter keeps the candidates matching include (all of them when include is
// empty) and drops those matched by any rule. A dropped id is recorded on
// every rule matching it but removed only once. The result is sorted.
func Filter(candidates []string, include string, rules []*ExcludeRule) ([]types.TestID, error) {
	includeRe, err := compile(include)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var kept []types.TestID
	for _, id := range candidates {
		if seen[id] || !includeRe.MatchString(id) {
			continue
		}
		seen[id] = true

		excluded := false
		for _, rule := range rules {
			if rule.Match(id) {
				rule.Matched = append(rule.Matched, types.TestID(id))
				excluded = true
			}
		}
		if !excluded {
			kept = append(kept, types.TestID(id))
		}
	}
	slices.Sort(kept)
	if kept == nil {
		kept = []types.TestID{}
	}
	return kept, nil
}

// PrintSkipped writes, for every rule that removed ids, its message followed
// by the ids and a blank line.
func PrintSkipped(w io.Writer, rules []*ExcludeRule) error {
	for _, rule := range rules {
		if len(rule.Matched) == 0 {
			continue
		}
		var sb strings.Builder
		sb.WriteString(rule.Message + "\n")
		for _, id := range rule.Matched {
			sb.WriteString(string(id) + "\n")
		}
		sb.WriteString("\n")
		if _, err := io.WriteString(w, sb.String()); err != nil {
			return err
		}
	}
	return nil
}

// PathToRegex turns a test file path into the dotted module prefix of its
// tests, e.g. "tests/network/test_net.py" becomes "tests.network.test_net".
func PathToRegex(path string) string {
	path = filepath.ToSlash(filepath.Clean(path))
	path = strings.TrimSuffix(path, filepath.Ext(path))
	path = strings.TrimPrefix(path, "./")
	return strings.ReplaceAll(path, "/", ".")
}
