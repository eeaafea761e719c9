package selection

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/ethereum-optimism/op-testr/types"
)

// ExcludeRule is one exclusion pattern and the ids it removed.
type ExcludeRule struct {
	Pattern string
	Message string
	Matched []types.TestID

	re *regexp.Regexp
}

// NewExcludeRule compiles pattern. An empty message is replaced by the
// default one naming the pattern.
func NewExcludeRule(pattern, message string) (*ExcludeRule, error) {
	re, err := compile(pattern)
	if err != nil {
		return nil, err
	}
	if message == "" {
		message = fmt.Sprintf("Skipped because of regex %s:", pattern)
	}
	return &ExcludeRule{Pattern: pattern, Message: message, re: re}, nil
}

// Match reports whether the rule matches id anywhere.
func (r *ExcludeRule) Match(id string) bool {
	return r.re.MatchString(id)
}

// ReadExcludeFile parses an exclude list. Each line holds a pattern, optionally
// followed by "#" and a comment used as the skip message.
func ReadExcludeFile(path string) ([]*ExcludeRule, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	var rules []*ExcludeRule
	for _, line := range lines {
		parts := strings.Split(strings.TrimSpace(line), "#")
		pattern := strings.TrimSpace(parts[0])
		if pattern == "" {
			continue
		}
		var comment string
		if len(parts) > 1 {
			comment = strings.TrimSpace(strings.Join(parts[1:], ""))
		}
		rule, err := NewExcludeRule(pattern, comment)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// ReadIncludeFile parses an include list and returns its patterns. Comments
// after "#" and blank lines are ignored.
func ReadIncludeFile(path string) ([]string, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	var patterns []string
	for _, line := range lines {
		pattern, _, _ := strings.Cut(line, "#")
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if _, err := compile(pattern); err != nil {
			return nil, err
		}
		patterns = append(patterns, pattern)
	}
	return patterns, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, types.NewConfigurationError(err, "cannot read list file %s", path)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, types.NewConfigurationError(err, "cannot read list file %s", path)
	}
	return lines, nil
}

func compile(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, &types.PatternError{Pattern: pattern, Err: err}
	}
	return re, nil
}
