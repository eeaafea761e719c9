package types

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// TestID names a single test case. It may carry a bracketed tag suffix,
// e.g. "pkg.Class.method[smoke,id-1234]".
type TestID string

// StripTags returns the id without its trailing "[...]" suffix.
func (id TestID) StripTags() TestID {
	s := string(id)
	if strings.HasSuffix(s, "]") {
		if i := strings.LastIndex(s, "["); i > 0 {
			return TestID(s[:i])
		}
	}
	return id
}

// ClassPath returns the id with its tags and final method segment removed.
// Go test ids split at the package/test boundary instead, and a bare import
// path (a package level failure) is its own class path. An id without a dot
// is its own class path.
func (id TestID) ClassPath() string {
	s := string(id.StripTags())
	if pkg, _, ok := SplitGoTestID(s); ok {
		return pkg
	}
	if strings.Contains(s, "/") {
		return s
	}
	if i := strings.LastIndex(s, "."); i > 0 {
		return s[:i]
	}
	return s
}

// Method returns the final dot-delimited segment of the id, without tags.
// For Go test ids it is the test name including any subtest path.
func (id TestID) Method() string {
	s := string(id.StripTags())
	if _, test, ok := SplitGoTestID(s); ok {
		return test
	}
	if strings.Contains(s, "/") {
		return s
	}
	if i := strings.LastIndex(s, "."); i >= 0 {
		return s[i+1:]
	}
	return s
}

// SplitGoTestID splits "<import path>.<TestName>[/sub...]" at the first
// boundary where a valid top-level test name starts.
func SplitGoTestID(id string) (pkg, test string, ok bool) {
	for off := 0; off < len(id); {
		i := strings.Index(id[off:], ".Test")
		if i < 0 {
			break
		}
		i += off
		name := id[i+1:]
		if end := strings.Index(name, "/"); end >= 0 {
			name = name[:end]
		}
		if i > 0 && IsGoTestName(name) {
			return id[:i], id[i+1:], true
		}
		off = i + 1
	}
	return "", "", false
}

// IsGoTestName follows the go test rule: an identifier made of "Test"
// followed by nothing or by a rune that is not lower case. TestMain is not
// a test.
func IsGoTestName(name string) bool {
	if !strings.HasPrefix(name, "Test") || name == "TestMain" {
		return false
	}
	for _, r := range name {
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	if len(name) == len("Test") {
		return true
	}
	r, _ := utf8.DecodeRuneInString(name[len("Test"):])
	return !unicode.IsLower(r)
}

// TestStatus is the lifecycle status carried by a stream event or result.
type TestStatus string

const (
	TestStatusUnknown    TestStatus = ""
	TestStatusExists     TestStatus = "exists"
	TestStatusInProgress TestStatus = "inprogress"
	TestStatusSuccess    TestStatus = "success"
	TestStatusFail       TestStatus = "fail"
	TestStatusError      TestStatus = "error"
	TestStatusSkip       TestStatus = "skip"
	TestStatusXFail      TestStatus = "xfail"
	TestStatusUXSuccess  TestStatus = "uxsuccess"
)

// IsTerminal reports whether the status closes a test record.
func (s TestStatus) IsTerminal() bool {
	switch s {
	case TestStatusSuccess, TestStatusFail, TestStatusError, TestStatusSkip, TestStatusXFail, TestStatusUXSuccess:
		return true
	}
	return false
}

// IsFailure reports whether the status makes a run fail.
func (s TestStatus) IsFailure() bool {
	return s == TestStatusFail || s == TestStatusError || s == TestStatusUXSuccess
}

// IsPassing reports whether the status counts as a passing test.
func (s TestStatus) IsPassing() bool {
	return s == TestStatusSuccess || s == TestStatusXFail
}

// ParseTestStatus maps a status name onto a TestStatus.
func ParseTestStatus(name string) (TestStatus, error) {
	s := TestStatus(strings.ToLower(strings.TrimSpace(name)))
	switch s {
	case TestStatusUnknown, TestStatusExists, TestStatusInProgress:
		return s, nil
	}
	if s.IsTerminal() {
		return s, nil
	}
	return TestStatusUnknown, fmt.Errorf("unknown test status %q", name)
}

// TestResult is one inprogress/terminal cycle of a test. A test id executed
// several times in one stream produces several results, told apart by Seq.
type TestResult struct {
	Seq     int
	ID      TestID
	Status  TestStatus
	Start   *time.Time
	Stop    *time.Time
	Worker  string
	Tags    []string
	Details Details
}

// Closed reports whether the result has received its terminal status.
func (r *TestResult) Closed() bool {
	return r.Status.IsTerminal()
}

// Duration returns stop - start. ok is false when either timestamp is missing.
func (r *TestResult) Duration() (d time.Duration, ok bool) {
	if r.Start == nil || r.Stop == nil {
		return 0, false
	}
	return r.Stop.Sub(*r.Start), true
}

// DurationString renders the duration in seconds with microsecond precision,
// or the empty string when it cannot be computed.
func (r *TestResult) DurationString() string {
	d, ok := r.Duration()
	if !ok {
		return ""
	}
	return FormatSeconds(d)
}

// FormatSeconds renders d as "%.6fs".
func FormatSeconds(d time.Duration) string {
	return fmt.Sprintf("%.6fs", d.Seconds())
}
