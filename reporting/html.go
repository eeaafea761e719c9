package reporting

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/acarl005/stripansi"
	"golang.org/x/text/encoding/unicode"

	"github.com/ethereum-optimism/op-testr/types"
)

const (
	DefaultHTMLTitle    = "Unit Test Report"
	HTMLResultsFilename = "results.html"
)

// HTMLOptions configures an HTMLRenderer.
type HTMLOptions struct {
	Title string
	// RunID is shown in the report header when set.
	RunID string
}

// HTMLRenderer collects results and renders them as a static HTML report.
type HTMLRenderer struct {
	opts    HTMLOptions
	tmpl    *template.Template
	results []*types.TestResult
	// passed overrides the verdict derived from the collected results
	passed *bool
}

// NewHTMLRenderer creates a new HTMLRenderer
func NewHTMLRenderer(opts HTMLOptions) (*HTMLRenderer, error) {
	if opts.Title == "" {
		opts.Title = DefaultHTMLTitle
	}
	tmpl, err := loadTemplate(HTMLReportTemplate)
	if err != nil {
		return nil, err
	}
	return &HTMLRenderer{opts: opts, tmpl: tmpl}, nil
}

// Consume collects a closed result.
func (h *HTMLRenderer) Consume(result *types.TestResult) error {
	if result == nil {
		return fmt.Errorf("nil result")
	}
	h.results = append(h.results, result)
	return nil
}

// SetPassed fixes the verdict of the report to the outcome of the run, which
// also accounts for tests that never finished.
func (h *HTMLRenderer) SetPassed(passed bool) {
	h.passed = &passed
}

// Render writes the report to w.
func (h *HTMLRenderer) Render(w io.Writer) error {
	var buf bytes.Buffer
	if err := h.tmpl.Execute(&buf, h.reportData()); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// WriteFile renders the report to path.
func (h *HTMLRenderer) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create HTML report %s: %w", path, err)
	}
	if err := h.Render(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReportGroup holds the results sharing a class path.
type ReportGroup struct {
	ClassPath   string
	Entries     []*ReportEntry
	HasFailures bool

	Count, Passed, Failed, Errored, Skipped int
}

// ReportEntry is the rendered form of one result.
type ReportEntry struct {
	Name        string
	Status      types.TestStatus
	Duration    string
	Attachments []ReportAttachment
}

// ReportAttachment is a detail payload decoded for display.
type ReportAttachment struct {
	Name string
	Text string
}

type reportData struct {
	Title     string
	RunID     string
	StartTime string
	Duration  string
	Verdict   string
	Groups    []*ReportGroup

	Total, Passed, Failed, Errored, Skipped int
}

func (h *HTMLRenderer) reportData() *reportData {
	data := &reportData{
		Title:  h.opts.Title,
		RunID:  h.opts.RunID,
		Groups: BuildGroups(h.results),
	}
	for _, g := range data.Groups {
		data.Total += g.Count
		data.Passed += g.Passed
		data.Failed += g.Failed
		data.Errored += g.Errored
		data.Skipped += g.Skipped
	}
	// xfail counts as passing but does not make a run pass on its own
	succeeded := 0
	var first, last *time.Time
	for _, r := range h.results {
		if r.Status == types.TestStatusSuccess {
			succeeded++
		}
		if r.Start != nil && (first == nil || r.Start.Before(*first)) {
			first = r.Start
		}
		if r.Stop != nil && (last == nil || r.Stop.After(*last)) {
			last = r.Stop
		}
	}
	if first != nil {
		data.StartTime = first.UTC().Format("2006-01-02 15:04:05")
	}
	if first != nil && last != nil {
		data.Duration = types.FormatSeconds(last.Sub(*first))
	}

	passed := data.Failed+data.Errored == 0 && succeeded > 0
	if h.passed != nil {
		passed = *h.passed
	}
	data.Verdict = "FAIL"
	if passed {
		data.Verdict = "PASS"
	}
	return data
}

// BuildGroups groups results by class path. Groups holding a failing result
// come first; each tier is sorted by class path and results keep their
// encounter order.
func BuildGroups(results []*types.TestResult) []*ReportGroup {
	byClass := make(map[string]*ReportGroup)
	var groups []*ReportGroup
	for _, r := range results {
		cp := r.ID.ClassPath()
		g, ok := byClass[cp]
		if !ok {
			g = &ReportGroup{ClassPath: cp}
			byClass[cp] = g
			groups = append(groups, g)
		}
		g.add(r)
	}
	slices.SortStableFunc(groups, func(a, b *ReportGroup) int {
		if a.HasFailures != b.HasFailures {
			if a.HasFailures {
				return -1
			}
			return 1
		}
		return strings.Compare(a.ClassPath, b.ClassPath)
	})
	return groups
}

func (g *ReportGroup) add(r *types.TestResult) {
	g.Count++
	switch {
	case r.Status == types.TestStatusError:
		g.Errored++
	case r.Status.IsFailure():
		g.Failed++
	case r.Status == types.TestStatusSkip:
		g.Skipped++
	case r.Status.IsPassing():
		g.Passed++
	}
	if r.Status.IsFailure() {
		g.HasFailures = true
	}

	entry := &ReportEntry{
		Name:     r.ID.Method() + tagSuffix(r.ID),
		Status:   r.Status,
		Duration: r.DurationString(),
	}
	for _, a := range r.Details {
		text := SafeText(a.Data)
		if strings.TrimSpace(text) == "" {
			continue
		}
		entry.Attachments = append(entry.Attachments, ReportAttachment{Name: a.Name, Text: text})
	}
	g.Entries = append(g.Entries, entry)
}

func tagSuffix(id types.TestID) string {
	return strings.TrimPrefix(string(id), string(id.StripTags()))
}

// SafeText decodes b as UTF-8, replacing invalid sequences with U+FFFD, and
// strips terminal escape sequences.
func SafeText(b []byte) string {
	decoded, err := unicode.UTF8.NewDecoder().Bytes(b)
	if err != nil {
		decoded = []byte(strings.ToValidUTF8(string(b), "�"))
	}
	return stripansi.Strip(string(decoded))
}
