package testr

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/op-testr/exitcodes"
	"github.com/ethereum-optimism/op-testr/reporting"
	"github.com/ethereum-optimism/op-testr/stream"
	"github.com/ethereum-optimism/op-testr/trace"
	"github.com/ethereum-optimism/op-testr/types"
	"github.com/ethereum-optimism/op-testr/ui"
)

var generateStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func generated(t *testing.T, status types.TestStatus, id types.TestID) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Generate(&buf, generateStart, 1500*time.Millisecond, status, id))
	return buf.Bytes()
}

func traceConfig(in []byte) (*TraceConfig, *bytes.Buffer) {
	var out bytes.Buffer
	return &TraceConfig{
		Options: trace.DefaultOptions(),
		Color:   ui.ColorNever,
		In:      bytes.NewReader(in),
		Stdout:  &out,
		Log:     log.NewLogger(log.DiscardHandler()),
	}, &out
}

func TestGenerate(t *testing.T) {
	events, err := stream.ReadAll(stream.NewDecoder(bytes.NewReader(generated(t, types.TestStatusSuccess, "devstack"))))
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, types.TestStatusInProgress, events[0].Status)
	assert.True(t, generateStart.Equal(*events[0].Timestamp))
	assert.Equal(t, types.TestStatusSuccess, events[1].Status)
	assert.True(t, generateStart.Add(1500*time.Millisecond).Equal(*events[1].Timestamp))
	assert.Equal(t, types.TestID("devstack"), events[1].TestID)
}

func TestGenerateRejectsInvalidInput(t *testing.T) {
	var buf bytes.Buffer
	require.True(t, types.IsConfigurationError(Generate(&buf, generateStart, time.Second, types.TestStatusInProgress, "x")))
	require.True(t, types.IsConfigurationError(Generate(&buf, generateStart, time.Second, types.TestStatusSuccess, "")))
	require.True(t, types.IsConfigurationError(Generate(&buf, generateStart, -time.Second, types.TestStatusSuccess, "x")))
	require.Zero(t, buf.Len())
}

func TestEpochTime(t *testing.T) {
	require.Equal(t, time.Unix(1700000000, 250_000_000).UTC(), EpochTime(1700000000.25))
}

func TestRunTrace(t *testing.T) {
	cfg, out := traceConfig(generated(t, types.TestStatusSuccess, "pkg.A.test_a"))
	summary, err := RunTrace(cfg)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Total())

	assert.Contains(t, out.String(), "{0} pkg.A.test_a [1.500000s] ... ok")
	assert.True(t, strings.HasSuffix(out.String(), "PASS\n"))
}

func TestRunTraceFailure(t *testing.T) {
	cfg, out := traceConfig(generated(t, types.TestStatusFail, "pkg.A.test_a"))
	_, err := RunTrace(cfg)
	require.Equal(t, exitcodes.TestFailure, ExitCode(err))
	assert.Contains(t, out.String(), "FAILED")
}

func TestRunTraceMalformedStream(t *testing.T) {
	in := append(generated(t, types.TestStatusSuccess, "pkg.A.test_a"), stream.Signature, 0x00, 0x00)
	cfg, out := traceConfig(in)
	dir := t.TempDir()
	cfg.SubunitOutput = filepath.Join(dir, "raw.subunit")
	cfg.MetricsFile = filepath.Join(dir, "metrics.prom")

	summary, err := RunTrace(cfg)
	require.Error(t, err)
	require.True(t, stream.IsFormatError(err))
	require.Equal(t, exitcodes.RuntimeErr, ExitCode(err))

	// the partial report is still rendered
	require.Equal(t, 1, summary.Total())
	assert.Contains(t, out.String(), "pkg.A.test_a")

	raw, err := os.ReadFile(cfg.SubunitOutput)
	require.NoError(t, err)
	require.Equal(t, in, raw)

	metrics, err := os.ReadFile(cfg.MetricsFile)
	require.NoError(t, err)
	require.Contains(t, string(metrics), `testr_errors_total{error="trace.`)
}

func TestRenderHTML(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.subunit")
	data := append(generated(t, types.TestStatusFail, "pkg.A.test_a"), generated(t, types.TestStatusSuccess, "pkg.B.test_b")...)
	require.NoError(t, os.WriteFile(input, data, 0o644))

	output := filepath.Join(dir, "report.html")
	require.NoError(t, RenderHTML(input, output, "Nightly"))

	html, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Contains(t, string(html), "<title>Nightly</title>")
	assert.Contains(t, string(html), "test_a")
	assert.Contains(t, string(html), "test_b")
}

func TestRenderHTMLVerdictFollowsRunOutcome(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.subunit")
	data := append(generated(t, types.TestStatusXFail, "pkg.A.test_a"), generated(t, types.TestStatusXFail, "pkg.B.test_b")...)
	require.NoError(t, os.WriteFile(input, data, 0o644))

	output := filepath.Join(dir, "report.html")
	require.NoError(t, RenderHTML(input, output, ""))
	html, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Contains(t, string(html), `<p id="verdict" class="FAIL">`)
}

func TestRenderHTMLDefaultOutput(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	input := filepath.Join(dir, "in.subunit")
	require.NoError(t, os.WriteFile(input, generated(t, types.TestStatusSuccess, "pkg.A.test_a"), 0o644))

	require.NoError(t, RenderHTML(input, "", ""))
	html, err := os.ReadFile(filepath.Join(dir, reporting.HTMLResultsFilename))
	require.NoError(t, err)
	assert.Contains(t, string(html), reporting.DefaultHTMLTitle)
}

func TestRenderHTMLMissingInput(t *testing.T) {
	err := RenderHTML(filepath.Join(t.TempDir(), "missing"), "", "")
	require.True(t, types.IsConfigurationError(err))
}
