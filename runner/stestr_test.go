package runner

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/op-testr/selection"
	"github.com/ethereum-optimism/op-testr/types"
)

// recordingBuilder records the arguments of every command and runs script
// through sh instead.
type recordingBuilder struct {
	script string
	calls  [][]string
}

func (b *recordingBuilder) build(ctx context.Context, name string, arg ...string) (*exec.Cmd, func()) {
	b.calls = append(b.calls, append([]string{name}, arg...))
	return exec.CommandContext(ctx, "sh", "-c", b.script), func() {}
}

func writeStestrConf(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, StestrConfigFile), []byte(content), 0644))
	return dir
}

func TestReadStestrConfig(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		dir := writeStestrConf(t, "[DEFAULT]\ntest_path=./tests\ntop_dir=./\n")
		testPath, err := ReadStestrConfig(filepath.Join(dir, StestrConfigFile))
		require.NoError(t, err)
		assert.Equal(t, "./tests", testPath)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := ReadStestrConfig(filepath.Join(t.TempDir(), StestrConfigFile))
		assert.True(t, types.IsConfigurationError(err))
	})

	t.Run("no test_path", func(t *testing.T) {
		dir := writeStestrConf(t, "[DEFAULT]\ntop_dir=./\n")
		_, err := ReadStestrConfig(filepath.Join(dir, StestrConfigFile))
		require.Error(t, err)
		assert.True(t, types.IsConfigurationError(err))
		assert.Contains(t, err.Error(), "does not set test_path")
	})
}

func TestNewStestrSchedulerNeedsConfigOrPath(t *testing.T) {
	_, err := NewStestrScheduler(StestrConfig{WorkDir: t.TempDir()})
	assert.True(t, types.IsConfigurationError(err))

	s, err := NewStestrScheduler(StestrConfig{WorkDir: t.TempDir(), TestPath: "tests"})
	require.NoError(t, err)
	assert.Equal(t, "stestr", s.Name())
}

func TestParseListing(t *testing.T) {
	out := "OS_STDOUT_CAPTURE=1\n" +
		"${PYTHON:-python} -m subunit.run discover -t ./ ./tests --list\n" +
		"tests.unit.test_a.TestA.test_one\n" +
		"\n" +
		"   tests.unit.test_a.TestA.test_two  \n" +
		"OS_TEST_TIMEOUT=60\n"
	assert.Equal(t, []string{
		"tests.unit.test_a.TestA.test_one",
		"tests.unit.test_a.TestA.test_two",
	}, ParseListing(out))
}

func TestStestrListTests(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	b := &recordingBuilder{script: "printf 'CAPTURE=1\\na.b.test1\\na.b.test2\\n'"}
	s, err := NewStestrScheduler(StestrConfig{TestPath: "tests", CmdBuilder: b.build})
	require.NoError(t, err)

	ids, err := s.ListTests(context.Background(), "a\\.b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.b.test1", "a.b.test2"}, ids)
	assert.Equal(t, [][]string{{"stestr", "--test-path", "tests", "list", "a\\.b"}}, b.calls)
}

func TestStestrListTestsFailure(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	b := &recordingBuilder{script: "echo broken >&2; exit 1"}
	s, err := NewStestrScheduler(StestrConfig{TestPath: "tests", CmdBuilder: b.build})
	require.NoError(t, err)

	_, err = s.ListTests(context.Background(), "")
	require.ErrorContains(t, err, "stestr list failed")
}

func TestStestrCommand(t *testing.T) {
	dir := writeStestrConf(t, "[DEFAULT]\ntest_path=./tests\n")

	tests := []struct {
		name string
		req  Request
		want []string
	}{
		{
			name: "regex",
			req:  Request{Selection: &selection.Selection{Regex: "network"}},
			want: []string{"stestr", "run", "--subunit", "network"},
		},
		{
			name: "serial until failure",
			req:  Request{Serial: true, UntilFailure: true, Concurrency: 4, Selection: &selection.Selection{}},
			want: []string{"stestr", "run", "--subunit", "--serial", "--until-failure"},
		},
		{
			name: "concurrency",
			req:  Request{Concurrency: 4, Extra: []string{"--random"}},
			want: []string{"stestr", "run", "--subunit", "--concurrency", "4", "--random"},
		},
		{
			name: "no discover",
			req:  Request{NoDiscover: "tests.test_a"},
			want: []string{"stestr", "run", "--subunit", "--no-discover", "tests.test_a"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &recordingBuilder{}
			s, err := NewStestrScheduler(StestrConfig{WorkDir: dir, CmdBuilder: b.build})
			require.NoError(t, err)

			_, cleanup, err := s.Command(context.Background(), tt.req)
			require.NoError(t, err)
			defer cleanup()
			assert.Equal(t, [][]string{tt.want}, b.calls)
		})
	}
}

func TestStestrCommandLoadList(t *testing.T) {
	b := &recordingBuilder{}
	s, err := NewStestrScheduler(StestrConfig{TestPath: "tests", CmdBuilder: b.build})
	require.NoError(t, err)

	sel := &selection.Selection{
		Materialized: true,
		Tests:        []types.TestID{"a.b.test1", "a.c.test3"},
	}
	_, cleanup, err := s.Command(context.Background(), Request{Selection: sel})
	require.NoError(t, err)

	require.Len(t, b.calls, 1)
	args := b.calls[0]
	require.Equal(t, []string{"stestr", "--test-path", "tests", "run", "--subunit", "--load-list"}, args[:len(args)-1])
	listFile := args[len(args)-1]

	content, err := os.ReadFile(listFile)
	require.NoError(t, err)
	assert.Equal(t, "a.b.test1\na.c.test3\n", string(content))

	cleanup()
	_, err = os.Stat(listFile)
	assert.True(t, os.IsNotExist(err), "load list is removed by cleanup")
}

func TestStestrCommandEmptySelection(t *testing.T) {
	s, err := NewStestrScheduler(StestrConfig{TestPath: "tests", CmdBuilder: (&recordingBuilder{}).build})
	require.NoError(t, err)

	_, _, err = s.Command(context.Background(), Request{
		Selection: &selection.Selection{Materialized: true, Tests: []types.TestID{}},
	})
	assert.ErrorIs(t, err, ErrNoTestsSelected)
}
