package shell_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/keel/internal/adapters/shell"
	"go.trai.ch/keel/internal/core/domain"
	"go.trai.ch/keel/internal/core/ports"
	"go.trai.ch/keel/internal/core/ports/mocks"
	"go.trai.ch/zerr"
	"go.uber.org/mock/gomock"
)

func testRequest(t *testing.T, command ...string) ports.CompileRequest {
	t.Helper()
	root := t.TempDir()
	id := domain.NewPackageID("greet", domain.MustParseVersion("0.3.0"), domain.NewPathSource(root))
	target := domain.Target{Kind: domain.TargetKindBin, Name: "greet", Entry: domain.DefaultBinEntry}
	return ports.CompileRequest{
		Unit: &domain.CompilationUnit{
			ID:      domain.NewUnitID(id, target),
			Package: domain.NewPackage(id, &domain.Manifest{}, filepath.Join(root, domain.ManifestFileName)),
			Target:  target,
		},
		Command: command,
		OutDir:  filepath.Join(root, "target", "greet"),
		DependencyDirs: map[domain.PackageName]string{
			"fmt":  "/out/fmt",
			"core": "/out/core",
		},
	}
}

func newCompiler(t *testing.T) *shell.Compiler {
	t.Helper()
	ctrl := gomock.NewController(t)
	mockLogger := mocks.NewMockLogger(ctrl)
	mockLogger.EXPECT().Debug(gomock.Any()).AnyTimes()
	return shell.NewCompiler(mockLogger)
}

func TestCompiler_Environment(t *testing.T) {
	script := `printf '%s\n' "$KEEL_PACKAGE" "$KEEL_VERSION" "$KEEL_TARGET_KIND" "$KEEL_TARGET_NAME" "$KEEL_DEPS" "$KEEL_UNIT" > "$KEEL_OUT_DIR/env.txt"`
	req := testRequest(t, "sh", "-c", script)

	var stdout, stderr bytes.Buffer
	require.NoError(t, newCompiler(t).Compile(context.Background(), req, &stdout, &stderr))

	data, err := os.ReadFile(filepath.Join(req.OutDir, "env.txt"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "greet", lines[0])
	assert.Equal(t, "0.3.0", lines[1])
	assert.Equal(t, "bin", lines[2])
	assert.Equal(t, "greet", lines[3])
	assert.Equal(t, "core=/out/core"+string(os.PathListSeparator)+"fmt=/out/fmt", lines[4])
	assert.Equal(t, "greet 0.3.0 bin:greet", lines[5])
}

func TestCompiler_WorkingDirectory(t *testing.T) {
	req := testRequest(t, "sh", "-c", "pwd")

	var stdout bytes.Buffer
	require.NoError(t, newCompiler(t).Compile(context.Background(), req, &stdout, &bytes.Buffer{}))

	want, err := filepath.EvalSymlinks(req.Unit.Package.Root())
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(strings.TrimSpace(stdout.String()))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCompiler_HermeticEnvironment(t *testing.T) {
	t.Setenv("KEEL_TEST_SECRET", "leaked")
	req := testRequest(t, "sh", "-c", `printf '%s' "${KEEL_TEST_SECRET:-unset}"`)

	var stdout bytes.Buffer
	require.NoError(t, newCompiler(t).Compile(context.Background(), req, &stdout, &bytes.Buffer{}))
	assert.Equal(t, "unset", stdout.String())
}

func TestCompiler_Failure(t *testing.T) {
	req := testRequest(t, "sh", "-c", "echo broken >&2; exit 3")

	var stderr bytes.Buffer
	err := newCompiler(t).Compile(context.Background(), req, &bytes.Buffer{}, &stderr)
	require.Error(t, err)
	assert.Contains(t, stderr.String(), "broken")
	assert.Contains(t, err.Error(), domain.ErrCompilerFailed.Error())

	zErr, ok := err.(*zerr.Error)
	require.True(t, ok, "expected *zerr.Error, got %T", err)
	assert.Equal(t, 3, zErr.Metadata()["exit_code"])
}

func TestCompiler_NoCommand(t *testing.T) {
	req := testRequest(t)
	err := newCompiler(t).Compile(context.Background(), req, &bytes.Buffer{}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), domain.ErrCompilerFailed.Error())
}

func TestCompiler_Canceled(t *testing.T) {
	req := testRequest(t, "sh", "-c", "sleep 10")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := newCompiler(t).Compile(ctx, req, &bytes.Buffer{}, &bytes.Buffer{})
	require.Error(t, err)
}
