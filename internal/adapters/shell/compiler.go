// Package shell runs the external compiler for one compilation unit at a time.
package shell

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"go.trai.ch/keel/internal/core/domain"
	"go.trai.ch/keel/internal/core/ports"
	"go.trai.ch/zerr"
)

// Environment variables describing the unit to the compiler.
const (
	EnvUnit       = "KEEL_UNIT"
	EnvPackage    = "KEEL_PACKAGE"
	EnvVersion    = "KEEL_VERSION"
	EnvTargetKind = "KEEL_TARGET_KIND"
	EnvTargetName = "KEEL_TARGET_NAME"
	EnvEntry      = "KEEL_ENTRY"
	EnvSourceDir  = "KEEL_SOURCE_DIR"
	EnvOutDir     = "KEEL_OUT_DIR"
	EnvDeps       = "KEEL_DEPS"
)

var _ ports.Compiler = (*Compiler)(nil)

// Compiler implements ports.Compiler using os/exec.
type Compiler struct {
	logger ports.Logger
}

// NewCompiler creates a new Compiler.
func NewCompiler(logger ports.Logger) *Compiler {
	return &Compiler{logger: logger}
}

// Compile runs req.Command inside the unit's package root and waits for it to complete.
// The out directory is created beforehand.
func (c *Compiler) Compile(ctx context.Context, req ports.CompileRequest, stdout, stderr io.Writer) error {
	if len(req.Command) == 0 {
		return zerr.With(domain.ErrCompilerFailed, "reason", "no compiler command configured")
	}
	if err := os.MkdirAll(req.OutDir, domain.DirPerm); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to create output directory"), "path", req.OutDir)
	}

	stdoutLog := &logWriter{logger: c.logger, unit: req.Unit.ID.String()}
	stderrLog := &logWriter{logger: c.logger, unit: req.Unit.ID.String()}
	defer func() {
		_ = stdoutLog.Close()
		_ = stderrLog.Close()
	}()

	env := resolveEnvironment(os.Environ(), unitEnvironment(req))

	name := req.Command[0]
	executable := name
	if !filepath.IsAbs(name) {
		if lp, err := lookPath(name, env); err == nil {
			executable = lp
		}
	}

	cmd := exec.CommandContext(ctx, executable, req.Command[1:]...) //nolint:gosec // compiler command is configured by the user
	if len(cmd.Args) > 0 {
		cmd.Args[0] = name
	}
	cmd.Dir = req.Unit.Package.Root()
	cmd.Env = env
	cmd.Stdout = io.MultiWriter(stdoutLog, stdout)
	cmd.Stderr = io.MultiWriter(stderrLog, stderr)

	if err := cmd.Run(); err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		wrapped := zerr.With(zerr.Wrap(err, domain.ErrCompilerFailed.Error()), "exit_code", exitCode)
		return zerr.With(wrapped, "unit", req.Unit.ID.String())
	}
	return nil
}

// unitEnvironment describes the unit in KEEL_* variables.
func unitEnvironment(req ports.CompileRequest) map[string]string {
	unit := req.Unit
	id := unit.Package.ID()

	deps := make([]string, 0, len(req.DependencyDirs))
	for name, dir := range req.DependencyDirs {
		deps = append(deps, name.String()+"="+dir)
	}
	slices.Sort(deps)

	return map[string]string{
		EnvUnit:       unit.ID.String(),
		EnvPackage:    id.Name().String(),
		EnvVersion:    id.Version().String(),
		EnvTargetKind: string(unit.Target.Kind),
		EnvTargetName: unit.Target.Name,
		EnvEntry:      filepath.Join(unit.Package.Root(), unit.Target.Entry),
		EnvSourceDir:  unit.Package.SourceDir(),
		EnvOutDir:     req.OutDir,
		EnvDeps:       strings.Join(deps, string(os.PathListSeparator)),
	}
}

// logWriter forwards complete output lines to the logger at debug level.
type logWriter struct {
	logger ports.Logger
	unit   string
	buf    []byte
}

func (w *logWriter) Write(p []byte) (n int, err error) {
	w.buf = append(w.buf, p...)

	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.logLine(w.buf[:i])
		w.buf = w.buf[i+1:]
	}

	return len(p), nil
}

func (w *logWriter) Close() error {
	if len(w.buf) > 0 {
		w.logLine(w.buf)
		w.buf = nil
	}
	return nil
}

func (w *logWriter) logLine(line []byte) {
	w.logger.Debug(w.unit + ": " + strings.TrimSuffix(string(line), "\r"))
}

// allowListedEnvVars are the system environment variables the compiler inherits.
// Everything else is dropped so builds do not depend on the caller's shell.
var allowListedEnvVars = map[string]struct{}{
	"HOME":   {},
	"TERM":   {},
	"USER":   {},
	"PATH":   {},
	"TMPDIR": {},
}

// resolveEnvironment merges the allow-listed system environment with the unit variables.
// Unit variables win. The result is sorted.
func resolveEnvironment(sysEnv []string, unitEnv map[string]string) []string {
	envMap := filterSystemEnv(sysEnv)
	for k, v := range unitEnv {
		envMap[k] = v
	}

	result := make([]string, 0, len(envMap))
	for k, v := range envMap {
		result = append(result, k+"="+v)
	}
	slices.Sort(result)
	return result
}

func filterSystemEnv(sysEnv []string) map[string]string {
	envMap := make(map[string]string)
	for _, entry := range sysEnv {
		k, v, ok := strings.Cut(entry, "=")
		if ok {
			if _, allowed := allowListedEnvVars[k]; allowed {
				envMap[k] = v
			}
		}
	}
	return envMap
}

// lookPath searches for an executable in the directories named by the PATH entry of env.
func lookPath(file string, env []string) (string, error) {
	var path string
	for _, e := range env {
		if strings.HasPrefix(e, "PATH=") {
			path = strings.TrimPrefix(e, "PATH=")
			break
		}
	}

	if path == "" {
		return "", exec.ErrNotFound
	}

	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			// Unix shell semantics: path element "" means "."
			dir = "."
		}
		candidate := filepath.Join(dir, file)
		if err := findExecutable(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", exec.ErrNotFound
}

func findExecutable(file string) error {
	d, err := os.Stat(file)
	if err != nil {
		return err
	}
	if m := d.Mode(); !m.IsDir() && m&0o111 != 0 {
		return nil
	}
	return os.ErrPermission
}
