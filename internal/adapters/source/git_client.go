package source

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.trai.ch/keel/internal/core/domain"
	"go.trai.ch/zerr"
)

// GitClient is the subset of git the git source needs.
type GitClient interface {
	// Clone creates a bare mirror of url in dir.
	Clone(ctx context.Context, url, dir string) error
	// Fetch updates the bare mirror in dir from its origin.
	Fetch(ctx context.Context, dir string) error
	// ResolveRef returns the commit a reference points at in the mirror.
	ResolveRef(ctx context.Context, dir string, ref domain.GitReference) (string, error)
	// Checkout writes the tree of commit from the mirror into dest.
	Checkout(ctx context.Context, dir, commit, dest string) error
}

// CLIGitClient implements GitClient by running the git executable.
type CLIGitClient struct {
	// Executable defaults to "git".
	Executable string
}

// NewCLIGitClient returns a client using the git found on PATH.
func NewCLIGitClient() *CLIGitClient {
	return &CLIGitClient{Executable: "git"}
}

// Clone creates a bare mirror of url in dir.
func (c *CLIGitClient) Clone(ctx context.Context, url, dir string) error {
	if err := os.MkdirAll(filepath.Dir(dir), domain.DirPerm); err != nil {
		return zerr.Wrap(err, "failed to create git cache directory")
	}
	_, err := c.run(ctx, "", "clone", "--bare", "--quiet", url, dir)
	return err
}

// Fetch updates every branch and tag of the mirror.
func (c *CLIGitClient) Fetch(ctx context.Context, dir string) error {
	_, err := c.run(ctx, dir, "fetch", "--quiet", "--force", "--tags", "origin",
		"+refs/heads/*:refs/heads/*")
	return err
}

// ResolveRef returns the full commit id of ref.
func (c *CLIGitClient) ResolveRef(ctx context.Context, dir string, ref domain.GitReference) (string, error) {
	var refspec string
	switch ref.Kind {
	case domain.GitBranch:
		refspec = "refs/heads/" + ref.Value
	case domain.GitTag:
		refspec = "refs/tags/" + ref.Value
	case domain.GitRev:
		refspec = ref.Value
	default:
		refspec = "HEAD"
	}

	out, err := c.run(ctx, dir, "rev-parse", "--verify", "--quiet", refspec+"^{commit}")
	if err != nil {
		return "", zerr.With(err, "reference", ref.String())
	}
	return strings.TrimSpace(out), nil
}

// Checkout materializes commit into dest. An existing dest is assumed complete.
func (c *CLIGitClient) Checkout(ctx context.Context, dir, commit, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		return nil
	}

	tmp := dest + ".tmp"
	_ = os.RemoveAll(tmp)
	if err := os.MkdirAll(filepath.Dir(dest), domain.DirPerm); err != nil {
		return zerr.Wrap(err, "failed to create checkout directory")
	}
	if _, err := c.run(ctx, "", "clone", "--quiet", "--shared", "--no-checkout", dir, tmp); err != nil {
		return err
	}
	if _, err := c.run(ctx, tmp, "checkout", "--quiet", "--detach", commit); err != nil {
		_ = os.RemoveAll(tmp)
		return zerr.With(err, "commit", commit)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.RemoveAll(tmp)
		return zerr.Wrap(err, "failed to move checkout into place")
	}
	return nil
}

func (c *CLIGitClient) run(ctx context.Context, dir string, args ...string) (string, error) {
	exe := c.Executable
	if exe == "" {
		exe = "git"
	}
	if dir != "" {
		args = append([]string{"-C", dir}, args...)
	}

	//nolint:gosec // arguments are locators and revisions taken from manifests and lock files
	cmd := exec.CommandContext(ctx, exe, args...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		gitErr := zerr.Wrap(err, "git command failed")
		gitErr = zerr.With(gitErr, "command", "git "+strings.Join(args, " "))
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			gitErr = zerr.With(gitErr, "stderr", strings.TrimSpace(stderr.String()))
		}
		return "", gitErr
	}
	return string(out), nil
}
