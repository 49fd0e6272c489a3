// Package commands implements the CLI commands for the keel package manager.
package commands

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.trai.ch/keel/internal/app"
	"go.trai.ch/keel/internal/build"
	"go.trai.ch/keel/internal/core/domain"
	"go.trai.ch/keel/internal/core/ports"
	"go.trai.ch/keel/internal/engine/resolver"
)

const (
	envCacheDir = "KEEL_CACHE_DIR"
	envRegistry = "KEEL_REGISTRY"
)

// leveler is implemented by loggers whose verbosity can change at runtime.
type leveler interface {
	SetLevel(level domain.LogLevel)
}

// CLI represents the command line interface for keel.
type CLI struct {
	app     *app.App
	logger  ports.Logger
	rootCmd *cobra.Command
}

// New creates a new CLI instance with the given app.
func New(a *app.App, logger ports.Logger) *CLI {
	rootCmd := &cobra.Command{
		Use:           "keel",
		Short:         "A package manager and build orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       build.Version,
	}

	rootCmd.InitDefaultVersionFlag()
	rootCmd.Flags().Lookup("version").Usage = "Print the application version"

	rootCmd.InitDefaultHelpFlag()
	rootCmd.Flags().Lookup("help").Usage = "Show help for command"

	flags := rootCmd.PersistentFlags()
	flags.String("manifest-path", "", "Path to "+domain.ManifestFileName+" or the directory to search from")
	flags.String("cache-dir", envOr(envCacheDir, defaultCacheDir()), "Directory for downloaded packages")
	flags.String("registry", envOr(envRegistry, domain.DefaultRegistryURL), "Default package registry")
	flags.IntP("jobs", "j", 0, "Number of parallel jobs, defaults to the number of CPUs")
	flags.Bool("locked", false, "Fail instead of updating "+domain.LockFileName)
	flags.String("precedence", string(resolver.PrecedenceOverride), "How conflicting sources are settled (override|strict)")
	flags.BoolP("verbose", "v", false, "Print debug output")

	c := &CLI{
		app:     a,
		logger:  logger,
		rootCmd: rootCmd,
	}

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		verbose, err := cmd.Flags().GetBool("verbose")
		if err != nil {
			return err
		}
		if l, ok := c.logger.(leveler); ok && verbose {
			l.SetLevel(domain.LogLevelDebug)
		}
		return nil
	}

	rootCmd.AddCommand(c.newBuildCmd())
	rootCmd.AddCommand(c.newFetchCmd())
	rootCmd.AddCommand(c.newUpdateCmd())
	rootCmd.AddCommand(c.newTreeCmd())
	rootCmd.AddCommand(c.newCleanCmd())
	rootCmd.AddCommand(c.newVersionCmd())

	return c
}

// Execute runs the root command with the given context.
func (c *CLI) Execute(ctx context.Context) error {
	c.rootCmd.SetContext(ctx)
	return c.rootCmd.Execute()
}

// SetArgs sets the arguments for the root command. Used for testing.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

// SetOut redirects command output. Used for testing.
func (c *CLI) SetOut(w io.Writer) {
	c.rootCmd.SetOut(w)
}

// options maps the persistent flags onto app options.
func options(cmd *cobra.Command) (app.Options, error) {
	flags := cmd.Flags()
	manifestPath, _ := flags.GetString("manifest-path")
	cacheDir, _ := flags.GetString("cache-dir")
	registry, _ := flags.GetString("registry")
	jobs, _ := flags.GetInt("jobs")
	locked, _ := flags.GetBool("locked")
	precedenceFlag, _ := flags.GetString("precedence")

	precedence, err := resolver.ParseSourcePrecedence(precedenceFlag)
	if err != nil {
		return app.Options{}, err
	}

	dir := manifestPath
	if filepath.Base(manifestPath) == domain.ManifestFileName {
		dir = filepath.Dir(manifestPath)
	}

	opts := app.Options{
		Dir:        dir,
		CacheDir:   cacheDir,
		Registry:   registry,
		Precedence: precedence,
		Jobs:       jobs,
	}
	if locked {
		opts.Policy = resolver.LockPolicyNone
	}
	return opts, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// defaultCacheDir returns the per-user cache directory. The empty string lets the
// app fall back to a directory inside the workspace.
func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "keel")
}
