package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.trai.ch/keel/internal/core/domain"
	"go.trai.ch/keel/internal/engine/planner"
)

func (c *CLI) newBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Compile the workspace and its dependencies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := options(cmd)
			if err != nil {
				return err
			}
			noCache, _ := cmd.Flags().GetBool("no-cache")
			compiler, _ := cmd.Flags().GetString("compiler")
			packages, _ := cmd.Flags().GetStringSlice("package")
			opts.NoCache = noCache
			opts.Command = strings.Fields(compiler)

			report, err := c.app.Build(cmd.Context(), opts, selection(cmd).ForPackages(packageNames(packages)...))
			if report != nil {
				out := cmd.OutOrStdout()
				for _, u := range report.Units {
					if u.Status == domain.UnitStatusFailed {
						_, _ = fmt.Fprintf(out, "failed %s\n", u.ID)
					}
				}
				_, _ = fmt.Fprintf(out, "%d compiled, %d up to date, %d failed, %d skipped\n",
					report.Count(domain.UnitStatusCompleted),
					report.Count(domain.UnitStatusCached),
					report.Count(domain.UnitStatusFailed),
					report.Count(domain.UnitStatusSkipped),
				)
			}
			return err
		},
	}
	cmd.Flags().Bool("lib", false, "Build only lib targets")
	cmd.Flags().Bool("bins", false, "Build bin targets")
	cmd.Flags().Bool("tests", false, "Build test targets")
	cmd.Flags().Bool("all", false, "Build every target kind")
	cmd.Flags().StringSliceP("package", "p", nil, "Build only the named workspace members")
	cmd.Flags().BoolP("no-cache", "n", false, "Recompile units that are up to date")
	cmd.Flags().String("compiler", "", "Compiler command, defaults to "+domain.DefaultCompiler)
	cmd.MarkFlagsMutuallyExclusive("lib", "bins", "tests", "all")
	return cmd
}

func selection(cmd *cobra.Command) planner.Selection {
	flags := cmd.Flags()
	switch {
	case flagSet(flags.GetBool("all")):
		return planner.SelectAll
	case flagSet(flags.GetBool("lib")):
		return planner.SelectLib
	case flagSet(flags.GetBool("bins")):
		return planner.SelectBins
	case flagSet(flags.GetBool("tests")):
		return planner.SelectTests
	default:
		return planner.Selection{}
	}
}

func flagSet(v bool, err error) bool {
	return err == nil && v
}

func packageNames(names []string) []domain.PackageName {
	out := make([]domain.PackageName, len(names))
	for i, n := range names {
		out[i] = domain.PackageName(n)
	}
	return out
}
