package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.trai.ch/keel/internal/core/domain"
	"go.trai.ch/keel/internal/engine/resolver"
)

func (c *CLI) newUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update [packages...]",
		Short: "Update " + domain.LockFileName + ", optionally only for the named packages",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := options(cmd)
			if err != nil {
				return err
			}
			if opts.Policy == resolver.LockPolicyNone {
				return domain.ErrLockOutdated
			}
			if len(args) == 0 {
				opts.Policy = resolver.LockPolicyFull
			} else {
				opts.Policy = resolver.LockPolicyConservative
				opts.Unlock = packageNames(args)
			}

			res, err := c.app.Resolve(cmd.Context(), opts)
			if err != nil {
				return err
			}
			state := "unchanged"
			if res.LockChanged {
				state = "updated"
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", domain.LockFileName, state)
			return nil
		},
	}
}
