package cli

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/trebuchet-org/bundler/internal/cli/render"
	"github.com/trebuchet-org/bundler/internal/domain"
	"github.com/trebuchet-org/bundler/internal/usecase"
)

// NewVerifyCmd creates the verify command
func NewVerifyCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "verify [unit...]",
		Short: "Verify deployed units on block explorers",
		Long: `Submit the sources of deployed units to the verifiers configured for the
network and record which ones succeeded in the lock file.

Examples:
  bundler verify -n sepolia                 # Verify every unverified unit
  bundler verify -n sepolia Token Manager   # Verify specific units
  bundler verify -n sepolia --force         # Resubmit units already verified`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := getApp(cmd)
			if err != nil {
				return err
			}

			summary, err := app.VerifyUnits.Run(cmd.Context(), usecase.VerifyParams{
				Units: args,
				Force: force,
			})
			var failed *domain.VerificationFailedError
			if err != nil && !errors.As(err, &failed) {
				return err
			}
			if summary != nil {
				if rerr := render.NewVerifyRenderer(cmd.OutOrStdout()).RenderSummary(summary); rerr != nil {
					return rerr
				}
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Resubmit units already marked verified")

	return cmd
}
