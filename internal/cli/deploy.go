package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/trebuchet-org/bundler/internal/cli/render"
	"github.com/trebuchet-org/bundler/internal/usecase"
)

// NewDeployCmd creates the deploy command
func NewDeployCmd() *cobra.Command {
	var (
		redeploy []string
		dryRun   bool
		noVerify bool
		fresh    bool
		yes      bool
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy every declared unit in dependency order",
		Long: `Deploy the units declared in the project file to the selected network.

Units already recorded in the lock file with unchanged bytecode are skipped.
Proxied units whose implementation changed are upgraded in place. Each
completed unit is written to the lock file before the next one starts, so an
interrupted run resumes where it stopped.

Examples:
  bundler deploy -n localhost               # Deploy to a local node
  bundler deploy -n sepolia --yes           # Skip the confirmation prompt
  bundler deploy -n sepolia --dry-run       # Show the plan without sending transactions
  bundler deploy -n localhost --fresh       # Clear the local lock section first
  bundler deploy -n sepolia --redeploy Token`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := getApp(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if dryRun {
				plan, err := app.PlanDeployment.Run(ctx, usecase.PlanParams{Redeploy: redeploy})
				if err != nil {
					return err
				}
				return render.NewDeployRenderer(cmd.OutOrStdout()).RenderPlan(plan)
			}

			report, runErr := app.DeployUnits.Run(ctx, usecase.DeployParams{
				Redeploy:   redeploy,
				Fresh:      fresh,
				SkipVerify: noVerify,
				Yes:        yes,
			})
			if report != nil && len(report.Units) > 0 {
				if err := render.NewDeployRenderer(cmd.OutOrStdout()).RenderReport(report); err != nil {
					return err
				}
			}
			if runErr != nil {
				return fmt.Errorf("deployment failed: %w", runErr)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&redeploy, "redeploy", nil, "Deploy these non-proxy units again even if recorded")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the plan without sending transactions")
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "Skip source verification after deploying")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "Clear the network's lock entries first (local networks only)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")

	return cmd
}

// NewPlanCmd creates the plan command
func NewPlanCmd() *cobra.Command {
	var redeploy []string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what deploy would do on the selected network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := getApp(cmd)
			if err != nil {
				return err
			}

			plan, err := app.PlanDeployment.Run(cmd.Context(), usecase.PlanParams{Redeploy: redeploy})
			if err != nil {
				return err
			}
			return render.NewDeployRenderer(cmd.OutOrStdout()).RenderPlan(plan)
		},
	}

	cmd.Flags().StringSliceVar(&redeploy, "redeploy", nil, "Plan these non-proxy units as redeployed")

	return cmd
}
