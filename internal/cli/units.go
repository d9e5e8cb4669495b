package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/trebuchet-org/bundler/internal/cli/render"
	"github.com/trebuchet-org/bundler/internal/usecase"
)

// NewListCmd creates the list command
func NewListCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List deployed units from the lock file",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := getApp(cmd)
			if err != nil {
				return err
			}

			groups, err := app.ListUnits.Run(cmd.Context(), usecase.ListUnitsParams{AllNetworks: all})
			if err != nil {
				return err
			}
			return render.NewUnitsRenderer(cmd.OutOrStdout()).RenderList(groups)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "List every network recorded in the lock file")

	return cmd
}

// NewAddrCmd creates the addr command
func NewAddrCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "addr <unit>",
		Short: "Print the deployed address of a unit",
		Long: `Print the address recorded for a unit on the selected network. For proxied
units this is the proxy address.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := getApp(cmd)
			if err != nil {
				return err
			}

			entry, err := app.ShowUnit.Run(cmd.Context(), usecase.ShowUnitParams{Name: args[0]})
			if err != nil {
				return err
			}
			if verbose {
				return render.NewUnitsRenderer(cmd.OutOrStdout()).RenderEntry(app.Config.Network, entry)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), entry.Address.Hex())
			return err
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show the whole lock entry")

	return cmd
}

// NewABICmd creates the abi command
func NewABICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "abi <unit>",
		Short: "Print the recorded interface descriptor of a unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := getApp(cmd)
			if err != nil {
				return err
			}

			entry, err := app.ShowUnit.Run(cmd.Context(), usecase.ShowUnitParams{Name: args[0]})
			if err != nil {
				return err
			}
			return render.NewUnitsRenderer(cmd.OutOrStdout()).RenderABI(entry)
		},
	}
}
