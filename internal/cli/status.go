package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arturoeanton/storefront-dashboard/internal/domain"
)

func newStatusCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "status <shop-id>",
		Short:   "Show the current deployment status of a shop",
		Aliases: []string{"s"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			shopID := args[0]
			token, err := opts.tokens().Token(cmd.Context())
			if err != nil {
				return fmt.Errorf("no token: set --token or DEPLOYCTL_TOKEN")
			}

			report, err := opts.client.DeploymentStatus(cmd.Context(), token, shopID)
			if err != nil {
				return fmt.Errorf("failed to fetch status: %w", err)
			}

			out := cmd.OutOrStdout()
			printLine(out, Title.Render("shop "+shopID)+"  "+StatusBadge(domain.DeploymentStatus(report.Status)))
			if report.URL != "" {
				printLine(out, "  "+Link.Render(report.URL))
			}
			if report.Message != "" {
				printLine(out, "  "+DimText.Render(report.Message))
			}
			return nil
		},
	}
}
