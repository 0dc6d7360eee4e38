package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arturoeanton/storefront-dashboard/internal/domain"
)

func newDeployCommand(opts *options) *cobra.Command {
	wopts := &watchOptions{}
	var (
		template string
		follow   bool
	)

	cmd := &cobra.Command{
		Use:   "deploy <shop-id>",
		Short: "Publish a shop's storefront",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant := domain.Tenant{ShopID: args[0], Subdomain: wopts.subdomain}
			token, err := opts.tokens().Token(cmd.Context())
			if err != nil {
				return fmt.Errorf("no token: set --token or DEPLOYCTL_TOKEN")
			}

			if err := opts.client.Deploy(cmd.Context(), token, tenant, template); err != nil {
				return fmt.Errorf("deploy failed: %w", err)
			}
			printLine(cmd.OutOrStdout(), Title.Render("deploy started")+"  "+Bold.Render(tenant.Subdomain))

			if !follow {
				return nil
			}
			return watch(cmd.Context(), cmd.OutOrStdout(), opts, wopts, tenant)
		},
	}

	cmd.Flags().StringVar(&wopts.subdomain, "subdomain", "", "storefront subdomain (required)")
	cmd.Flags().StringVar(&template, "template", "default", "storefront template")
	cmd.Flags().BoolVarP(&follow, "watch", "w", false, "follow the deployment until it finishes")
	_ = cmd.MarkFlagRequired("subdomain")
	wopts.bind(cmd)
	return cmd
}
