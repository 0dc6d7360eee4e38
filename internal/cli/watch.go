package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/arturoeanton/storefront-dashboard/internal/domain"
	"github.com/arturoeanton/storefront-dashboard/internal/service"
)

type watchOptions struct {
	subdomain   string
	maxAttempts int
	pollTimeout time.Duration
}

func (w *watchOptions) bind(cmd *cobra.Command) {
	cmd.Flags().IntVar(&w.maxAttempts, "max-attempts", service.DefaultPollMaxAttempts, "give up after this many status checks")
	cmd.Flags().DurationVar(&w.pollTimeout, "poll-timeout", service.DefaultPollTimeout, "give up after this long")
}

func newWatchCommand(opts *options) *cobra.Command {
	wopts := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch <shop-id>",
		Short: "Follow a deployment until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watch(cmd.Context(), cmd.OutOrStdout(), opts, wopts, domain.Tenant{ShopID: args[0], Subdomain: wopts.subdomain})
		},
	}
	cmd.Flags().StringVar(&wopts.subdomain, "subdomain", "", "storefront subdomain, for display")
	wopts.bind(cmd)
	return cmd
}

// cliOwner owns every deployment a CLI process tracks. The poller lives only
// as long as one command.
const cliOwner = "deployctl"

// watch polls a deployment with the same backoff as the dashboard and prints
// every change. A deployment that does not end in deployed is an error.
func watch(ctx context.Context, out io.Writer, opts *options, wopts *watchOptions, tenant domain.Tenant) error {
	poller := service.NewDeploymentPoller(opts.client, service.PollerConfig{
		MaxAttempts: wopts.maxAttempts,
		Timeout:     wopts.pollTimeout,
	})
	defer poller.Close()

	updates, unsubscribe := poller.Subscribe(cliOwner)
	defer unsubscribe()

	poller.StartDeployment(cliOwner, tenant, opts.tokens())

	var last domain.DeploymentRecord
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, open := <-updates:
			if !open {
				return fmt.Errorf("watch ended before shop %s finished deploying", tenant.ShopID)
			}
			rec, ok := findRecord(snap, tenant.ShopID)
			if !ok || (rec.Attempts == last.Attempts && rec.Status == last.Status) {
				continue
			}
			last = rec
			printRecord(out, rec)

			switch rec.Status {
			case domain.DeploymentDeployed:
				return nil
			case domain.DeploymentFailed, domain.DeploymentTimedOut:
				return fmt.Errorf("deployment %s", rec.Status)
			}
		}
	}
}

func findRecord(snap domain.DeploymentSnapshot, shopID string) (domain.DeploymentRecord, bool) {
	for _, rec := range snap.Deployments {
		if rec.ShopID == shopID {
			return rec, true
		}
	}
	return domain.DeploymentRecord{}, false
}

func printRecord(out io.Writer, rec domain.DeploymentRecord) {
	line := fmt.Sprintf("%s  %s", StatusBadge(rec.Status), DimText.Render(fmt.Sprintf("check %d", rec.Attempts)))
	if rec.Subdomain != "" {
		line = Bold.Render(rec.Subdomain) + "  " + line
	}
	printLine(out, line)

	if rec.URL != "" {
		printLine(out, "  "+Link.Render(rec.URL))
	}
	if rec.Message != "" {
		printLine(out, "  "+DimText.Render(rec.Message))
	}
}
