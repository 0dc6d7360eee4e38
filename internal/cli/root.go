package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/arturoeanton/storefront-dashboard/internal/adapter/gateway"
	"github.com/arturoeanton/storefront-dashboard/internal/service"
)

type options struct {
	gatewayURL string
	token      string
	timeout    time.Duration
	retryMax   int
	verbose    bool

	client *gateway.Client
}

func (o *options) tokens() service.StaticToken {
	return service.StaticToken(o.token)
}

// NewRootCommand builds the deployctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "deployctl",
		Short: "Trigger and follow storefront deployments",
		Long: `deployctl talks to the API gateway directly: trigger a storefront deploy,
check its status once, or follow it until it is deployed, failed or timed out.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if opts.verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			slog.SetDefault(logger)

			opts.client = gateway.NewClient(gateway.Config{
				BaseURL:  opts.gatewayURL,
				Timeout:  opts.timeout,
				RetryMax: opts.retryMax,
				Logger:   logger,
			})
		},
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.gatewayURL, "gateway", envOrDefault("DEPLOYCTL_GATEWAY", "http://127.0.0.1:8080"), "API gateway URL")
	flags.StringVar(&opts.token, "token", os.Getenv("DEPLOYCTL_TOKEN"), "bearer token for the gateway")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Second, "timeout for each gateway request")
	flags.IntVar(&opts.retryMax, "retries", 3, "retries for the deploy trigger")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log requests and retries")

	root.AddCommand(
		newStatusCommand(opts),
		newWatchCommand(opts),
		newDeployCommand(opts),
	)
	return root
}

// Execute runs deployctl with os.Args until it finishes or is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return NewRootCommand().ExecuteContext(ctx)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printLine(w io.Writer, s string) {
	_, _ = io.WriteString(w, s+"\n")
}
