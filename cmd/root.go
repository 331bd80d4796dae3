// Package cmd defines the CLI commands for the sentinel executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/municipal-sentinel/internal/config"
	"github.com/JakeFAU/municipal-sentinel/internal/pipeline"
	"github.com/JakeFAU/municipal-sentinel/internal/server"
	configpath "github.com/JakeFAU/municipal-sentinel/pkg/config"
)

// App is the slice of the wired application the commands drive.
type App interface {
	Run(ctx context.Context) error
	RunOnce(ctx context.Context) (pipeline.Summary, error)
	Close(ctx context.Context) error
}

// newApp is the application factory; tests swap it for a fake.
var newApp = func(ctx context.Context, cfg *config.Config) (App, error) {
	return server.Build(ctx, cfg)
}

type rootOptions struct {
	cfgFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "sentinel",
		Short: "Municipal Sentinel lead pipeline.",
		Long: `sentinel gathers municipal public-record signals (code enforcement,
parking citations, short-term rental licenses, council dockets, listing
integrity, renewals, and transient occupancy tax) into a daily lead digest.`,
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default is $HOME/"+configpath.FileName+")")

	cmd.AddCommand(newServeCmd(opts), newRunCmd(opts))
	return cmd
}

func (o *rootOptions) build(ctx context.Context) (App, error) {
	path, err := configpath.Resolve(o.cfgFile)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	app, err := newApp(ctx, &cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize application: %w", err)
	}
	return app, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
