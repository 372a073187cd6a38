package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/americaro/quotemail/pkg/cli"
	"github.com/americaro/quotemail/pkg/system"
)

func newServeCommand(rt *runtimeState) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the quote relay HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := rt.log.Sugar()
			log.Infow("Starting quote relay", "build", system.GetBuildInfo().String())
			rt.flags.Print(log)

			app, err := NewApp(rt.cfg, rt.relayDialer(), rt.log, rt.flags.Debug)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.Run(ctx, cli.ParseShutdownTimeout(rt.flags.ShutdownTimeout, log))
		},
	}
}
