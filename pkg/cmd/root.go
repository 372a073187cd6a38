/*
SPDX-FileCopyrightText: 2026 americaro

SPDX-License-Identifier: Apache-2.0
*/

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/americaro/quotemail/pkg/cli"
	"github.com/americaro/quotemail/pkg/config"
	"github.com/americaro/quotemail/pkg/smtppool"
	"github.com/americaro/quotemail/pkg/system"
)

type Config struct {
	OutputWriter io.Writer
	// Dialer replaces the dialer for the configured SMTP relay.
	Dialer smtppool.Dialer
	// Logger replaces the process logger built from --debug.
	Logger *zap.Logger
}

type runtimeState struct {
	flags  cli.Config
	cfg    config.Config
	log    *zap.Logger
	dialer smtppool.Dialer
}

func DefaultConfig() Config {
	return Config{OutputWriter: os.Stdout}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{dialer: cfg.Dialer, log: cfg.Logger}

	root := &cobra.Command{
		Use:           "quotemail",
		Short:         "Relay PDF quote requests to the sales mailbox",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return rt.load()
		},
	}

	if cfg.OutputWriter != nil {
		root.SetOut(cfg.OutputWriter)
	}
	rt.flags.BindFlags(root.PersistentFlags())

	root.AddCommand(
		newServeCommand(rt),
		newSendCommand(rt),
		NewVersionCommand(),
	)
	return root
}

// load reads the .env file and the YAML config, builds the logger and checks
// that the SMTP credentials are present.
func (rt *runtimeState) load() error {
	if err := config.LoadDotEnv(rt.flags.EnvFile); err != nil {
		return err
	}
	if rt.log == nil {
		zl, err := system.NewLogger(rt.flags.Debug)
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		rt.log = zl
	}

	cfg, err := config.Load(rt.flags.ConfigPath)
	if err != nil {
		return err
	}
	if rt.flags.ListenAddress != "" {
		cfg.Server.ListenAddress = rt.flags.ListenAddress
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.RequireCredentials(); err != nil {
		return err
	}
	rt.cfg = cfg
	return nil
}

func (rt *runtimeState) relayDialer() smtppool.Dialer {
	if rt.dialer != nil {
		return rt.dialer
	}
	return newRelayDialer(rt.cfg)
}
