// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package process wires the shared process surface of the s3db
// binaries: flag handling layered over a config file and S3DB_
// environment variables, logging setup, and the debug endpoint.
package process

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/zeebo/errs"
)

// Error is the process error class.
var Error = errs.Class("process")

// DefaultConfigPath returns where the named binary keeps its config
// file by default.
func DefaultConfigPath(name string) string { return defaultConfigPath(name) }

func defaultConfigPath(name string) string {
	if name == "" {
		name = filepath.Base(os.Args[0])
	}
	path := filepath.Join(".s3db", fmt.Sprintf("%s.yaml", name))
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path)
}

// Exec runs a root command with process-wide configuration: every
// flag value missing on the command line is filled from the config
// file and the environment before the command runs.
func Exec(cmd *cobra.Command) {
	cfgFile := flag.String("config", defaultConfigPath(cmd.Name()), "config file")
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)

	cleanup(cmd, cfgFile)

	ctx, cancel := Ctx()
	defer cancel()
	Must(cmd.ExecuteContext(ctx))
}

// cleanup hooks every runnable command in the tree with the settings
// back-propagation step.
func cleanup(cmd *cobra.Command, cfgFile *string) {
	for _, sub := range cmd.Commands() {
		cleanup(sub, cfgFile)
	}
	if cmd.RunE == nil {
		return
	}
	inner := cmd.RunE
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		vip, err := Viper(cmd, *cfgFile)
		if err != nil {
			return err
		}
		if err := propagate(cmd.Flags(), vip); err != nil {
			return err
		}
		return inner(cmd, args)
	}
}

// propagate copies settings known to viper onto flags the user did not
// set explicitly, so commands only ever read flags.
func propagate(flags *pflag.FlagSet, vip *viper.Viper) error {
	var group errs.Group
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Changed || !vip.IsSet(f.Name) {
			return
		}
		if err := flags.Set(f.Name, vip.GetString(f.Name)); err != nil {
			group.Add(Error.New("invalid setting for %q: %v", f.Name, err))
		}
	})
	return group.Err()
}

// Ctx returns a root context canceled on SIGINT or SIGTERM.
func Ctx() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// Must exits on error, for main functions.
func Must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
