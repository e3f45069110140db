// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"storj.io/s3db/consolidation"
	"storj.io/s3db/db"
	"storj.io/s3db/pkg/process"
)

// Config is the shared configuration of the operator commands.
type Config struct {
	URL        string `user:"true" help:"connection string of the database, for example s3://bucket/prefix" default:"memory://local"`
	Passphrase string `help:"passphrase unlocking secret attributes" hidden:"true"`
}

var (
	rootCmd = &cobra.Command{
		Use:   "s3db",
		Short: "operator tool for s3db databases",
	}
	setupCmd = &cobra.Command{
		Use:         "setup",
		Short:       "Create a config file",
		RunE:        cmdSetup,
		Annotations: map[string]string{"type": "setup"},
	}
	resourcesCmd = &cobra.Command{
		Use:   "resources",
		Short: "List resources and their schema versions",
		RunE:  cmdResources,
	}
	inspectCmd = &cobra.Command{
		Use:   "inspect RESOURCE ID",
		Short: "Fetch and print one record",
		Args:  cobra.ExactArgs(2),
		RunE:  cmdInspect,
	}
	reconcileCmd = &cobra.Command{
		Use:   "reconcile RESOURCE",
		Short: "Rebuild the partition index of a resource",
		Args:  cobra.ExactArgs(1),
		RunE:  cmdReconcile,
	}
	consolidateCmd = &cobra.Command{
		Use:   "consolidate RESOURCE FIELD",
		Short: "Run one consolidation round for a field",
		Args:  cobra.ExactArgs(2),
		RunE:  cmdConsolidate,
	}
	gcCmd = &cobra.Command{
		Use:   "gc RESOURCE FIELD",
		Short: "Remove applied transactions past their retention",
		Args:  cobra.ExactArgs(2),
		RunE:  cmdGC,
	}

	config      Config
	setupOutput string
)

func init() {
	rootCmd.AddCommand(setupCmd, resourcesCmd, inspectCmd, reconcileCmd, consolidateCmd, gcCmd)
	for _, cmd := range rootCmd.Commands() {
		process.Bind(cmd, &config)
	}
	setupCmd.Flags().StringVar(&setupOutput, "output", process.DefaultConfigPath("s3db"), "where to write the config file")
	_ = setupCmd.Flags().SetAnnotation("output", "setup", []string{"true"})
}

func main() {
	process.Exec(rootCmd)
}

// openDB dials and connects the configured database, with any plugins
// registered before connecting.
func openDB(ctx context.Context, log *zap.Logger, plugins ...db.Plugin) (*db.DB, error) {
	database, err := db.Open(ctx, config.URL, db.Options{
		Log:        log,
		Passphrase: config.Passphrase,
	})
	if err != nil {
		return nil, err
	}
	for _, plugin := range plugins {
		if err := database.Use(plugin); err != nil {
			return nil, err
		}
	}
	if err := database.Connect(ctx); err != nil {
		return nil, err
	}
	return database, nil
}

func newLogger() (*zap.Logger, error) {
	log, err := process.NewLogger()
	if err != nil {
		return nil, err
	}
	if err := process.InitDebug(log, monkit.Default); err != nil {
		log.Warn("debug endpoint failed to start", zap.Error(err))
	}
	return log, nil
}

func cmdSetup(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(filepath.Dir(setupOutput), 0700); err != nil {
		return err
	}
	overrides := map[string]interface{}{"url": config.URL}
	if err := process.SaveConfig(cmd, setupOutput, overrides); err != nil {
		return err
	}
	fmt.Println("configuration written to", setupOutput)
	return nil
}

func cmdResources(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log, err := newLogger()
	if err != nil {
		return err
	}
	database, err := openDB(ctx, log)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	names := database.Resources()
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tBEHAVIOR\tSCHEMA\tPARTITIONS")
	for _, name := range names {
		res, err := database.Resource(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\tv%d\t%d\n",
			name, res.Behavior(), res.Schema().Version, len(res.Config().Partitions))
	}
	return w.Flush()
}

func cmdInspect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log, err := newLogger()
	if err != nil {
		return err
	}
	database, err := openDB(ctx, log)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	res, err := database.Resource(args[0])
	if err != nil {
		return err
	}
	record, err := res.Get(ctx, args[1])
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func cmdReconcile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log, err := newLogger()
	if err != nil {
		return err
	}
	database, err := openDB(ctx, log)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	res, err := database.Resource(args[0])
	if err != nil {
		return err
	}
	stats, err := res.Reconcile(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("scanned %d records, added %d entries, removed %d stale entries\n",
		stats.Scanned, stats.Added, stats.Removed)
	return nil
}

func cmdConsolidate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log, err := newLogger()
	if err != nil {
		return err
	}
	plugin := consolidation.NewPlugin(log, []consolidation.Config{
		{Resource: args[0], Field: args[1]},
	}, consolidation.PluginOptions{})

	database, err := openDB(ctx, log, plugin)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	c, err := plugin.Consolidator(args[0], args[1])
	if err != nil {
		return err
	}
	stats, err := c.Consolidate(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("consolidated %d records (%d transactions folded, %d busy, %d failed)\n",
		stats.Records, stats.Folded, stats.Busy, stats.Failed)
	return nil
}

func cmdGC(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log, err := newLogger()
	if err != nil {
		return err
	}
	plugin := consolidation.NewPlugin(log, []consolidation.Config{
		{Resource: args[0], Field: args[1]},
	}, consolidation.PluginOptions{})

	database, err := openDB(ctx, log, plugin)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	c, err := plugin.Consolidator(args[0], args[1])
	if err != nil {
		return err
	}
	removed, err := c.GC(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d applied transactions\n", removed)
	return nil
}
