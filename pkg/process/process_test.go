// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package process

import (
	"os"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"storj.io/s3db/internal/testcontext"
)

func TestViperLayersEnvironment(t *testing.T) {
	cmd := &cobra.Command{Use: "serve"}
	url := cmd.Flags().String("url", "memory://", "connection string")
	cmd.Flags().Int("batch", 10, "batch size")

	t.Setenv("S3DB_URL", "s3://bucket/app")
	t.Setenv("S3DB_BATCH", "25")

	vip, err := Viper(cmd, "")
	require.NoError(t, err)
	require.NoError(t, propagate(cmd.Flags(), vip))

	require.Equal(t, "s3://bucket/app", *url)
	batch, err := cmd.Flags().GetInt("batch")
	require.NoError(t, err)
	require.Equal(t, 25, batch)
}

func TestViperReadsConfigFile(t *testing.T) {
	ctx := testcontext.New(t)

	cfgFile := ctx.File("config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("url: file:///tmp/data\n"), 0600))

	cmd := &cobra.Command{Use: "serve"}
	url := cmd.Flags().String("url", "memory://", "connection string")

	vip, err := Viper(cmd, cfgFile)
	require.NoError(t, err)
	require.NoError(t, propagate(cmd.Flags(), vip))
	require.Equal(t, "file:///tmp/data", *url)
}

func TestFlagBeatsConfigFile(t *testing.T) {
	ctx := testcontext.New(t)

	cfgFile := ctx.File("config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("url: file:///tmp/data\n"), 0600))

	cmd := &cobra.Command{Use: "serve"}
	url := cmd.Flags().String("url", "memory://", "connection string")
	require.NoError(t, cmd.Flags().Set("url", "s3://explicit/app"))

	vip, err := Viper(cmd, cfgFile)
	require.NoError(t, err)
	require.NoError(t, propagate(cmd.Flags(), vip))
	require.Equal(t, "s3://explicit/app", *url)
}

func TestSaveConfigSkipsAnnotated(t *testing.T) {
	ctx := testcontext.New(t)

	cmd := &cobra.Command{Use: "serve"}
	cmd.Flags().String("url", "memory://", "connection string")
	cmd.Flags().String("passphrase", "", "secrets passphrase")
	require.NoError(t, cmd.Flags().SetAnnotation("passphrase", "hidden", []string{"true"}))
	cmd.Flags().String("identity", "", "only used during setup")
	require.NoError(t, cmd.Flags().SetAnnotation("identity", "setup", []string{"true"}))

	outfile := ctx.File("config.yaml")
	require.NoError(t, SaveConfig(cmd, outfile, map[string]interface{}{
		"url": "s3://bucket/app",
	}))

	data, err := os.ReadFile(outfile)
	require.NoError(t, err)
	require.Contains(t, string(data), "url: s3://bucket/app")
	require.NotContains(t, string(data), "passphrase")
	require.NotContains(t, string(data), "identity")
}
