// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package process

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/zeebo/errs"
	yaml "gopkg.in/yaml.v3"
)

// Viper returns a viper instance layered from the command's flags, the
// S3DB_ environment and, when cfgFile names an existing file, the
// config file. Lowest priority first: flag defaults, file, environment.
func Viper(cmd *cobra.Command, cfgFile string) (*viper.Viper, error) {
	vip := viper.New()
	if err := vip.BindPFlags(cmd.Flags()); err != nil {
		return nil, Error.Wrap(err)
	}
	vip.SetEnvPrefix("s3db")
	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	vip.AutomaticEnv()

	if cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			vip.SetConfigFile(cfgFile)
			if err := vip.ReadInConfig(); err != nil {
				return nil, Error.New("reading %s: %v", cfgFile, err)
			}
		}
	}
	return vip, nil
}

// SaveConfig writes the command's savable settings to outfile as YAML,
// with overrides taking precedence. Flags annotated setup or hidden
// never land in the file; the rest is kept so a generated file
// documents the full surface.
func SaveConfig(cmd *cobra.Command, outfile string, overrides map[string]interface{}) error {
	flags := cmd.Flags()
	vip, err := Viper(cmd, "")
	if err != nil {
		return err
	}
	if err := vip.MergeConfigMap(overrides); err != nil {
		return Error.Wrap(err)
	}
	settings := vip.AllSettings()

	var filterSettings func(string, map[string]interface{})
	filterSettings = func(base string, settings map[string]interface{}) {
		for key, value := range settings {
			if value, ok := value.(map[string]interface{}); ok {
				filterSettings(base+key+".", value)
				if len(value) == 0 {
					delete(settings, key)
				}
				continue
			}

			fullKey := base + key
			f := flags.Lookup(fullKey)
			if f == nil {
				if _, overridden := overrides[fullKey]; !overridden {
					delete(settings, key)
				}
				continue
			}
			if readBoolAnnotation(f, "setup") || readBoolAnnotation(f, "hidden") {
				delete(settings, key)
			}
		}
	}
	filterSettings("", settings)

	var data []byte
	if len(settings) > 0 {
		data, err = yaml.Marshal(settings)
		if err != nil {
			return Error.Wrap(err)
		}
	}
	return atomicWrite(outfile, 0600, data)
}

func readBoolAnnotation(flag *pflag.Flag, key string) bool {
	annotation := flag.Annotations[key]
	return len(annotation) > 0 && annotation[0] == "true"
}

func atomicWrite(outfile string, mode os.FileMode, data []byte) (err error) {
	fh, err := os.CreateTemp(filepath.Dir(outfile), filepath.Base(outfile))
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() {
		if err != nil {
			err = errs.Combine(err, fh.Close())
			err = errs.Combine(err, os.Remove(fh.Name()))
		}
	}()
	if _, err := fh.Write(data); err != nil {
		return Error.Wrap(err)
	}
	if err := fh.Chmod(mode); err != nil {
		return Error.Wrap(err)
	}
	if err := fh.Sync(); err != nil {
		return Error.Wrap(err)
	}
	if err := fh.Close(); err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(os.Rename(fh.Name(), outfile))
}
