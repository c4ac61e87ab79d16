package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"offlinegw/internal/offlinegw"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the cache name of the configured release",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := offlinegw.LoadConfig(configPath)
		if err != nil {
			// Without a config only the build default is known.
			fmt.Fprintln(cmd.OutOrStdout(), offlinegw.Release{Prefix: offlinegw.DefaultPrefix, Version: offlinegw.Version}.CacheName())
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), cfg.ReleaseInfo().CacheName())
		return nil
	},
}

var cachesCmd = &cobra.Command{
	Use:   "caches",
	Short: "List named caches in the configured store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := offlinegw.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		store, err := offlinegw.OpenStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		names, err := store.Names(ctx)
		if err != nil {
			return err
		}
		rel := cfg.ReleaseInfo()
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tENTRIES\tSTATUS")
		for _, name := range names {
			keys, err := store.Keys(ctx, name)
			if err != nil {
				return err
			}
			status := "foreign"
			switch {
			case rel.Current(name):
				status = "current"
			case rel.Owns(name):
				status = "stale"
			}
			fmt.Fprintf(tw, "%s\t%d\t%s\n", name, len(keys), status)
		}
		return tw.Flush()
	},
}
