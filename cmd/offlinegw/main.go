package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "offlinegw",
	Short:         "Offline-first caching gateway",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(
		&configPath,
		"config", "c",
		getenvDefault("OFFLINEGW_CONFIG", "/offlinegw.yaml"),
		"path to offlinegw.yaml",
	)
	rootCmd.AddCommand(serveCmd, versionCmd, cachesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

func getenvDefault(name, def string) string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	return v
}
