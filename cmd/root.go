package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luma/velocystream/cmd/gen"
)

// The TOML config file, overrides VST_CONFIG_FILE
var configFile string

var RootCmd = &cobra.Command{
	Use:   "vst",
	Short: "VelocyStream server and client",
	Long: `VelocyStream server and client

vst speaks the chunked VelocyStream protocol, versions 1.0 and 1.1, over
TCP or unix sockets.`,
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&configFile, "config", "", "TOML config file, overrides the environment")

	RootCmd.AddCommand(StartCmd)
	RootCmd.AddCommand(RequestCmd)
	RootCmd.AddCommand(VersionCmd)
	RootCmd.AddCommand(gen.RootCmd)
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
