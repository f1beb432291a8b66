package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/luma/velocystream/internal/meta"
)

var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build info",
	Run: func(cmd *cobra.Command, args []string) {
		info := meta.GetInfo()

		fmt.Fprintf(cmd.OutOrStdout(), "vst %s (build %s, branch %s, built %s)\n",
			info.Version, info.Build, info.Branch, info.BuildTime)
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", info.GoVersion, info.Platform, info.GoTag)
	},
}
