package gen

import (
	"github.com/spf13/cobra"
)

var RootCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate docs for vst",
	Long:  `Generate docs for vst`,
}

func init() {
	RootCmd.AddCommand(ManPagesCmd)
}
