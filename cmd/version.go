package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/luma/dgramfs/internal/meta"
)

var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the dgramfs build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), meta.GetInfo())
	},
}
