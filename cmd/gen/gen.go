package gen

import (
	"github.com/spf13/cobra"
)

// RootCmd groups the commands that produce files from the command tree
// rather than serving or talking to a file server.
var RootCmd = &cobra.Command{
	Use:   "gen",
	Short: "Produce docs from the dgramfs command tree",
	Long: `Produce docs from the dgramfs command tree.

Nothing here talks to a server. The output is built from the commands
and flags compiled into this binary, so it always matches the version
that wrote it.`,
}

func init() {
	RootCmd.AddCommand(ManPagesCmd)
}
