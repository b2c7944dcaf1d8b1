package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luma/dgramfs/cmd/gen"
)

var RootCmd = &cobra.Command{
	Use:   "dgramfs",
	Short: "Remote file access over UDP with at-least-once or at-most-once calls",
	Long: `dgramfs serves a set of text files over UDP. Clients can read, insert
into, append to and monitor files. The server runs with either at-least-once
or at-most-once invocation semantics.`,
	SilenceUsage: true,
}

func init() {
	RootCmd.AddCommand(ServerCmd)
	RootCmd.AddCommand(ClientCmd)
	RootCmd.AddCommand(VersionCmd)
	RootCmd.AddCommand(gen.RootCmd)
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
