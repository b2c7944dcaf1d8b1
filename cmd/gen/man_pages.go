package gen

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"

	"github.com/luma/dgramfs/internal/meta"
)

var manDir string

var ManPagesCmd = &cobra.Command{
	Use:   "man",
	Short: "Write a section 1 man page for each dgramfs command",
	Long: `Write a section 1 man page for each dgramfs command.

One page is written per command, named after its path, for example
dgramfs-server.1. Pages land in --dir, which is created when missing.
Existing pages with the same names are replaced.

Usage
	dgramfs gen man --dir /usr/local/share/man/man1
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeManPages(cmd.Root(), manDir, cmd.OutOrStdout())
	},
}

func init() {
	flags := ManPagesCmd.PersistentFlags()

	flags.StringVar(&manDir, "dir", "man", "Where the pages are written")

	// Completes --dir with directories only
	if err := flags.SetAnnotation("dir", cobra.BashCompSubdirsInDir, []string{}); err != nil {
		panic(err)
	}
}

// writeManPages renders root and every command below it into dir.
func writeManPages(root *cobra.Command, dir string, out io.Writer) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("Failed to create %s: %w", dir, err)
	}

	// The generated footer carries a date, which makes every run a diff
	root.DisableAutoGenTag = true

	header := &doc.GenManHeader{
		Section: "1",
		Manual:  "dgramfs Manual",
		Source:  meta.GetInfo().String(),
	}

	if err := doc.GenManTree(root, header, dir); err != nil {
		return fmt.Errorf("Failed to write man pages to %s: %w", dir, err)
	}

	fmt.Fprintln(out, "Wrote man pages to", dir)
	return nil
}
