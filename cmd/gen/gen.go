package gen

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var RootCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate gwlink documentation",
	Long:  `Generate man pages and markdown reference docs for the gwlink CLI.`,
}

func init() {
	RootCmd.AddCommand(ManPagesCmd, MarkdownCmd)
}

// ensureDir creates dir when it is missing and reports it on out.
func ensureDir(out io.Writer, dir string) error {
	if _, err := os.Stat(dir); err == nil || !os.IsNotExist(err) {
		return err
	}

	fmt.Fprintln(out, "Directory", dir, "does not exist, creating...")

	return os.MkdirAll(dir, 0750)
}

func dirFlag(cmd *cobra.Command, target *string, def string) {
	flags := cmd.Flags()

	flags.StringVar(target, "dir", def, "the directory to write into")

	// For bash-completion
	if err := flags.SetAnnotation("dir", cobra.BashCompSubdirsInDir, []string{}); err != nil {
		panic(err)
	}
}
