package gen

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"

	"github.com/luma/gwlink/internal/meta"
)

var (
	manDir      string
	markdownDir string
)

var ManPagesCmd = &cobra.Command{
	Use:   "man",
	Short: "Generate man pages for gwlink",
	Long: `Generate up-to-date man pages for every gwlink command. By default
the files are written to the "man" directory under the current directory.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		if err := ensureDir(out, manDir); err != nil {
			return err
		}

		header := &doc.GenManHeader{
			Section: "1",
			Manual:  "gwlink Manual",
			Source:  fmt.Sprintf("gwlink %s", meta.Version),
		}

		cmd.Root().DisableAutoGenTag = true

		fmt.Fprintln(out, "Generating gwlink man pages in", manDir, "...")

		if err := doc.GenManTree(cmd.Root(), header, manDir); err != nil {
			return err
		}

		fmt.Fprintln(out, "Done.")

		return nil
	},
}

var MarkdownCmd = &cobra.Command{
	Use:   "markdown",
	Short: "Generate a markdown command reference",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		if err := ensureDir(out, markdownDir); err != nil {
			return err
		}

		cmd.Root().DisableAutoGenTag = true

		fmt.Fprintln(out, "Generating gwlink markdown reference in", markdownDir, "...")

		return doc.GenMarkdownTree(cmd.Root(), markdownDir)
	},
}

func init() {
	dirFlag(ManPagesCmd, &manDir, "man")
	dirFlag(MarkdownCmd, &markdownDir, "docs/cli")
}
