package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCommand(info BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "switchboard %s\n", info.Version)
			fmt.Fprintf(out, "  commit:     %s\n", info.Commit)
			fmt.Fprintf(out, "  built:      %s\n", info.Date)
			fmt.Fprintf(out, "  go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "  platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
