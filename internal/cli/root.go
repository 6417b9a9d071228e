// Package cli assembles the switchboard command tree.
package cli

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"switchboard/internal/config"
	"switchboard/pkg/fs"
)

// BuildInfo carries compile-time version details injected through ldflags.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// configDir is the persistent --config flag value.
var configDir string

// NewRootCommand builds the command tree.
func NewRootCommand(info BuildInfo) *cobra.Command {
	root := &cobra.Command{
		Use:   "switchboard",
		Short: "Local Anthropic Messages API proxy with request observation",
		Long: `Switchboard is a local reverse proxy for the Anthropic Messages API.
It forwards requests to Anthropic unchanged or rewrites them for an
OpenAI-compatible provider, and keeps an in-memory record of every request
it carries for live inspection on the /monitor page.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				logrus.SetLevel(logrus.TraceLevel)
			}
		},
	}

	root.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	root.PersistentFlags().StringVar(&configDir, "config", "", "configuration directory (default ~/.switchboard)")

	root.AddCommand(newServeCommand(info))
	root.AddCommand(newConfigCommand())
	root.AddCommand(newVersionCommand(info))
	return root
}

// loadConfig opens the configuration named by --config, or the default
// directory when the flag is unset.
func loadConfig() (*config.Config, error) {
	if configDir == "" {
		return config.New()
	}
	expanded, err := fs.ExpandConfigDir(configDir)
	if err != nil {
		return nil, fmt.Errorf("invalid config directory: %w", err)
	}
	return config.NewWithConfigDir(expanded)
}
