package cmd

import (
	"github.com/spf13/cobra"

	"github.com/OpenSeneca/squadwatch/cmd/serve"
	"github.com/OpenSeneca/squadwatch/cmd/version"
	"github.com/OpenSeneca/squadwatch/pkg/logger"
)

// NewRootCmd builds the base command when called without any subcommands.
func NewRootCmd() *cobra.Command {
	logger := logger.NewDefault()
	rootCmd := &cobra.Command{
		Use:   "squadwatch",
		Short: "A node fleet health monitor",
		Long:  `squadwatch probes a fixed fleet of nodes over SSH and serves their health over an HTTP API.`,
	}

	rootCmd.AddCommand(serve.Command(logger))
	rootCmd.AddCommand(version.NewVersionCmd())
	return rootCmd
}
