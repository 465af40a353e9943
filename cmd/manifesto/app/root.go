// Package app provides the entry point for the manifesto authorization
// server command-line application.
package app

import (
	"github.com/Abraxas-365/manifesto/pkg/logx"
	"github.com/spf13/cobra"
)

var debug bool

var rootCmd = &cobra.Command{
	Use:               "manifesto",
	DisableAutoGenTag: true,
	Short:             "OAuth 2.1 / OIDC authorization server",
	Long: `manifesto is an OAuth 2.1 + OpenID Connect authorization server with an
integrated identity store and RBAC engine.`,
	PersistentPreRun: func(*cobra.Command, []string) {
		if debug {
			logx.SetLevel(logx.LevelDebug)
		}
	},
}

// NewRootCmd creates the root command for the manifesto CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)

	return rootCmd
}
