// Package cmd contains the parley command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Parley - retrieval-grounded conversation service",
	Long: `Parley is an HTTP service for retrieval-grounded conversations.
It indexes submitted documents into a pgvector store and answers
conversation turns with agent replies grounded in the indexed content.

Run 'parley serve' to start the server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
