package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/moodlens/moodlens/internal/version"
)

func main() {
	root := &cobra.Command{
		Use:   "moodlens",
		Short: "Embeddable conversation sentiment panel service",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the panel service",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}

	tokenCmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue an API token for an embedding host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(args[0])
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.GetInfo())
		},
	}

	root.AddCommand(serveCmd, tokenCmd, versionCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
