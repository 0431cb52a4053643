package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := NewCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewCommand creates the peoplewatch-cli root command
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "peoplewatch-cli",
		Short:         "Inspect peoplewatch runs and manage API credentials",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		newRunsCommand(),
		newTokenCommand(os.LookupEnv),
		newHashPasswordCommand(),
	)
	return cmd
}
