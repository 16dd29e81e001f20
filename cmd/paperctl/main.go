package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "paperctl",
		Short:         "Summarize academic papers and draft discussions with a local model",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(modelsCmd(), analyzeCmd())
	return root
}
