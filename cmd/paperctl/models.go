package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yanqian/paper-synthesizer/internal/infra/llm/ollama"
)

func modelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List or download models on the local backend",
	}
	cmd.AddCommand(modelsListCmd(), modelsPullCmd())
	return cmd
}

func modelsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed models, marking the default",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment()
			if err != nil {
				return err
			}
			listing := env.registry.List(cmd.Context())
			if listing.Fallback {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v; offering %s\n", listing.Warning, listing.Default)
			}
			if len(listing.Models) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no models installed")
				return nil
			}
			for _, name := range listing.Models {
				marker := " "
				if name == listing.Default {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, name)
			}
			return nil
		},
	}
}

func modelsPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull <name>",
		Short: "Download a model and stream its progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			var last string
			err = env.registry.Pull(cmd.Context(), args[0], func(p ollama.PullProgress) {
				line := p.Status
				if p.Total > 0 {
					line = fmt.Sprintf("%s %d%%", p.Status, p.Completed*100/p.Total)
				}
				if line == last {
					return
				}
				last = line
				fmt.Fprintln(out, line)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "pulled %s\n", args[0])
			return nil
		},
	}
}
