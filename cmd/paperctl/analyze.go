package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/yanqian/paper-synthesizer/internal/domain/analysis"
	"github.com/yanqian/paper-synthesizer/internal/domain/extractor"
	"github.com/yanqian/paper-synthesizer/internal/domain/prompt"
)

type analyzeOptions struct {
	topic         string
	project       string
	model         string
	temperature   float64
	maxTokens     int
	contextWindow int
	language      string
	haltOnFailure bool
	out           string
	plain         bool
}

func analyzeCmd() *cobra.Command {
	var opts analyzeOptions

	cmd := &cobra.Command{
		Use:   "analyze <pdf>",
		Short: "Summarize a paper and draft a discussion section",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment()
			if err != nil {
				return err
			}
			content, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read pdf: %w", err)
			}

			ctx := cmd.Context()
			current, err := env.pipeline.CreateSession(ctx)
			if err != nil {
				return err
			}
			if _, err := env.pipeline.AttachDocument(ctx, current.ID, extractor.Upload{
				Filename: filepath.Base(args[0]),
				Content:  content,
			}); err != nil {
				return err
			}

			params := analysis.Params{
				Generation: prompt.GenerationConfig{
					Model:           opts.model,
					Temperature:     env.cfg.Generation.Temperature,
					MaxOutputTokens: opts.maxTokens,
					ContextWindow:   opts.contextWindow,
				},
				Topic:          opts.topic,
				ProjectContext: opts.project,
				Language:       opts.language,
			}
			if cmd.Flags().Changed("temperature") {
				params.Generation.Temperature = opts.temperature
			}
			if cmd.Flags().Changed("halt-on-failure") {
				params.HaltOnStageFailure = &opts.haltOnFailure
			}
			if params.Generation.Model == "" {
				params.Generation.Model = env.registry.List(ctx).Default
			}

			result, err := env.pipeline.Generate(ctx, current.ID, params)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, notice := range result.Notices {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", notice)
			}
			if result.Result.Summary != nil {
				printSection(out, "Summary", *result.Result.Summary, opts.plain)
			}
			if result.Result.Discussion != nil {
				printSection(out, "Discussion", *result.Result.Discussion, opts.plain)
				artifact, err := env.pipeline.Discussion(ctx, current.ID)
				if err != nil {
					return err
				}
				path := filepath.Join(opts.out, artifact.Filename)
				if err := os.MkdirAll(opts.out, 0o755); err != nil {
					return fmt.Errorf("create output directory: %w", err)
				}
				if err := os.WriteFile(path, artifact.Body, 0o644); err != nil {
					return fmt.Errorf("write discussion draft: %w", err)
				}
				fmt.Fprintf(out, "discussion draft written to %s\n", path)
			}
			if result.State == analysis.StateFailed {
				reason := "analysis failed"
				if result.FailureReason != nil {
					reason = *result.FailureReason
				}
				return errors.New(reason)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.topic, "topic", "", "research topic the summary should relate to")
	cmd.Flags().StringVar(&opts.project, "project", "", "project context for the summary")
	cmd.Flags().StringVar(&opts.model, "model", "", "model to use (default: the registry default)")
	cmd.Flags().Float64Var(&opts.temperature, "temperature", 0.4, "sampling temperature in [0, 1]")
	cmd.Flags().IntVar(&opts.maxTokens, "max-tokens", 0, "maximum output tokens per stage (default: config)")
	cmd.Flags().IntVar(&opts.contextWindow, "context-window", 0, "context window: 2048|8192|32768|128000 (default: config)")
	cmd.Flags().StringVar(&opts.language, "language", "", "language of the discussion draft (default: config)")
	cmd.Flags().BoolVar(&opts.haltOnFailure, "halt-on-failure", false, "skip the discussion when the summary fails")
	cmd.Flags().StringVarP(&opts.out, "out", "o", ".", "directory for discussion_draft.md")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "print raw markdown instead of rendering it")
	return cmd
}

func printSection(w io.Writer, title, markdown string, plain bool) {
	doc := "# " + title + "\n\n" + markdown + "\n"
	if plain {
		fmt.Fprintln(w, doc)
		return
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		fmt.Fprintln(w, doc)
		return
	}
	rendered, err := renderer.Render(doc)
	if err != nil {
		fmt.Fprintln(w, doc)
		return
	}
	fmt.Fprint(w, rendered)
}
