package main

import (
	"context"
	"fmt"
	"io"
	"iter"
	"math"
	"os"
	"os/signal"
	"strings"

	"github.com/MegaGrindStone/mycochat/internal/assistant"
	"github.com/MegaGrindStone/mycochat/internal/models"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	// Styles.
	reasoningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true)
)

func newAskCmd() *cobra.Command {
	var (
		image       string
		temperature float32
	)

	cmd := &cobra.Command{
		Use:   "ask [question...]",
		Short: "Ask a single question in the terminal",
		Long: `Ask the assistant a single question. The model's reasoning is printed as it streams,
followed by the rendered answer.

Examples:
  mycochat ask "Is the fly agaric edible?"
  mycochat ask --image cap.jpg
  mycochat ask --image cap.jpg "Could this be a chanterelle?"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" && image == "" {
				return fmt.Errorf("a question or an image is required")
			}

			turn := assistant.Turn{Text: question, Attachment: image}
			if cmd.Flags().Changed("temperature") {
				if math.IsNaN(float64(temperature)) || temperature < 0 || temperature > 1 {
					return fmt.Errorf("temperature must be between 0 and 1")
				}
				turn.Temperature = &temperature
			}

			cfg, debug, err := commandConfig(cmd)
			if err != nil {
				return err
			}
			logger := cfg.logger(debug)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			llm, err := cfg.LLM.llm(ctx, logger)
			if err != nil {
				return fmt.Errorf("error creating llm: %w", err)
			}
			if c, ok := llm.(io.Closer); ok {
				defer c.Close()
			}

			a := assistant.New(llm, cfg.assistantOptions(), logger)
			return ask(ctx, a, turn, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&image, "image", "i", "", "Path to a photo of the mushroom")
	cmd.Flags().Float32VarP(&temperature, "temperature", "t", assistant.DefaultTemperature, "Sampling temperature between 0 and 1")

	return cmd
}

type responder interface {
	Respond(ctx context.Context, turn assistant.Turn, transcript *models.Transcript) iter.Seq[models.Entry]
}

// ask runs one turn on a fresh transcript. Reasoning is written as it grows; the answer is rendered as
// markdown once the turn ends.
func ask(ctx context.Context, r responder, turn assistant.Turn, w io.Writer) error {
	rendererOpts := []glamour.TermRendererOption{glamour.WithWordWrap(80)}
	if os.Getenv("NO_COLOR") != "" {
		rendererOpts = append(rendererOpts, glamour.WithStylePath("notty"))
	} else {
		rendererOpts = append(rendererOpts, glamour.WithAutoStyle())
	}
	renderer, err := glamour.NewTermRenderer(rendererOpts...)
	if err != nil {
		return fmt.Errorf("error creating markdown renderer: %w", err)
	}

	var (
		printed int
		answer  string
		notice  bool
	)
	for e := range r.Respond(ctx, turn, models.NewTranscript(nil)) {
		switch {
		case e.Notice:
			notice = true
			answer = e.Content
		case e.Phase == models.PhaseReasoning:
			if printed == 0 && e.Content != "" {
				fmt.Fprintln(w, headerStyle.Render("Thinking"))
			}
			if len(e.Content) > printed {
				fmt.Fprint(w, reasoningStyle.Render(e.Content[printed:]))
				printed = len(e.Content)
			}
		default:
			answer = e.Content
		}
	}
	if printed > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w)
	}

	if notice {
		fmt.Fprintln(w, errorStyle.Render(answer))
		return nil
	}
	if answer == "" {
		return ctx.Err()
	}

	out, err := renderer.Render(answer)
	if err != nil {
		return fmt.Errorf("error rendering answer: %w", err)
	}
	fmt.Fprint(w, out)
	return nil
}
