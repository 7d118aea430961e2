package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"happin/internal/classify"
	"happin/internal/domain"

	"github.com/spf13/cobra"
)

type analysis struct {
	Strategy string                `json:"strategy"`
	Priority domain.PriorityResult `json:"priority"`
	Summary  domain.SummaryResult  `json:"summary"`
}

func analyzeCmd() *cobra.Command {
	var (
		ch        string
		subject   string
		heuristic bool
	)
	cmd := &cobra.Command{
		Use:   "analyze [text...]",
		Short: "Classify and summarize text without storing it",
		Long:  "Analyzes the given text, or stdin when no text is passed, and prints the result as JSON.",
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if text == "" {
				b, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				text = string(b)
			}
			if strings.TrimSpace(text) == "" {
				return errors.New("nothing to analyze")
			}
			channel := domain.Channel(ch)
			if !channel.Valid() {
				return fmt.Errorf("unknown channel %q", ch)
			}

			cfg, closer, err := loadConfig()
			if err != nil {
				return err
			}
			defer closer.Close()
			if heuristic {
				cfg.Classifier.Strategy = classify.StrategyHeuristic
			}
			engine, err := newEngine(cfg)
			if err != nil {
				return err
			}

			msg := &domain.Message{
				Channel:    channel,
				ChannelID:  "cli",
				From:       domain.Participant{Name: "User"},
				Subject:    subject,
				Body:       text,
				ReceivedAt: time.Now().UTC(),
			}
			p, s := engine.Analyze(context.Background(), msg)
			p.Priority = domain.ClampPriority(p.Priority)

			return printJSON(analysis{Strategy: engine.Strategy(), Priority: p, Summary: s})
		},
	}
	cmd.Flags().StringVar(&ch, "channel", string(domain.ChannelGeneric), "channel the text is treated as coming from")
	cmd.Flags().StringVar(&subject, "subject", "", "optional subject line")
	cmd.Flags().BoolVar(&heuristic, "heuristic", false, "force the heuristic strategy")
	return cmd
}
