package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/martinemde/autoagent/autoagent"
	"github.com/martinemde/autoagent/registry"
	"github.com/martinemde/autoagent/stream"
)

type runOptions struct {
	agentID    string
	sessionID  string
	maxSteps   int
	answerOnly bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [flags] <message>",
		Short: "Run one task and print its progress",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root, prometheus.NewRegistry(), registry.NewToolRegistry())
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := a.close(ctx); err != nil {
					a.logger.Warn("shutdown", "error", err)
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sink := stream.NewConsoleSink(cmd.OutOrStdout())
			sink.AnswerOnly = opts.answerOnly
			_, err = a.engine.Run(ctx, autoagent.TaskRequest{
				AgentID:   opts.agentID,
				Message:   strings.Join(args, " "),
				SessionID: opts.sessionID,
				MaxSteps:  opts.maxSteps,
			}, sink)
			return err
		},
	}
	cmd.Flags().StringVarP(&opts.agentID, "agent", "a", "", "agent ID whose flow to run (required)")
	cmd.Flags().StringVar(&opts.sessionID, "session", "", "session ID (default: generated)")
	cmd.Flags().IntVarP(&opts.maxSteps, "max-steps", "n", 5, "maximum loop iterations")
	cmd.Flags().BoolVar(&opts.answerOnly, "answer-only", false, "print only the final answer and errors")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}
