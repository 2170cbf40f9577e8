package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hairizuanbinnoorazman/guiagent/agent"
	"github.com/hairizuanbinnoorazman/guiagent/artifact"
)

var (
	runOperator        string
	runSystemPrompt    string
	runSaveScreenshots bool
)

var runCmd = &cobra.Command{
	Use:   "run [instruction]",
	Short: "Run one instruction locally and print its events",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runLocal,
}

func init() {
	runCmd.Flags().StringVarP(&runOperator, "operator", "o", OperatorBrowser, "operator: "+strings.Join(operatorNames, ", "))
	runCmd.Flags().StringVar(&runSystemPrompt, "system-prompt", "", "system prompt template, overrides agent.system_prompt")
	runCmd.Flags().BoolVar(&runSaveScreenshots, "save-screenshots", false, "store screenshots in the configured storage")
	rootCmd.AddCommand(runCmd)
}

// runEvent is one line of "guiagent run" output.
type runEvent struct {
	RunID       string       `json:"run_id"`
	Iteration   int          `json:"iteration"`
	Status      agent.Status `json:"status"`
	Prediction  string       `json:"prediction,omitempty"`
	StopReason  string       `json:"stop_reason,omitempty"`
	FinalAnswer string       `json:"final_answer,omitempty"`
	Error       *agent.Error `json:"error,omitempty"`
	Screenshot  string       `json:"screenshot,omitempty"`
}

func runLocal(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := newLogger(cfg.Log)

	invoker, err := newModel(ctx, cfg.Model, log)
	if err != nil {
		return fmt.Errorf("failed to initialize model: %w", err)
	}

	var artifacts artifact.Store
	if runSaveScreenshots {
		if artifacts, err = newArtifactStore(ctx, cfg.Storage); err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
	}

	op, err := newOperatorFactory(cfg.Operator, log).Open(ctx, runOperator)
	if err != nil {
		return fmt.Errorf("failed to open operator: %w", err)
	}
	if closer, ok := op.(io.Closer); ok {
		defer closer.Close()
	}

	systemPrompt := cfg.Agent.SystemPrompt
	if runSystemPrompt != "" {
		systemPrompt = runSystemPrompt
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	saved := 0
	onData := func(s agent.RunState) {
		ev := runEvent{
			RunID:       s.ID,
			Iteration:   s.Iteration,
			Status:      s.Status,
			Prediction:  s.Prediction,
			StopReason:  s.StopReason,
			FinalAnswer: s.FinalAnswer,
			Error:       s.Error,
		}
		if artifacts != nil && s.Screenshot != nil && s.Iteration > saved {
			key, err := artifact.SaveScreenshot(ctx, artifacts, s.ID, s.Iteration, s.Screenshot.Base64)
			if err != nil {
				log.Warn(ctx, "failed to store screenshot", map[string]interface{}{
					"iteration": s.Iteration,
					"error":     err.Error(),
				})
			} else {
				saved = s.Iteration
				ev.Screenshot = key
			}
		}
		enc.Encode(ev)
	}

	a, err := agent.New(agent.Config{
		Operator:     op,
		Model:        invoker,
		SystemPrompt: systemPrompt,
		Retry:        retryConfigs(cfg.Retry),
		OnData:       onData,
		Logger:       log,
		MaxLoopCount: cfg.Agent.MaxLoopCount,
		LoopInterval: cfg.Agent.LoopInterval,
	})
	if err != nil {
		return err
	}

	final := a.Run(ctx, "", strings.Join(args, " "))
	switch final.Status {
	case agent.StatusErrored:
		return final.Error
	case agent.StatusCancelled:
		fmt.Fprintln(os.Stderr, "run cancelled")
	}
	return nil
}
