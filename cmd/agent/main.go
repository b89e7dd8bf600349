// Command agent runs natural-language goals through the tool-executing
// agent, either one-shot (do) or interactively (repl).
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/nlagent/internal/config"
	"github.com/example/nlagent/internal/logging"
	"github.com/example/nlagent/internal/orchestrator"
	"github.com/example/nlagent/internal/planner"
	"github.com/example/nlagent/internal/providers/llm"
)

var opts config.Options

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "agent",
		Short:         "Execute natural-language tasks with shell, python, web and db tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&opts.AutoYes, "auto-yes", false, "skip confirmation for risky operations")
	root.PersistentFlags().BoolVar(&opts.DryRun, "dry-run", false, "plan without executing or writing files")
	root.PersistentFlags().StringVar(&opts.Model, "model", "", "override the model name")
	root.PersistentFlags().BoolVar(&opts.AssumeDefaults, "assume-defaults", false, "skip the clarification check")
	root.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging on the console")
	// 0 means unset so AGENT_MAX_PASSES can still apply; the default is 1.
	root.PersistentFlags().IntVar(&opts.Passes, "passes", 0, "number of planning passes, default 1 (>1 enables the iterative planner)")

	root.AddCommand(newDoCmd(), newReplCmd())
	return root
}

func newDoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "do [goal...]",
		Short: "Execute one goal and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			goal := strings.TrimSpace(strings.Join(args, " "))
			env, err := newEnv()
			if err != nil {
				return err
			}
			defer env.close()
			out := env.run(cmd.Context(), goal)
			printOutcome(out)
			if !out.OK {
				os.Exit(1)
			}
			return nil
		},
	}
}

func newReplCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Read goals from stdin, one per line, until EOF or 'exit'",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnv()
			if err != nil {
				return err
			}
			defer env.close()

			sc := bufio.NewScanner(os.Stdin)
			sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for {
				fmt.Print("goal> ")
				if !sc.Scan() {
					break
				}
				goal := strings.TrimSpace(sc.Text())
				if goal == "" {
					continue
				}
				if goal == "exit" || goal == "quit" {
					break
				}
				printOutcome(env.run(cmd.Context(), goal))
			}
			return sc.Err()
		},
	}
}

// runEnv holds the shared wiring for one process: config, logger, oracle
// and both execution engines.
type runEnv struct {
	cfg    *config.Settings
	logger *zap.Logger
	orch   *orchestrator.Orchestrator
	plan   *planner.Planner
}

func newEnv() (*runEnv, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.LogsDir, cfg.Verbose)
	if err != nil {
		return nil, err
	}
	client := llm.New(cfg, &llm.InteractionLog{Dir: cfg.LogsDir, Log: logger})
	return &runEnv{
		cfg:    cfg,
		logger: logger,
		orch:   orchestrator.New(cfg, client, logger),
		plan:   planner.New(cfg, client, logger),
	}, nil
}

func (e *runEnv) close() { _ = e.logger.Sync() }

// outcome is the engine-independent result view the CLI prints.
type outcome struct {
	OK        bool
	Artifacts []string
	Message   string
}

// run dispatches to the single-pass orchestrator or, when more than one
// pass is requested, the iterative planner.
func (e *runEnv) run(ctx context.Context, goal string) outcome {
	if e.cfg.MaxPasses > 1 {
		out := e.plan.Run(ctx, goal)
		return outcome{OK: out.OK, Artifacts: out.Artifacts, Message: out.Message}
	}
	out := e.orch.Execute(ctx, goal)
	return outcome{OK: out.OK, Artifacts: out.Artifacts, Message: out.Message}
}

func printOutcome(out outcome) {
	status := "OK"
	if !out.OK {
		status = "FAILED"
	}
	fmt.Printf("[%s] %s\n", status, out.Message)
	for _, a := range out.Artifacts {
		fmt.Println("  artifact:", a)
	}
}
