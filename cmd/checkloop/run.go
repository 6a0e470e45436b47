package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/checkloop/checkloop"
	"github.com/checkloop/checkloop/internal/metrics"
	"github.com/checkloop/checkloop/internal/orchestrator"
	"github.com/checkloop/checkloop/internal/presentation/tui"
	"github.com/checkloop/checkloop/internal/sanitize"
	"github.com/checkloop/checkloop/internal/script"
	"github.com/checkloop/checkloop/internal/task"
	"github.com/checkloop/checkloop/pkg/domain"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a task and validate the result",
	Long: `Runs a single task against the reasoning engine. The task comes from a
task file (-f) or from flags; flags override file values. The final result is
printed to stdout as JSON.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger(cmd)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		t, err := buildTask(cmd)
		if err != nil {
			return err
		}

		var collectors *metrics.Collectors
		if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
			reg := prometheus.NewRegistry()
			collectors = metrics.NewCollectors(reg)
			srv := metrics.NewServer(logger, addr, reg)
			srv.Start()
			defer srv.Stop(context.Background())
		}

		tui.PrintBanner()

		engineURL, _ := cmd.Flags().GetString("engine-url")
		configPath, _ := cmd.Flags().GetString("config")
		credsPath, _ := cmd.Flags().GetString("credentials")
		model, _ := cmd.Flags().GetString("model")

		app, err := checkloop.New(ctx, engineURL,
			checkloop.WithLogger(logger),
			checkloop.WithConfig(configPath, credsPath),
			checkloop.WithModel(model),
		)
		if err != nil {
			return fmt.Errorf("initializing: %s", sanitize.Error(err))
		}
		defer app.Close()

		start := time.Now()
		result, runErr := app.Run(ctx, t)
		if runErr != nil {
			result = domain.RunResult{Error: sanitize.Error(runErr)}
		}
		if collectors != nil {
			collectors.ObserveRun(result.Success, time.Since(start))
			collectors.ValidationAttempts.Add(float64(result.Attempts))
		}

		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))

		if result.Success && result.LastMessage != "" {
			render := tui.NewRenderer()
			if rendered, rerr := render(result.LastMessage); rerr == nil {
				fmt.Fprintln(os.Stderr, rendered)
			}
		}

		if !result.Success {
			// Returned, not os.Exit, so the deferred app.Close and metrics
			// shutdown still run.
			return fmt.Errorf("run failed: %s", result.Error)
		}
		return nil
	},
}

// buildTask merges the optional task file with command-line flags; flags
// win.
func buildTask(cmd *cobra.Command) (orchestrator.Task, error) {
	var t orchestrator.Task

	if file, _ := cmd.Flags().GetString("file"); file != "" {
		loaded, err := task.Load(file)
		if err != nil {
			return orchestrator.Task{}, err
		}
		t = loaded
	}

	if cmd.Flags().Changed("prompt") {
		t.Prompt, _ = cmd.Flags().GetString("prompt")
	}
	if cmd.Flags().Changed("script") {
		t.Script, _ = cmd.Flags().GetString("script")
	}
	if cmd.Flags().Changed("runtime") {
		raw, _ := cmd.Flags().GetString("runtime")
		rt, err := script.ParseRuntime(raw)
		if err != nil {
			return orchestrator.Task{}, err
		}
		t.Runtime = rt
	}
	if cmd.Flags().Changed("max-retries") {
		t.MaxRetries, _ = cmd.Flags().GetInt("max-retries")
	}
	if cmd.Flags().Changed("timeout") {
		t.SessionTimeout, _ = cmd.Flags().GetDuration("timeout")
	}
	if cmd.Flags().Changed("workspace") {
		t.WorkspaceRoot, _ = cmd.Flags().GetString("workspace")
	}
	if t.WorkspaceRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return orchestrator.Task{}, err
		}
		t.WorkspaceRoot = wd
	}

	if t.Prompt == "" {
		return orchestrator.Task{}, fmt.Errorf("a prompt is required (use --prompt or a task file)")
	}
	return t, nil
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("file", "f", "", "Task file (YAML)")
	runCmd.Flags().StringP("prompt", "p", "", "Task prompt for the agent")
	runCmd.Flags().StringP("script", "s", "", "Validation script (file, prefixed inline, or bare code with --runtime)")
	runCmd.Flags().String("runtime", "", "Script runtime: python or javascript")
	runCmd.Flags().Int("max-retries", 0, "Validation attempts before giving up")
	runCmd.Flags().Duration("timeout", 0, "Per-session timeout")
	runCmd.Flags().String("workspace", "", "Workspace root for file-based scripts (default: cwd)")
	runCmd.Flags().String("metrics-addr", "", "Serve /metrics and /healthz on this address during the run")
}
