// commands.go contains all cobra command definitions for mla: run, resume,
// and inspect.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskmesh/mla/internal/agentexec"
	"github.com/taskmesh/mla/internal/cleaner"
	"github.com/taskmesh/mla/internal/events"
	"github.com/taskmesh/mla/internal/hierarchy"
	"github.com/taskmesh/mla/internal/observability"
	"github.com/taskmesh/mla/internal/store"
	"github.com/taskmesh/mla/pkg/models"
)

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mla",
		Short: "mla runs the hierarchical multi-agent orchestrator",
		Long: `mla drives a call-tree of LLM agents against a task: each agent
perceives its context, acts by calling tools or recursing into sub-agents,
and checkpoints its state after every transition so a crashed or
interrupted run can resume exactly where it left off.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(buildRunCmd(), buildResumeCmd(), buildInspectCmd())
	return rootCmd
}

func commonFlags(cmd *cobra.Command, f *runtimeFlags) {
	cmd.Flags().StringVar(&f.configDir, "config-dir", "./run_env_config", "directory containing llm_config.yaml and tool_config.yaml")
	cmd.Flags().StringVar(&f.libraryRoot, "library-root", "./agent_library", "directory containing per-system agent library subdirectories")
	cmd.Flags().StringVar(&f.system, "system", "default", "agent library system name (agent_library/<system>/)")
	cmd.Flags().StringVar(&f.stateDir, "state-dir", "./state", "directory the Persistence Store writes task state under")
	cmd.Flags().StringVar(&f.stateBackend, "state-backend", "file", "persistence backend: file, sqlite, or postgres")
	cmd.Flags().StringVar(&f.stateDSN, "state-dsn", "", "sqlite file path or postgres DSN when --state-backend is not file")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "enable debug logging")
}

func buildRunCmd() *cobra.Command {
	var f runtimeFlags
	var rootAgent string

	cmd := &cobra.Command{
		Use:   "run <task-path> <input>",
		Short: "start or resume a task from its task path and user input",
		Long: `run reconciles the task's persisted state against the given input
(the State Cleaner decides whether this is a fresh start, a same-task
resume, or an interrupted-task archive), then pushes the root agent and
drives it to a final_output, an error, or MAX_TURNS exhaustion.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskPath, input := args[0], args[1]
			return runTask(cmd.Context(), f, taskPath, rootAgent, input)
		},
	}
	commonFlags(cmd, &f)
	cmd.Flags().StringVar(&rootAgent, "root-agent", "", "root agent name (defaults to the library's sole root agent)")
	return cmd
}

func buildResumeCmd() *cobra.Command {
	var f runtimeFlags
	var rootAgent string

	cmd := &cobra.Command{
		Use:   "resume <task-path>",
		Short: "resume an in-flight task with its last recorded instruction",
		Long: `resume re-enters a task using the last instruction recorded in its
Task Context, with no new user input — the State Cleaner always takes the
same-task-resume path since the instruction text is unchanged.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskPath := args[0]
			input, err := lastInstruction(f, taskPath)
			if err != nil {
				return err
			}
			return runTask(cmd.Context(), f, taskPath, rootAgent, input)
		},
	}
	commonFlags(cmd, &f)
	cmd.Flags().StringVar(&rootAgent, "root-agent", "", "root agent name (defaults to the library's sole root agent)")
	return cmd
}

func buildInspectCmd() *cobra.Command {
	var f runtimeFlags
	var brief bool

	cmd := &cobra.Command{
		Use:   "inspect <task-path>",
		Short: "replay a task's JSONL event log as a human-readable timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspectTask(f, args[0], brief)
		},
	}
	commonFlags(cmd, &f)
	cmd.Flags().BoolVar(&brief, "brief", false, "compact one-line-per-event timeline")
	return cmd
}

// taskFingerprint resolves taskPath to an absolute path and fingerprints it,
// so relative paths on the command line still key consistently.
func taskFingerprint(taskPath string) (string, error) {
	abs, err := filepath.Abs(taskPath)
	if err != nil {
		return "", fmt.Errorf("mla: resolve task path: %w", err)
	}
	return store.Fingerprint(abs), nil
}

// lastInstruction reads taskPath's persisted Task Context and returns the
// text of its most recent instruction, so resume can hand it back to the
// State Cleaner unchanged.
func lastInstruction(f runtimeFlags, taskPath string) (string, error) {
	st, err := openStore(f)
	if err != nil {
		return "", fmt.Errorf("mla resume: open state store: %w", err)
	}
	fp, err := taskFingerprint(taskPath)
	if err != nil {
		return "", err
	}
	var tc models.TaskContext
	ok, err := st.Read(fp, store.KindContext, "", &tc)
	if err != nil {
		return "", fmt.Errorf("mla resume: read context: %w", err)
	}
	if !ok || len(tc.Current.Instructions) == 0 {
		return "", fmt.Errorf("mla resume: no in-flight task found for %s", taskPath)
	}
	return tc.Current.Instructions[len(tc.Current.Instructions)-1].Text, nil
}

// runTask wires the full runtime, runs the State Cleaner, pushes the root
// agent, and drives the Agent Executor's perceive-act loop, mapping the
// outcome onto the driver's exit codes.
func runTask(ctx context.Context, f runtimeFlags, taskPath, rootAgentName, input string) error {
	rt, err := buildRuntime(f)
	if err != nil {
		return err
	}
	defer rt.shutdown(context.Background())

	fp, err := taskFingerprint(taskPath)
	if err != nil {
		return err
	}
	mode, err := cleaner.Clean(rt.store, fp, input)
	if err != nil {
		return fmt.Errorf("mla: state cleaner: %w", err)
	}

	if rootAgentName == "" {
		roots := rt.library.RootAgents()
		if len(roots) != 1 {
			return fmt.Errorf("mla: --root-agent is required when the library defines %d root agents", len(roots))
		}
		rootAgentName = roots[0].Name
	}

	hier, err := hierarchy.New(fp, rt.store)
	if err != nil {
		return fmt.Errorf("mla: hierarchy manager: %w", err)
	}

	// A resumed run keeps its existing instruction row; anything else opens a
	// new one.
	var instructionID string
	if mode == cleaner.ModeResume {
		instructionID = hier.LastInstructionID()
	} else {
		instructionID, err = hier.StartNewInstruction(input)
		if err != nil {
			return fmt.Errorf("mla: start instruction: %w", err)
		}
	}

	emitter, closeEmitter, err := rt.buildEmitter(fp)
	if err != nil {
		return err
	}
	defer closeEmitter()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx = observability.AddTaskID(ctx, fp)
	ctx = observability.AddInstructionID(ctx, instructionID)

	exec := agentexec.New(agentexec.Options{
		TaskID:     fp,
		Store:      rt.store,
		Hierarchy:  hier,
		Library:    rt.library,
		LLMConfig:  rt.llmConfig,
		LLM:        rt.llmClient,
		Thinking:   rt.thinker,
		Builder:    rt.builder,
		ToolServer: rt.toolServer,
		Emitter:    emitter,
		Logger:     rt.logger,
		Metrics:    rt.metrics,
		Tracer:     rt.tracer,
	})

	start := time.Now()
	emitter.Start(ctx, rootAgentName, input)
	output, runErr := exec.RunAgent(ctx, fp, rootAgentName, input)
	elapsed := time.Since(start).Milliseconds()
	if ctx.Err() != nil {
		emitter.End(ctx, "interrupted", elapsed)
		return &exitCodeError{code: exitInterrupt, err: ctx.Err()}
	}
	if runErr != nil {
		emitter.End(ctx, "error", elapsed)
		return &exitCodeError{code: exitError, err: runErr}
	}
	if err := hier.CompleteInstruction(instructionID); err != nil {
		rt.logger.Warn(ctx, "mla: close instruction", "error", err.Error())
	}
	emitter.End(ctx, "ok", elapsed)
	fmt.Fprintln(os.Stdout, output)
	return nil
}

// inspectTask replays taskPath's event log line by line as a timeline.
func inspectTask(f runtimeFlags, taskPath string, brief bool) error {
	if f.stateDir == "" {
		f.stateDir = "./state"
	}
	fp, err := taskFingerprint(taskPath)
	if err != nil {
		return err
	}
	logPath := (&runtime{stateDir: f.stateDir}).eventLogPath(fp)

	file, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("mla inspect: open event log: %w", err)
	}
	defer file.Close()

	evs, err := events.Replay(file)
	if err != nil {
		return fmt.Errorf("mla inspect: %w", err)
	}
	if brief {
		fmt.Print(events.Timeline(evs))
		return nil
	}
	for _, ev := range evs {
		printEvent(ev)
	}
	return nil
}

func printEvent(ev models.Event) {
	ts := ev.Time.Format(time.RFC3339)
	switch ev.Type {
	case models.EventStart:
		fmt.Printf("%s [start]  agent=%s input=%q\n", ts, ev.Agent, ev.Text)
	case models.EventToolCall:
		fmt.Printf("%s [tool]   agent=%s tool=%s status=%s\n", ts, ev.Agent, ev.ToolName, ev.Status)
	case models.EventAgentCall:
		fmt.Printf("%s [call]   agent=%s -> %s\n", ts, ev.Agent, ev.Text)
	case models.EventNotice:
		fmt.Printf("%s [notice] %s\n", ts, ev.Text)
	case models.EventWarn:
		fmt.Printf("%s [warn]   %s\n", ts, ev.Text)
	case models.EventError:
		fmt.Printf("%s [error]  agent=%s %s\n", ts, ev.Agent, ev.Text)
	case models.EventResult:
		ok := ev.Ok != nil && *ev.Ok
		fmt.Printf("%s [result] agent=%s ok=%v %s\n", ts, ev.Agent, ok, ev.Summary)
	case models.EventEnd:
		fmt.Printf("%s [end]    task=%s status=%s\n", ts, ev.TaskID, ev.Status)
	default:
		fmt.Printf("%s [%s] %+v\n", ts, ev.Type, ev)
	}
}
