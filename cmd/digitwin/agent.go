package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/v0xg/digitwin/internal/agent"
	"github.com/v0xg/digitwin/internal/ai"
	"github.com/v0xg/digitwin/internal/config"
	"github.com/v0xg/digitwin/internal/crawler"
	"github.com/v0xg/digitwin/internal/executor"
	"github.com/v0xg/digitwin/internal/gifgen"
)

type agentFlags struct {
	maxSteps    int
	provider    string
	model       string
	width       int
	height      int
	headed      bool
	profile     string
	record      string
	autoConfirm bool
}

func newAgentCmd() *cobra.Command {
	f := &agentFlags{}
	cmd := &cobra.Command{
		Use:   "agent <url> <goal>",
		Short: "Run the UI agent against a web app until the goal is reached",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd, f, args[0], args[1])
		},
	}

	cmd.Flags().IntVar(&f.maxSteps, "max-steps", 0, "Step budget (default: agent.max_steps)")
	cmd.Flags().StringVar(&f.provider, "provider", "", "Planner: claude, openai, remote (default: planner.provider)")
	cmd.Flags().StringVar(&f.model, "model", "", "Specific model override")
	cmd.Flags().IntVar(&f.width, "width", 0, "Viewport width")
	cmd.Flags().IntVar(&f.height, "height", 0, "Viewport height")
	cmd.Flags().BoolVar(&f.headed, "headed", false, "Show the browser window")
	cmd.Flags().StringVar(&f.profile, "profile", "", "Chrome/Chromium profile directory for authenticated sessions (close browser first)")
	cmd.Flags().StringVarP(&f.record, "record", "r", "", "Record the run to a GIF file")
	cmd.Flags().BoolVarP(&f.autoConfirm, "yes", "y", false, "Accept sensitive actions without asking")
	return cmd
}

func (f *agentFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("provider") {
		cfg.Planner.Provider = config.PlannerProvider(f.provider)
		cfg.Planner.APIKey = config.PlannerKey(cfg.Planner.Provider)
	}
	if flags.Changed("model") {
		cfg.Planner.Model = f.model
	}
	if flags.Changed("width") {
		cfg.Browser.Width = f.width
	}
	if flags.Changed("height") {
		cfg.Browser.Height = f.height
	}
	if flags.Changed("headed") {
		cfg.Browser.Headless = !f.headed
	}
	if flags.Changed("profile") {
		cfg.Browser.ProfileDir = f.profile
	}
}

func runAgent(cmd *cobra.Command, f *agentFlags, url, goal string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	f.apply(cmd, cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "→ Opening %s... ", url)
	browser, err := crawler.Open(ctx, url, crawler.Options{
		Width:       cfg.Browser.Width,
		Height:      cfg.Browser.Height,
		Headless:    cfg.Browser.Headless,
		LoadTimeout: cfg.Browser.LoadTimeout,
		ProfileDir:  cfg.Browser.ProfileDir,
	}, logger)
	if err != nil {
		fmt.Fprintln(out, "failed")
		return fmt.Errorf("browser failed: %w", err)
	}
	defer browser.Close()
	fmt.Fprintf(out, "done (%d tagged elements)\n", len(crawler.Extract(ctx, browser).Elements))

	planner, err := newAgentPlanner(cfg, logger)
	if err != nil {
		return fmt.Errorf("planner init failed: %w", err)
	}

	exec := executor.New(browser, browser, executor.NewPageRouter(cfg.Agent.Routes), logger)

	p := &progress{out: out, in: cmd.InOrStdin(), autoConfirm: f.autoConfirm}
	opts := []agent.Option{agent.WithObserver(p)}

	var rec *gifgen.Recorder
	if f.record != "" {
		rec = gifgen.NewRecorder(browser, logger)
		rec.Capture(ctx)
		opts = append(opts, agent.WithObserver(rec))
	}

	loop := agent.New(browser, planner, exec, cfg.Agent, logger, opts...)
	p.loop = loop

	fmt.Fprintf(out, "→ Working toward %q via %s\n", goal, cfg.Planner.Provider)
	st, err := loop.Run(ctx, goal, f.maxSteps)
	if err != nil {
		return err
	}

	if rec != nil {
		if err := saveRecording(out, rec, f.record); err != nil {
			logger.Warn("recording not saved", zap.Error(err))
		}
	}

	return report(out, st)
}

func newAgentPlanner(cfg *config.Config, logger *zap.Logger) (ai.Planner, error) {
	planner, err := ai.NewPlanner(cfg.Planner, logger)
	if err != nil {
		return nil, err
	}
	return ai.NewRetryPlanner(planner, cfg.Agent.PlannerRetries, cfg.Agent.PlannerBackoff, logger), nil
}

func saveRecording(out io.Writer, rec *gifgen.Recorder, path string) error {
	frames := len(rec.Frames())
	fmt.Fprintf(out, "→ Generating GIF (%d frames)... ", frames)
	size, err := rec.Save(path, gifgen.Options{
		FrameDelay: 1500 * time.Millisecond,
		HoldLast:   3 * time.Second,
		MaxWidth:   800,
	})
	if err != nil {
		fmt.Fprintln(out, "failed")
		return err
	}
	fmt.Fprintln(out, "done")
	fmt.Fprintf(out, "✓ Saved to %s (%.1f MB)\n", path, float64(size)/(1024*1024))
	return nil
}

func report(out io.Writer, st agent.RunState) error {
	switch {
	case st.Status == agent.StatusCompleted:
		fmt.Fprintf(out, "✓ Goal completed in %d steps\n", len(st.Steps))
	case st.Status == agent.StatusStopped:
		fmt.Fprintf(out, "✗ Stopped after %d steps\n", len(st.Steps))
	case st.Status == agent.StatusErrored:
		return fmt.Errorf("run failed after %d steps: %s", len(st.Steps), st.Error)
	case st.Exhausted:
		fmt.Fprintf(out, "✗ Gave up after %d steps without reaching the goal\n", len(st.Steps))
	}
	return nil
}

// progress prints steps as they happen and answers the confirmation gate from stdin
type progress struct {
	out         io.Writer
	in          io.Reader
	autoConfirm bool
	loop        *agent.Loop
	reader      *bufio.Reader
}

func (p *progress) OnStep(ctx context.Context, step agent.StepRecord) {
	screen := step.UIState.ScreenName()
	if screen == "" {
		screen = "?"
	}
	fmt.Fprintf(p.out, "→ Step %d [%s] %s\n", step.Step, screen, step.Response.Type)
	if step.Response.Reasoning != "" {
		fmt.Fprintf(p.out, "  %s\n", step.Response.Reasoning)
	}
	for i, a := range step.Response.Actions {
		mark := "✓"
		detail := ""
		if i < len(step.ActionResults) && !step.ActionResults[i].Result.Success {
			mark = "✗"
			detail = " (" + step.ActionResults[i].Result.Reason + ")"
		}
		fmt.Fprintf(p.out, "  [%d] %s %s%s\n", i+1, a, mark, detail)
	}
}

func (p *progress) OnFinish(agent.RunState) {}

func (p *progress) OnConfirmationRequest(ctx context.Context, pending agent.PendingConfirmation) {
	if p.autoConfirm {
		_ = p.loop.Confirm(true)
		return
	}
	if p.reader == nil {
		p.reader = bufio.NewReader(p.in)
	}

	fmt.Fprintf(p.out, "? Allow %s? [y/N] ", pending.Action)
	// Reading happens off the run goroutine so a stop is not blocked on stdin.
	go func() {
		line, _ := p.reader.ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		_ = p.loop.Confirm(answer == "y" || answer == "yes")
	}()
}
