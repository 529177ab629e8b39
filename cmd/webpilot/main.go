package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/v0xg/webpilot/internal/agent"
	"github.com/v0xg/webpilot/internal/browser"
	"github.com/v0xg/webpilot/internal/planner"
	"github.com/v0xg/webpilot/internal/server"
	"github.com/v0xg/webpilot/internal/session"
)

var (
	provider    string
	model       string
	width       int
	height      int
	profile     string
	output      string
	dbPath      string
	addr        string
	maxSessions int
	maxSteps    int
	idleTimeout time.Duration
	verbose     bool
)

func main() {
	// Load .env file if present (silently ignore if not found)
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "webpilot",
		Short: "AI-guided browser automation agent",
		Long: `webpilot drives a headless browser with a vision-language model: it
captures the page, asks the model for the next action, validates it, executes
it, and records the step history.

Example:
  webpilot run "https://myapp.com" "log in with test@example.com and open settings"`,
	}

	rootCmd.PersistentFlags().StringVar(&provider, "provider", "", "AI provider: claude, openai (default: from env or claude)")
	rootCmd.PersistentFlags().StringVar(&model, "model", "", "Specific model override")
	rootCmd.PersistentFlags().IntVar(&width, "width", 1280, "Viewport width")
	rootCmd.PersistentFlags().IntVar(&height, "height", 720, "Viewport height")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "Chrome/Chromium profile directory for authenticated sessions (close browser first)")
	rootCmd.PersistentFlags().IntVar(&maxSteps, "max-steps", 25, "Maximum loop steps per goal")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed progress")

	runCmd := &cobra.Command{
		Use:   "run <url> <goal>",
		Short: "Run one browsing goal to completion",
		Args:  cobra.ExactArgs(2),
		RunE:  runGoal,
	}
	runCmd.Flags().StringVarP(&output, "output", "o", "final.png", "Where to write the final screenshot")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the session API over HTTP",
		RunE:  serve,
	}
	serveCmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	serveCmd.Flags().StringVar(&dbPath, "db", "webpilot.db", "Step history database path (empty to disable)")
	serveCmd.Flags().IntVar(&maxSessions, "max-sessions", 4, "Maximum concurrent sessions")
	serveCmd.Flags().DurationVar(&idleTimeout, "idle-timeout", 10*time.Minute, "Close sessions idle longer than this")

	rootCmd.AddCommand(runCmd, serveCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func buildLogger() *zap.Logger {
	if verbose {
		logger, err := zap.NewDevelopment()
		if err == nil {
			return logger
		}
	}
	return zap.NewNop()
}

func selectedProvider() string {
	if provider != "" {
		return provider
	}
	if p := os.Getenv("WEBPILOT_DEFAULT_PROVIDER"); p != "" {
		return p
	}
	return "claude"
}

func runGoal(cmd *cobra.Command, args []string) error {
	url := args[0]
	goal := args[1]
	logger := buildLogger()
	defer logger.Sync()

	name := selectedProvider()
	fmt.Printf("→ Initializing %s planner... ", name)
	p, err := planner.New(name, model)
	if err != nil {
		fmt.Println("failed")
		return fmt.Errorf("planner init failed: %w", err)
	}
	fmt.Println("done")

	mgr := session.NewManager(session.Config{
		MaxSessions: 1,
		CloseGrace:  5 * time.Second,
		NewBrowser: func() (session.Browser, error) {
			return browser.New(browser.Options{Width: width, Height: height, ProfileDir: profile}, logger)
		},
	}, nil, logger)
	defer mgr.CloseAll()

	loopCfg := agent.DefaultConfig()
	loopCfg.MaxSteps = maxSteps
	loop := agent.New(p, mgr, loopCfg, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("→ Opening %s... ", url)
	sess, err := mgr.Create(ctx)
	if err != nil {
		fmt.Println("failed")
		return fmt.Errorf("session create failed: %w", err)
	}
	if _, err := loop.Seed(ctx, sess, url); err != nil {
		fmt.Println("failed")
		return err
	}
	fmt.Println("done")

	fmt.Printf("→ Goal: %s\n", goal)
	for i := 0; i < maxSteps; i++ {
		step, err := loop.Step(ctx, sess, goal)
		if err != nil {
			return err
		}
		printStep(i+1, step)

		if sess.Finished() {
			break
		}
		if reason := sess.FailureReason(); reason != "" {
			return fmt.Errorf("session failed: %s", reason)
		}
	}

	if !sess.Finished() {
		fmt.Println("⚠ Step limit reached before the goal finished")
	}

	if png := sess.LastScreenshot(); len(png) > 0 {
		if err := os.WriteFile(output, png, 0o644); err != nil {
			return fmt.Errorf("failed to write screenshot: %w", err)
		}
		fmt.Printf("✓ Final screenshot saved to %s (%d steps)\n", output, len(sess.Steps()))
	}
	return nil
}

// printStep prints one loop iteration the way the history records it.
func printStep(n int, step *session.Step) {
	status := "✓"
	detail := ""
	if !step.Result.OK {
		status = "✗"
		detail = " (" + step.Result.Reason + ")"
	}
	switch step.Proposal.Kind {
	case "type":
		fmt.Printf("  [%d] %s type %q%s\n", n, status, step.Proposal.Text, detail)
	case "click":
		fmt.Printf("  [%d] %s click (%d,%d) %s%s\n", n, status, step.Proposal.X, step.Proposal.Y, step.Proposal.Target, detail)
	case "navigate":
		fmt.Printf("  [%d] %s navigate %s%s\n", n, status, step.Proposal.URL, detail)
	case "scroll":
		fmt.Printf("  [%d] %s scroll (%d,%d)%s\n", n, status, step.Proposal.X, step.Proposal.Y, detail)
	case "wait":
		fmt.Printf("  [%d] %s wait %dms%s\n", n, status, step.Proposal.WaitMS, detail)
	default:
		fmt.Printf("  [%d] %s %s%s\n", n, status, step.Proposal.Kind, detail)
	}
}

func serve(cmd *cobra.Command, args []string) error {
	logger := buildLogger()
	if !verbose {
		l, err := zap.NewProduction()
		if err != nil {
			return err
		}
		logger = l
	}
	defer logger.Sync()

	p, err := planner.New(selectedProvider(), model)
	if err != nil {
		return fmt.Errorf("planner init failed: %w", err)
	}

	var store *session.Store
	if dbPath != "" {
		store, err = session.OpenStore(dbPath)
		if err != nil {
			return fmt.Errorf("step store init failed: %w", err)
		}
		defer store.Close()
	}

	mgr := session.NewManager(session.Config{
		MaxSessions: maxSessions,
		IdleTimeout: idleTimeout,
		CloseGrace:  5 * time.Second,
		NewBrowser: func() (session.Browser, error) {
			return browser.New(browser.Options{Width: width, Height: height, ProfileDir: profile}, logger)
		},
	}, store, logger)

	loopCfg := agent.DefaultConfig()
	loopCfg.MaxSteps = maxSteps
	loop := agent.New(p, mgr, loopCfg, logger)

	srv := &http.Server{
		Addr:    addr,
		Handler: server.New(loop, mgr, logger).Router(),
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Idle sweep runs in the background, never in the request path.
	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				mgr.ExpireIdle(mgr.IdleTimeout())
			case <-gctx.Done():
				return nil
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		mgr.CloseAll()
		return nil
	})

	return g.Wait()
}
