// chat - terminal client for a single agent conversation
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/adagent/internal/agent"
	"github.com/ashureev/adagent/internal/chat"
	"github.com/ashureev/adagent/internal/identity"
)

// shutdownGrace bounds how long leaving waits for an in-flight exchange.
const shutdownGrace = time.Second

type options struct {
	agentURL string
	appName  string
	timeout  time.Duration
	verbose  bool
}

func main() {
	// .env is optional for the CLI.
	_ = godotenv.Load()

	opts := options{}
	rootCmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the video ads agent from the terminal",
		Long: "chat opens one conversation with the remote agent and relays each line\n" +
			"typed on stdin as a turn. Type /quit or send EOF to leave.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runChat(ctx, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	rootCmd.Flags().StringVar(&opts.agentURL, "agent-url", envOr("AGENT_BASE_URL", agent.DefaultBaseURL), "Base URL of the agent service")
	rootCmd.Flags().StringVar(&opts.appName, "app-name", envOr("AGENT_APP_NAME", agent.DefaultAppName), "Agent application name")
	rootCmd.Flags().DurationVar(&opts.timeout, "timeout", 60*time.Second, "Timeout for each agent request")
	rootCmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log diagnostics to stderr")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runChat(ctx context.Context, opts options, in io.Reader, out io.Writer) error {
	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	client, err := agent.NewClient(agent.ClientConfig{
		BaseURL:        opts.agentURL,
		AppName:        opts.appName,
		RequestTimeout: opts.timeout,
	}, nil, logger)
	if err != nil {
		return err
	}

	view := newTerminalView(out)
	ctrl := chat.NewController(client, identity.Random{},
		chat.WithView(view),
		chat.WithLogger(logger),
	)
	defer func() {
		ctrl.Close()
		if !waitBounded(ctrl, shutdownGrace) {
			logger.Debug("Leaving with an exchange still in flight")
		}
	}()

	// A blocked read cannot observe ctx; closing the input releases it.
	if c, ok := in.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}

	pair := ctrl.Pair()
	fmt.Fprintf(out, "User: %s  Session: %s\n", pair.UserID, pair.SessionID)
	ctrl.Start()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(out, "you> ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return nil
			}
			line = l
		}

		if strings.TrimSpace(line) == "/quit" {
			return nil
		}
		if !ctrl.Submit(line) {
			continue
		}

		select {
		case <-view.Idle():
		case <-ctx.Done():
			return nil
		}
	}
}

// waitBounded waits for ctrl's background work for at most d. A closed
// controller discards whatever completes later.
func waitBounded(ctrl *chat.Controller, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		ctrl.Wait()
		close(done)
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
