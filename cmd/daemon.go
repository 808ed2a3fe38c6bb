package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/jandubois/shutter/internal/capture"
	"github.com/jandubois/shutter/internal/config"
	"github.com/jandubois/shutter/internal/daemon"
	"github.com/jandubois/shutter/internal/db"
	"github.com/jandubois/shutter/internal/deliver"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the capture and delivery daemon",
	Long: `The daemon owns the configuration and serves local clients over a Unix
socket. Clients can read or replace the configuration, upload images to
every configured destination, and request screenshots.

If no configuration file exists, the built-in defaults are written to it
after confirmation (or unconditionally with --yes).`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().Bool("watch", false, "Reload the configuration file when it changes")
	daemonCmd.Flags().String("max-request-size", "16MB", "Maximum size of a single request")
	daemonCmd.Flags().Duration("upload-timeout", 0, "Timeout for each destination (0 waits indefinitely)")
	daemonCmd.Flags().BoolP("yes", "y", false, "Create a default configuration without asking")
	daemonCmd.Flags().Bool("no-history", false, "Do not record deliveries")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	watch, _ := cmd.Flags().GetBool("watch")
	maxSize, _ := cmd.Flags().GetString("max-request-size")
	uploadTimeout, _ := cmd.Flags().GetDuration("upload-timeout")
	yes, _ := cmd.Flags().GetBool("yes")
	noHistory, _ := cmd.Flags().GetBool("no-history")

	maxRequestSize, err := units.RAMInBytes(maxSize)
	if err != nil {
		return fmt.Errorf("invalid --max-request-size: %w", err)
	}

	configPath, err := getConfigPath()
	if err != nil {
		return err
	}
	cfg, created, err := config.LoadOrCreate(configPath, func() bool {
		return yes || confirm(fmt.Sprintf("No configuration at %s. Create one with the defaults?", configPath))
	})
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if created {
		slog.Info("created default configuration", "path", configPath)
	}

	shared := config.NewShared(cfg)
	opts := []daemon.Option{
		daemon.WithMaxRequestSize(maxRequestSize),
		daemon.WithSaver(func(c *config.Config) error { return config.Save(configPath, c) }),
	}

	if !noHistory {
		historyPath, err := getHistoryPath()
		if err != nil {
			return err
		}
		history, err := db.Connect(ctx, historyPath)
		if err != nil {
			return fmt.Errorf("open delivery history: %w", err)
		}
		defer history.Close()
		opts = append(opts, daemon.WithRecorder(history))
	}

	pipeline := deliver.NewPipeline(deliver.WithTimeout(uploadTimeout))
	server := daemon.NewServer(getSocketPath(), shared, pipeline, capture.NewService(nil), opts...)

	slog.Info("starting daemon",
		"config", configPath,
		"socket", getSocketPath(),
		"uploaders", len(cfg.Uploaders),
		"max_request_size", units.BytesSize(float64(maxRequestSize)),
		"watch", watch,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Serve(ctx) })
	if watch {
		g.Go(func() error { return daemon.WatchConfig(ctx, configPath, shared) })
	}
	return g.Wait()
}

// confirm asks a yes/no question on the terminal. Without a terminal the
// answer is no.
func confirm(question string) bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false
	}
	fmt.Fprintf(os.Stderr, "%s [y/N] ", question)
	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
