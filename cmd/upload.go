package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jandubois/shutter/internal/config"
	"github.com/jandubois/shutter/internal/daemon"
	"github.com/jandubois/shutter/internal/db"
	"github.com/jandubois/shutter/internal/deliver"
)

var uploadCmd = &cobra.Command{
	Use:   "upload FILE",
	Short: "Deliver an image file to every configured destination",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)
	addDeliveryFlags(uploadCmd)
	uploadCmd.Flags().String("format", "", "Image format (default: the file extension)")
}

// addDeliveryFlags adds the flags shared by commands that deliver images.
func addDeliveryFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("daemon", false, "Deliver through the running daemon")
	cmd.Flags().Bool("json", false, "Print outcomes as JSON")
	cmd.Flags().Bool("no-history", false, "Do not record deliveries")
	cmd.Flags().Duration("upload-timeout", 0, "Timeout for each destination (0 waits indefinitely)")
}

func runUpload(cmd *cobra.Command, args []string) error {
	path := args[0]
	format, _ := cmd.Flags().GetString("format")
	if format == "" {
		format = strings.TrimPrefix(filepath.Ext(path), ".")
	}
	if format == "" {
		return fmt.Errorf("cannot determine the image format of %s; use --format", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	outcomes, err := deliverImage(cmd, data, strings.ToLower(format))
	if err != nil {
		return err
	}
	return printOutcomes(cmd, outcomes)
}

// deliverImage sends data either through the daemon or directly, depending
// on --daemon.
func deliverImage(cmd *cobra.Command, data []byte, format string) ([]deliver.Outcome, error) {
	ctx := cmd.Context()
	viaDaemon, _ := cmd.Flags().GetBool("daemon")
	if viaDaemon {
		client, err := daemon.Dial(ctx, getSocketPath())
		if err != nil {
			return nil, err
		}
		defer client.Close()
		return client.Upload(ctx, data, format)
	}

	timeout, _ := cmd.Flags().GetDuration("upload-timeout")
	noHistory, _ := cmd.Flags().GetBool("no-history")

	cfg, configPath, exists, err := loadConfigFile()
	if err != nil {
		return nil, err
	}

	outcomes := deliver.NewPipeline(deliver.WithTimeout(timeout)).Deliver(ctx, cfg, data, format)
	advanceCounter(configPath, cfg, exists)

	if !noHistory && len(outcomes) > 0 {
		recordHistory(ctx, format, int64(len(data)), outcomes)
	}
	return outcomes, nil
}

// advanceCounter bumps last_index after a delivery to at least one profile.
// Only an existing file is rewritten; creating one is left to the approval
// prompt of "shutter daemon".
func advanceCounter(path string, cfg *config.Config, exists bool) {
	if len(cfg.Uploaders) == 0 {
		return
	}
	cfg.LastIndex++
	if !exists {
		slog.Debug("configuration file not found, counter not persisted", "path", path)
		return
	}
	if err := config.Save(path, cfg); err != nil {
		slog.Error("failed to persist counter", "error", err)
	}
}

func recordHistory(ctx context.Context, format string, size int64, outcomes []deliver.Outcome) {
	historyPath, err := getHistoryPath()
	if err != nil {
		slog.Warn("delivery history unavailable", "error", err)
		return
	}
	history, err := db.Connect(ctx, historyPath)
	if err != nil {
		slog.Warn("delivery history unavailable", "error", err)
		return
	}
	defer history.Close()

	if err := history.RecordOutcomes(ctx, uuid.New(), format, size, outcomes); err != nil {
		slog.Error("failed to record deliveries", "error", err)
	}
}

func printOutcomes(cmd *cobra.Command, outcomes []deliver.Outcome) error {
	out := cmd.OutOrStdout()
	asJSON, _ := cmd.Flags().GetBool("json")
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(outcomes)
	}

	if len(outcomes) == 0 {
		fmt.Fprintln(out, "No destinations configured")
		return nil
	}

	failed := 0
	for _, o := range outcomes {
		if o.Success {
			fmt.Fprintf(out, "%s: %s\n", o.Name, o.Location())
			if o.DeletionURL != "" {
				fmt.Fprintf(out, "  delete: %s\n", o.DeletionURL)
			}
			continue
		}
		failed++
		fmt.Fprintf(out, "%s: FAILED: %s\n", o.Name, o.ErrorMessage)
	}
	if failed == len(outcomes) {
		return fmt.Errorf("all %d deliveries failed", failed)
	}
	return nil
}
