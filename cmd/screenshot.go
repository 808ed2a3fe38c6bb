package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jandubois/shutter/internal/capture"
	"github.com/jandubois/shutter/internal/daemon"
)

var screenshotCmd = &cobra.Command{
	Use:   "screenshot",
	Short: "Capture the screen and deliver the image",
	Long: `Capture the whole screen, a region, or a window, and deliver the image to
every configured destination.

With --output the image is written to a file instead of being delivered.`,
	Args: cobra.NoArgs,
	RunE: runScreenshot,
}

func init() {
	rootCmd.AddCommand(screenshotCmd)
	addDeliveryFlags(screenshotCmd)
	screenshotCmd.Flags().String("region", "", "Capture a region given as x,y,w,h")
	screenshotCmd.Flags().Uint64("window", 0, "Capture the window with this id")
	screenshotCmd.Flags().StringP("output", "o", "", "Write the image to this file instead of delivering it")
	screenshotCmd.MarkFlagsMutuallyExclusive("region", "window")
}

func runScreenshot(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	req, err := captureRequest(cmd)
	if err != nil {
		return err
	}

	var shot *capture.Shot
	viaDaemon, _ := cmd.Flags().GetBool("daemon")
	if viaDaemon {
		client, err := daemon.Dial(ctx, getSocketPath())
		if err != nil {
			return err
		}
		defer client.Close()
		shot, err = client.Screenshot(ctx, req)
		if err != nil {
			return err
		}
	} else {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		shot, err = capture.NewService(nil).Capture(ctx, req, cfg.Screenshotter)
		if err != nil {
			return fmt.Errorf("capture %s: %w", req, err)
		}
	}

	if output, _ := cmd.Flags().GetString("output"); output != "" {
		if err := os.WriteFile(output, shot.Data, 0644); err != nil {
			return fmt.Errorf("write image: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", output)
		return nil
	}

	outcomes, err := deliverImage(cmd, shot.Data, shot.Format)
	if err != nil {
		return err
	}
	return printOutcomes(cmd, outcomes)
}

func captureRequest(cmd *cobra.Command) (capture.Request, error) {
	if cmd.Flags().Changed("window") {
		id, _ := cmd.Flags().GetUint64("window")
		return capture.WindowRequest(id), nil
	}
	region, _ := cmd.Flags().GetString("region")
	if region == "" {
		return capture.ScreenRequest(), nil
	}
	return parseRegion(region)
}

// parseRegion parses "x,y,w,h".
func parseRegion(s string) (capture.Request, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return capture.Request{}, fmt.Errorf("region must be x,y,w,h, got %q", s)
	}

	var values [4]int64
	for i, part := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return capture.Request{}, fmt.Errorf("invalid region %q: %w", s, err)
		}
		values[i] = v
	}
	if values[2] <= 0 || values[3] <= 0 {
		return capture.Request{}, fmt.Errorf("region %q must have a positive width and height", s)
	}
	return capture.RegionRequest(int(values[0]), int(values[1]), uint(values[2]), uint(values[3])), nil
}
