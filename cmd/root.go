package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/jandubois/shutter/internal/config"
	"github.com/jandubois/shutter/internal/daemon"
)

// Version is set at build time via -ldflags "-X github.com/jandubois/shutter/cmd.Version=..."
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "shutter",
	Short: "Capture screenshots and deliver them to configured destinations",
	Long: `Shutter captures an image and delivers it to every configured destination:
HTTP upload services or local directories.

It runs one-shot from the command line or as a daemon that local clients
contact over a Unix socket.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Configuration file (default ~/.config/shutter/config.json)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("socket", daemon.DefaultSocketPath(), "Daemon socket path")
	rootCmd.PersistentFlags().String("history", "", "Delivery history database (default ~/.local/share/shutter/history.db)")

	for _, name := range []string{"config", "log-level", "socket", "history"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}

	// SHUTTER_CONFIG, SHUTTER_LOG_LEVEL, SHUTTER_SOCKET, ...
	viper.SetEnvPrefix("SHUTTER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func setupLogging(cmd *cobra.Command, args []string) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		return fmt.Errorf("invalid log level %q", viper.GetString("log-level"))
	}

	options := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

func getConfigPath() (string, error) {
	if path := viper.GetString("config"); path != "" {
		return path, nil
	}
	return config.DefaultPath()
}

func getHistoryPath() (string, error) {
	if path := viper.GetString("history"); path != "" {
		return path, nil
	}
	return config.DefaultHistoryPath()
}

func getSocketPath() string {
	return viper.GetString("socket")
}

// loadConfig reads the configuration file, falling back to the built-in
// defaults when it does not exist yet.
func loadConfig() (*config.Config, string, error) {
	cfg, path, _, err := loadConfigFile()
	return cfg, path, err
}

// loadConfigFile is loadConfig that also reports whether the file exists.
// Defaults stand in for a missing file but are never written from here.
func loadConfigFile() (*config.Config, string, bool, error) {
	path, err := getConfigPath()
	if err != nil {
		return nil, "", false, err
	}
	cfg, err := config.Load(path)
	if errors.Is(err, config.ErrNotFound) {
		slog.Debug("configuration file not found, using defaults", "path", path)
		return config.Default(), path, false, nil
	}
	if err != nil {
		return nil, "", false, err
	}
	return cfg, path, true, nil
}
