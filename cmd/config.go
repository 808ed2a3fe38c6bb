package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jandubois/shutter/internal/config"
	"github.com/jandubois/shutter/internal/daemon"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change the configuration",
}

var configGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigGet,
}

var configSetCmd = &cobra.Command{
	Use:   "set FILE",
	Short: "Replace the configuration with the contents of FILE",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigSet,
}

var configImportCmd = &cobra.Command{
	Use:   "import-sxcu FILE",
	Short: "Add a ShareX custom uploader (.sxcu) as a destination",
	Long: `Add a ShareX custom uploader (.sxcu) as a destination.

With --daemon the configuration is read, extended and written back in separate
requests. The counter is re-read just before the write, but a change made by
another client in between (other than a counter increment) is overwritten.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigImport,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configGetCmd, configSetCmd, configImportCmd)

	configCmd.PersistentFlags().Bool("daemon", false, "Talk to the running daemon instead of the configuration file")
	configGetCmd.Flags().StringP("output", "o", "json", "Output format (json, yaml)")
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	if output != "json" && output != "yaml" {
		return fmt.Errorf("unknown output format %q", output)
	}

	var cfg *config.Config
	viaDaemon, _ := cmd.Flags().GetBool("daemon")
	if viaDaemon {
		client, err := daemon.Dial(cmd.Context(), getSocketPath())
		if err != nil {
			return err
		}
		defer client.Close()
		if cfg, err = client.GetConfig(cmd.Context()); err != nil {
			return err
		}
	} else {
		var err error
		if cfg, _, err = loadConfig(); err != nil {
			return err
		}
	}

	if output == "yaml" {
		return writeYAML(cmd.OutOrStdout(), cfg)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}

// writeYAML renders v as block-style YAML, keeping the JSON field names and
// their order.
func writeYAML(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode configuration: %w", err)
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return fmt.Errorf("convert configuration: %w", err)
	}
	blockStyle(&node)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return fmt.Errorf("write yaml: %w", err)
	}
	return enc.Close()
}

func blockStyle(node *yaml.Node) {
	node.Style &^= yaml.FlowStyle | yaml.DoubleQuotedStyle
	for _, child := range node.Content {
		blockStyle(child)
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(args[0])
	if err != nil {
		return err
	}

	viaDaemon, _ := cmd.Flags().GetBool("daemon")
	if viaDaemon {
		client, err := daemon.Dial(cmd.Context(), getSocketPath())
		if err != nil {
			return err
		}
		defer client.Close()
		if err := client.SetConfig(cmd.Context(), cfg); err != nil {
			return err
		}
		// SetConfig has no response; a read confirms the daemon applied it.
		if _, err := client.GetConfig(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Configuration replaced")
		return nil
	}

	path, err := getConfigPath()
	if err != nil {
		return err
	}
	if err := config.Save(path, cfg); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

func runConfigImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}
	uploader, err := config.ImportShareX(data)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	ctx := cmd.Context()
	viaDaemon, _ := cmd.Flags().GetBool("daemon")
	if viaDaemon {
		client, err := daemon.Dial(ctx, getSocketPath())
		if err != nil {
			return err
		}
		defer client.Close()
		if err := addUploaderViaDaemon(ctx, client, uploader); err != nil {
			return err
		}
	} else {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Uploaders = append(cfg.Uploaders, config.Uploader{HTTP: uploader})
		if err := config.Save(path, cfg); err != nil {
			return err
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Added destination %q (%s %s)\n", uploader.Name, uploader.Method(), uploader.RequestURL)
	return nil
}

// configClient is the part of daemon.Client used to edit the configuration.
type configClient interface {
	GetConfig(ctx context.Context) (*config.Config, error)
	SetConfig(ctx context.Context, cfg *config.Config) error
}

// addUploaderViaDaemon appends uploader to the daemon's configuration. The
// protocol has no compare-and-swap, so the counter is fetched again right
// before SetConfig and never sent lower than the daemon's value.
func addUploaderViaDaemon(ctx context.Context, client configClient, uploader *config.HTTPUploader) error {
	cfg, err := client.GetConfig(ctx)
	if err != nil {
		return err
	}
	cfg.Uploaders = append(cfg.Uploaders, config.Uploader{HTTP: uploader})

	latest, err := client.GetConfig(ctx)
	if err != nil {
		return err
	}
	cfg.LastIndex = max(cfg.LastIndex, latest.LastIndex)

	if err := client.SetConfig(ctx, cfg); err != nil {
		return err
	}
	// SetConfig has no response; a read confirms the daemon applied it.
	_, err = client.GetConfig(ctx)
	return err
}
