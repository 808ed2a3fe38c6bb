package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"text/template"

	"github.com/spf13/cobra"
)

const (
	launchAgentLabel = "io.github.jandubois.shutter"
	systemdUnitName  = "shutter.service"
)

var launchAgentPlist = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{.Executable}}</string>
{{- range .Args}}
        <string>{{.}}</string>
{{- end}}
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{.LogDir}}/shutter.log</string>
    <key>StandardErrorPath</key>
    <string>{{.LogDir}}/shutter.log</string>
</dict>
</plist>
`

var systemdUnit = `[Unit]
Description=Shutter capture and delivery daemon

[Service]
ExecStart={{.Executable}}{{range .Args}} {{.}}{{end}}
Restart=on-failure

[Install]
WantedBy=default.target
`

type serviceData struct {
	Label      string
	Executable string
	Args       []string
	LogDir     string
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the daemon as a user service (launchd or systemd)",
	Long: `Install the shutter daemon as a user service that starts on login and
restarts if it crashes: a LaunchAgent in ~/Library/LaunchAgents on macOS, a
systemd user unit in ~/.config/systemd/user on Linux.

The configuration file must already exist; run "shutter daemon --yes" once to
create the defaults.`,
	RunE: runInstall,
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop and remove the daemon user service",
	RunE:  runUninstall,
}

func init() {
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)

	installCmd.Flags().Bool("watch", true, "Reload the configuration file when it changes")
}

func runInstall(cmd *cobra.Command, args []string) error {
	watch, _ := cmd.Flags().GetBool("watch")

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	executable, err = filepath.EvalSymlinks(executable)
	if err != nil {
		return fmt.Errorf("failed to resolve executable path: %w", err)
	}

	configPath, err := getConfigPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(configPath); err != nil {
		return fmt.Errorf("configuration %s not found; run \"shutter daemon --yes\" once to create it", configPath)
	}

	data := serviceData{
		Label:      launchAgentLabel,
		Executable: executable,
		Args:       daemonArgs(configPath, getSocketPath(), watch),
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	switch runtime.GOOS {
	case "darwin":
		data.LogDir = filepath.Join(homeDir, "Library", "Logs", "shutter")
		if err := os.MkdirAll(data.LogDir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		plistPath := launchAgentPath(homeDir)
		if _, err := os.Stat(plistPath); err == nil {
			// Unload existing service first
			exec.Command("launchctl", "unload", plistPath).Run()
		}
		if err := writeTemplate(plistPath, launchAgentPlist, data); err != nil {
			return err
		}
		if err := exec.Command("launchctl", "load", plistPath).Run(); err != nil {
			return fmt.Errorf("failed to load service: %w", err)
		}
		fmt.Printf("Installed and started %s\n", launchAgentLabel)
		fmt.Printf("Logs: %s/shutter.log\n", data.LogDir)
		fmt.Printf("Plist: %s\n", plistPath)

	case "linux":
		unitPath := systemdUnitPath(homeDir)
		if err := writeTemplate(unitPath, systemdUnit, data); err != nil {
			return err
		}
		if err := systemctl("daemon-reload"); err != nil {
			return err
		}
		if err := systemctl("enable", "--now", systemdUnitName); err != nil {
			return err
		}
		fmt.Printf("Installed and started %s\n", systemdUnitName)
		fmt.Printf("Logs: journalctl --user -u %s\n", systemdUnitName)
		fmt.Printf("Unit: %s\n", unitPath)

	default:
		return fmt.Errorf("install command is not supported on %s", runtime.GOOS)
	}
	return nil
}

func runUninstall(cmd *cobra.Command, args []string) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	var path string
	switch runtime.GOOS {
	case "darwin":
		path = launchAgentPath(homeDir)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return fmt.Errorf("service is not installed")
		}
		if err := exec.Command("launchctl", "unload", path).Run(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to unload service: %v\n", err)
		}

	case "linux":
		path = systemdUnitPath(homeDir)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return fmt.Errorf("service is not installed")
		}
		if err := systemctl("disable", "--now", systemdUnitName); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}

	default:
		return fmt.Errorf("uninstall command is not supported on %s", runtime.GOOS)
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	if runtime.GOOS == "linux" {
		systemctl("daemon-reload")
	}

	fmt.Printf("Uninstalled %s\n", path)
	return nil
}

func daemonArgs(configPath, socketPath string, watch bool) []string {
	args := []string{"daemon", "--config", configPath, "--socket", socketPath}
	if watch {
		args = append(args, "--watch")
	}
	return args
}

func launchAgentPath(homeDir string) string {
	return filepath.Join(homeDir, "Library", "LaunchAgents", launchAgentLabel+".plist")
}

func systemdUnitPath(homeDir string) string {
	return filepath.Join(homeDir, ".config", "systemd", "user", systemdUnitName)
}

func renderTemplate(text string, data serviceData) ([]byte, error) {
	tmpl, err := template.New("service").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render service file: %w", err)
	}
	return buf.Bytes(), nil
}

func writeTemplate(path, text string, data serviceData) error {
	content, err := renderTemplate(text, data)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func systemctl(args ...string) error {
	out, err := exec.Command("systemctl", append([]string{"--user"}, args...)...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("systemctl %v failed: %w: %s", args, err, bytes.TrimSpace(out))
	}
	return nil
}
