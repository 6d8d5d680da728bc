package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rescale/modelbench/internal/api"
	"github.com/rescale/modelbench/internal/config"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage modelbench settings",
		Long: `Settings management commands for modelbench.

Commands:
  init  - Interactive settings setup
  show  - Display current settings
  set   - Change one setting
  test  - Test the model server connection
  path  - Show settings file path`,
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigSetCmd())
	configCmd.AddCommand(newConfigTestCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

func settingsPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultSettingsPath()
}

// prompt asks for one value and returns def when the answer is empty.
func prompt(r *bufio.Reader, w io.Writer, label, def string) string {
	if def != "" {
		fmt.Fprintf(w, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(w, "%s: ", label)
	}
	input, _ := r.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return def
	}
	return input
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize settings interactively",
		Long: `Interactive settings setup for modelbench.

The settings are saved to ` + config.DefaultSettingsPath() + `
unless --config names another file.

Use --force to overwrite existing settings.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := settingsPath()
			w := cmd.OutOrStdout()

			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Fprintf(w, "Settings already exist at: %s\n", path)
					fmt.Fprintln(w, "Use --force to overwrite or run 'config show' to view current settings.")
					return nil
				}
			}

			fmt.Fprintln(w, "modelbench Settings Setup")
			fmt.Fprintln(w, "=========================")
			fmt.Fprintln(w)

			settings := config.NewSettings()
			reader := bufio.NewReader(cmd.InOrStdin())

			answers := []struct {
				name  string
				label string
			}{
				{"server.url", "Model server URL (empty uses local specs)"},
				{"runner.executable", "Model executable"},
				{"workbench.n_workers", "n_workers (-1 synchronous, 0 threaded, N processes)"},
				{"workbench.language", "Language"},
			}
			current := make(map[string]string)
			for _, kv := range settings.Entries() {
				current[kv[0]] = kv[1]
			}
			for _, a := range answers {
				value := prompt(reader, w, a.label, current[a.name])
				if err := settings.Set(a.name, value); err != nil {
					return err
				}
			}

			// basic mode is only valid once proxy_url is set
			mode := prompt(reader, w, "Proxy mode (no-proxy, system, basic)", current["server.proxy_mode"])
			if mode == "basic" {
				if err := settings.Set("server.proxy_url", prompt(reader, w, "Proxy URL", "")); err != nil {
					return err
				}
			}
			if err := settings.Set("server.proxy_mode", mode); err != nil {
				return err
			}

			if err := config.SaveSettings(settings, path); err != nil {
				return err
			}
			GetLogger().Info().Str("path", path).Msg("Settings saved")

			fmt.Fprintln(w)
			fmt.Fprintf(w, "✓ Settings saved to: %s\n", path)
			if settings.Server.URL != "" {
				fmt.Fprintln(w, "Test the server connection with: modelbench config test")
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing settings")
	return cmd
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current settings",
		Long: `Display the current settings.

This command shows the merged settings from:
  1. Settings file (` + config.DefaultSettingsPath() + `)
  2. Environment variables (` + config.EnvPrefix + `_*)
  3. Command-line flags (--server)

Priority: flags > environment > settings file > defaults`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			section := ""
			for _, kv := range settings.Entries() {
				sec, key, _ := strings.Cut(kv[0], ".")
				if sec != section {
					if section != "" {
						fmt.Fprintln(w)
					}
					fmt.Fprintf(w, "[%s]\n", sec)
					section = sec
				}
				value := kv[1]
				if kv[0] == "server.proxy_url" && value != "" {
					value = redactURL(value)
				}
				fmt.Fprintf(w, "  %s = %s\n", key, value)
			}

			path := settingsPath()
			fmt.Fprintln(w)
			fmt.Fprintf(w, "Settings file: %s\n", path)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				fmt.Fprintln(w, "  (file does not exist - using defaults)")
			}
			return nil
		},
	}
}

// redactURL hides the password of a proxy URL.
func redactURL(raw string) string {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return raw
	}
	creds, host, ok := strings.Cut(rest, "@")
	if !ok {
		return raw
	}
	user, _, _ := strings.Cut(creds, ":")
	return scheme + "://" + user + ":****@" + host
}

// newConfigSetCmd creates the 'config set' command.
func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <section.key> <value>",
		Short: "Change one setting",
		Example: `  modelbench config set workbench.n_workers 4
  modelbench config set server.url http://localhost:5000`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := settingsPath()
			settings, err := config.LoadSettings(path)
			if err != nil {
				return err
			}
			if err := settings.Set(args[0], args[1]); err != nil {
				return err
			}
			if err := config.SaveSettings(settings, path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s = %s\n", args[0], args[1])
			return nil
		},
	}
}

// newConfigTestCmd creates the 'config test' command.
func newConfigTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Test the model server connection",
		Long: `Test the connection to the model server by listing its models.

This verifies that:
  - server.url is set and reachable
  - the proxy settings work
  - the server speaks the model API`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			client, err := api.NewClient(&settings.Server, GetLogger())
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Testing connection to %s...\n", client.BaseURL())

			ctx, cancel := context.WithTimeout(GetContext(), 30*time.Second)
			defer cancel()

			metas, err := client.ListModels(ctx)
			if err != nil {
				fmt.Fprintln(w, "✗ Connection failed")
				return fmt.Errorf("connection test failed: %w", err)
			}

			fmt.Fprintln(w, "✓ Connection successful")
			fmt.Fprintf(w, "  Models available: %d\n", len(metas))
			return nil
		},
	}
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show settings file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := settingsPath()
			w := cmd.OutOrStdout()

			fmt.Fprintf(w, "Settings file: %s\n", path)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				fmt.Fprintln(w, "Status: Does not exist (using defaults)")
			} else {
				fmt.Fprintln(w, "Status: Exists")
			}
			fmt.Fprintf(w, "Log directory: %s\n", config.LogDirectory())
			fmt.Fprintf(w, "Run history:   %s\n", config.HistoryPath())
			return nil
		},
	}
}
