package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gardenbot/internal/browser"
	"gardenbot/internal/config"
	"gardenbot/internal/store"
	"gardenbot/internal/telemetry"

	"github.com/spf13/cobra"
)

var (
	version    = "0.3.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "gardenbot",
		Short: "gardenbot: plant health verdicts from a chat assistant",
		Long: `gardenbot reads sensor data and a photo from the garden device, asks a chat
assistant in an already running Chrome for a verdict, and serves the result to
the dashboard and to Telegram.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.gardenbot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(wizardCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(analyzeCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(contractCmd())
	root.AddCommand(configCmd())
	root.AddCommand(deviceCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())
	root.AddCommand(installDaemonCmd())
	root.AddCommand(uninstallDaemonCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config file and swaps the root logger for one built
// from it. The returned closer releases the log file, if any.
func loadConfig() (*config.Config, io.Closer, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	l, closer, err := newLogger(cfg.General.LogLevel, cfg.General.LogFile)
	if err != nil {
		return nil, nil, err
	}
	logger = l
	return cfg, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newLogger builds a text logger on stderr, teeing to logFile when set.
func newLogger(level, logFile string) (*slog.Logger, io.Closer, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var w io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
		closer = f
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), closer, nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config and create the upload directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			uploadDir := config.ExpandPath(cfg.General.UploadDir)
			if err := os.MkdirAll(uploadDir, 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "uploads", uploadDir)
			fmt.Println("Start Chrome with --remote-debugging-port=9222, log in to the chat app, then run 'gardenbot serve'.")
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show browser, device and store status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closer, err := loadConfig()
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			contract, err := loadContract(cfg)
			if err != nil {
				return err
			}
			bridge := newBridge(cfg, contract)
			defer bridge.Close()
			if product, err := bridge.Probe(ctx); err != nil {
				logger.Info("browser", "debugUrl", cfg.Browser.DebugURL, "reachable", false, "err", err)
			} else {
				logger.Info("browser", "debugUrl", cfg.Browser.DebugURL, "reachable", true, "product", product)
			}
			logger.Info("contract", "version", contract.Version, "url", contract.ConversationURL)

			device := newTelemetry(cfg)
			if snap, err := device.Snapshot(ctx); err != nil {
				logger.Info("device", "url", cfg.Telemetry.BaseURL, "reachable", false, "err", err)
			} else {
				logger.Info("device", "url", cfg.Telemetry.BaseURL, "reachable", true, "readings", snap.Summary())
			}

			if !cfg.Store.Enabled {
				logger.Info("store", "enabled", false)
				return nil
			}
			st, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
			if err != nil {
				logger.Info("store", "path", cfg.Store.DBPath, "ok", false, "err", err)
				return nil
			}
			defer st.Close()
			recs, err := st.Latest(ctx, 1)
			switch {
			case err != nil:
				logger.Info("store", "path", cfg.Store.DBPath, "ok", false, "err", err)
			case len(recs) == 0:
				logger.Info("store", "path", cfg.Store.DBPath, "ok", true, "last", "none")
			default:
				logger.Info("store", "path", cfg.Store.DBPath, "ok", true,
					"last", recs[0].Timestamp.Format(time.RFC3339), "lastError", recs[0].Error)
			}
			return nil
		},
	}
}

func contractCmd() *cobra.Command {
	var fromConfig bool
	cmd := &cobra.Command{
		Use:   "contract",
		Short: "Print the chat UI contract as YAML",
		Long: `Prints the built-in page contract. Save the output, edit the locators after a
UI change and point browser.contractPath at the file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := browser.ChatGPTContract()
			if fromConfig {
				cfg, closer, err := loadConfig()
				if err != nil {
					return err
				}
				defer closer.Close()
				if c, err = loadContract(cfg); err != nil {
					return err
				}
			}
			data, err := c.YAML()
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromConfig, "effective", false, "print the contract the configured bot would use")
	return cmd
}

func deviceCmd() *cobra.Command {
	var s telemetry.DeviceSettings
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Show or change the garden device's settings",
		Long:  "Without flags prints the device's current settings. Flags set the given values and leave the rest unchanged.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closer, err := loadConfig()
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			applied, err := newTelemetry(cfg).Configure(ctx, s)
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(applied, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	}
	cmd.Flags().StringVar(&s.Strain, "strain", "", "plant strain")
	cmd.Flags().StringVar(&s.State, "state", "", "growth state")
	cmd.Flags().StringVar(&s.Lights, "lights", "", "light schedule")
	cmd.Flags().StringVar(&s.DHT1, "dht1", "", "DHT sensor pin")
	cmd.Flags().IntVar(&s.Dry, "dry", 0, "raw soil reading when dry")
	cmd.Flags().IntVar(&s.Wet, "wet", 0, "raw soil reading when saturated")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. timings.loginTimeout)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. telemetry.baseUrl http://pi.local:5000)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	var flat bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all config values, secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if flat {
				paths := config.ListPaths(config.Sanitize(cfg))
				keys := make([]string, 0, len(paths))
				for k := range paths {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					v, _ := json.Marshal(paths[k])
					fmt.Printf("%s = %s\n", k, v)
				}
				return nil
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	}
	listCmd.Flags().BoolVar(&flat, "flat", false, "print one dot path per line, as accepted by 'config set'")
	cmd.AddCommand(listCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
