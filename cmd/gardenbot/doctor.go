package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"gardenbot/internal/config"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your gardenbot installation",
		Long: `Verifies that gardenbot's configuration, browser debug endpoint, garden
device, database and gateway port are correctly set up. Reports pass/fail for
each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("gardenbot doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'gardenbot init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\n%d passed, 1 failed\n", passed)
				return fmt.Errorf("config invalid")
			}
			printPass("Config validation", "valid")
			passed++

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			// 3. UI contract
			contract, err := loadContract(cfg)
			if err != nil {
				printFail("UI contract", err.Error())
				failed++
			} else {
				printPass("UI contract", fmt.Sprintf("%s (%s)", contract.Version, contract.ConversationURL))
				passed++
			}

			// 4. Browser debug endpoint
			bridge := newBridge(cfg, contract)
			probeCtx, probeCancel := context.WithTimeout(ctx, 10*time.Second)
			product, err := bridge.Probe(probeCtx)
			probeCancel()
			bridge.Close()
			if err != nil {
				printFail("Browser", fmt.Sprintf("%s: %v", cfg.Browser.DebugURL, err))
				fmt.Printf("         start Chrome with --remote-debugging-port=9222\n")
				failed++
			} else {
				printPass("Browser", product)
				passed++
			}

			// 5. Garden device
			if snap, err := newTelemetry(cfg).Snapshot(ctx); err != nil {
				printWarn("Garden device", fmt.Sprintf("%s: %v", cfg.Telemetry.BaseURL, err))
				warned++
			} else {
				printPass("Garden device", fmt.Sprintf("%.1f°C, %.0f%% humidity, soil %.0f%%",
					snap.TemperatureC, snap.HumidityPct, snap.SoilPercent))
				passed++
			}

			// 6. Upload directory writable
			uploadDir := config.ExpandPath(cfg.General.UploadDir)
			if err := checkWritableDir(uploadDir); err != nil {
				printFail("Upload dir", err.Error())
				failed++
			} else {
				printPass("Upload dir", uploadDir)
				passed++
			}

			// 7. Database writable
			if cfg.Store.Enabled {
				if err := checkDatabase(cfg.Store.DBPath); err != nil {
					printFail("Database", err.Error())
					failed++
				} else {
					printPass("Database", cfg.Store.DBPath)
					passed++
				}
			} else {
				printWarn("Database", "store disabled, analyses are not recorded")
				warned++
			}

			// 8. Channels
			if cfg.Channels.Web.Enabled {
				port := cfg.Channels.Web.Port
				if err := checkPort(cfg.Channels.Web.Host, port); err != nil {
					printWarn("Web port", fmt.Sprintf("port %d may be in use: %v", port, err))
					warned++
				} else {
					printPass("Web port", fmt.Sprintf(":%d available", port))
					passed++
				}
			}
			if cfg.Channels.Telegram.Enabled {
				if cfg.Channels.Telegram.NotifyChatID == "" {
					printWarn("Telegram", "no notifyChatId, login requests are only logged")
					warned++
				} else {
					printPass("Telegram", "configured")
					passed++
				}
			}
			if !cfg.Channels.Web.Enabled && !cfg.Channels.Telegram.Enabled {
				printFail("Channels", "no channel enabled, 'gardenbot serve' has nothing to run")
				failed++
			}

			// 9. Log file writable
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running gardenbot.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\ngardenbot should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! gardenbot is ready to run.\n")
			}
			return nil
		},
	}
}

func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	f.Close()
	return os.Remove(f.Name())
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
