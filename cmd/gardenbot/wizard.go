package main

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gardenbot/internal/config"

	"github.com/spf13/cobra"
)

func wizardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wizard",
		Short: "Interactive setup: browser → device → channels → save config",
		Long:  "Guides you through the Chrome debug address, chat URL, garden device address, and channels (Web/Telegram). Writes config to the path used by --config or default.",
		RunE:  runWizard,
	}
}

func runWizard(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		cfg = config.Defaults()
	}
	if err := wizard(bufio.NewReader(os.Stdin), os.Stdout, cfg); err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "\nSaved %s. Run 'gardenbot doctor' to check the setup.\n", cfgPath)
	return nil
}

// wizard asks for each setting, keeping the current value on empty input.
func wizard(in *bufio.Reader, out io.Writer, cfg *config.Config) error {
	ask := func(label, def string) (string, error) {
		if def != "" {
			fmt.Fprintf(out, "%s [%s]: ", label, def)
		} else {
			fmt.Fprintf(out, "%s: ", label)
		}
		line, err := in.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return "", err
		}
		s := strings.TrimSpace(line)
		if s == "" {
			return def, nil
		}
		return s, nil
	}
	askBool := func(label string, def bool) (bool, error) {
		d := "n"
		if def {
			d = "y"
		}
		s, err := ask(label+" (y/n)", d)
		if err != nil {
			return false, err
		}
		return strings.HasPrefix(strings.ToLower(s), "y"), nil
	}

	var err error

	// Step 1: Browser
	fmt.Fprintln(out, "\n--- Step 1: Browser ---")
	fmt.Fprintln(out, "Chrome must run with --remote-debugging-port and stay logged in to the chat app.")
	if cfg.Browser.DebugURL, err = ask("Chrome debug address", cfg.Browser.DebugURL); err != nil {
		return err
	}
	if cfg.Browser.ConversationURL, err = ask("Conversation URL (empty for the default)", cfg.Browser.ConversationURL); err != nil {
		return err
	}

	// Step 2: Device
	fmt.Fprintln(out, "\n--- Step 2: Garden device ---")
	if cfg.Telemetry.BaseURL, err = ask("Device address", cfg.Telemetry.BaseURL); err != nil {
		return err
	}

	// Step 3: Channels
	fmt.Fprintln(out, "\n--- Step 3: Channels ---")
	web := &cfg.Channels.Web
	if web.Enabled, err = askBool("Enable the HTTP gateway", web.Enabled); err != nil {
		return err
	}
	if web.Enabled {
		port, err := ask("Gateway port", strconv.Itoa(web.Port))
		if err != nil {
			return err
		}
		if n, perr := strconv.Atoi(port); perr == nil {
			web.Port = n
		} else {
			fmt.Fprintf(out, "  Not a number, keeping %d\n", web.Port)
		}
		if web.Auth.Enabled, err = askBool("Require a password", web.Auth.Enabled); err != nil {
			return err
		}
		if web.Auth.Enabled {
			if web.Auth.Username, err = ask("Username", web.Auth.Username); err != nil {
				return err
			}
			pass, err := ask("Password (empty keeps the current one)", "")
			if err != nil {
				return err
			}
			if pass != "" {
				sum := sha256.Sum256([]byte(pass))
				web.Auth.PasswordHash = hex.EncodeToString(sum[:])
			}
		}
	}

	tg := &cfg.Channels.Telegram
	if tg.Enabled, err = askBool("Enable the Telegram bot", tg.Enabled); err != nil {
		return err
	}
	if tg.Enabled {
		fmt.Fprintln(out, "  Tip: use ${TELEGRAM_BOT_TOKEN} to keep the token out of the file.")
		if tg.Token, err = ask("Bot token", tg.Token); err != nil {
			return err
		}
		if tg.NotifyChatID, err = ask("Chat ID for login requests", tg.NotifyChatID); err != nil {
			return err
		}
		allow, err := ask("Allowed user IDs, comma separated (empty allows everyone)", strings.Join(tg.AllowFrom, ","))
		if err != nil {
			return err
		}
		tg.AllowFrom = nil
		for _, id := range strings.Split(allow, ",") {
			if id = strings.TrimSpace(id); id != "" {
				tg.AllowFrom = append(tg.AllowFrom, id)
			}
		}
	}
	return nil
}
