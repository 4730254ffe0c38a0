package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration for gardenbot.
type Config struct {
	General   GeneralConfig   `json:"general"`
	Browser   BrowserConfig   `json:"browser"`
	Timings   TimingsConfig   `json:"timings"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Store     StoreConfig     `json:"store"`
	Channels  ChannelsConfig  `json:"channels"`
	Metrics   MetricsConfig   `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel       string   `json:"logLevel"`
	LogFile        string   `json:"logFile,omitempty"` // optional log file path
	UploadDir      string   `json:"uploadDir"`
	Preamble       string   `json:"preamble"`       // first line of every prompt
	RejectWhenBusy bool     `json:"rejectWhenBusy"` // fail instead of queueing behind a running analysis
	RequestTimeout Duration `json:"requestTimeout"` // bound on one analysis from the gateway or Telegram
	QuotaPerHour   float64  `json:"quotaPerHour"`   // prompts sent to the chat app per hour; 0 disables the quota
	QuotaBurst     int      `json:"quotaBurst"`
}

// BrowserConfig locates the running Chrome and the chat UI contract.
type BrowserConfig struct {
	DebugURL        string   `json:"debugUrl"`
	ConversationURL string   `json:"conversationUrl,omitempty"` // overrides the contract's URL
	ContractPath    string   `json:"contractPath,omitempty"`    // YAML UI contract; built-in when empty
	NavigateTimeout Duration `json:"navigateTimeout"`
	SettleDelay     Duration `json:"settleDelay"`
}

// TimingsConfig holds the waits of the pipeline stages.
type TimingsConfig struct {
	LoginTimeout      Duration `json:"loginTimeout"`
	LoginPollInterval Duration `json:"loginPollInterval"`
	UploadTimeout     Duration `json:"uploadTimeout"`
	UploadSettle      Duration `json:"uploadSettle"`
	PromptSettle      Duration `json:"promptSettle"`
	SubmitTimeout     Duration `json:"submitTimeout"`
	ReplyInitialDelay Duration `json:"replyInitialDelay"`
	ReplyPollInterval Duration `json:"replyPollInterval"`
	ReplyAttempts     int      `json:"replyAttempts"`
	ReplyStableReads  int      `json:"replyStableReads"` // identical non-empty reads that end polling
}

// TelemetryConfig points at the edge device.
type TelemetryConfig struct {
	BaseURL string   `json:"baseUrl"`
	Timeout Duration `json:"timeout"`
	SoilDry int      `json:"soilDry"` // raw reading of dry soil
	SoilWet int      `json:"soilWet"` // raw reading of saturated soil
}

type StoreConfig struct {
	Enabled       bool   `json:"enabled"`
	DBPath        string `json:"dbPath"`
	RetentionDays int    `json:"retentionDays"` // 0 keeps everything
}

type ChannelsConfig struct {
	Web      WebConfig      `json:"web"`
	Telegram TelegramConfig `json:"telegram"`
}

type WebConfig struct {
	Enabled     bool    `json:"enabled"`
	Host        string  `json:"host"`
	Port        int     `json:"port"`
	MaxUploadMB int     `json:"maxUploadMB"`
	Auth        WebAuth `json:"auth"`
}

type WebAuth struct {
	Enabled      bool   `json:"enabled"`
	Username     string `json:"username"`
	PasswordHash string `json:"passwordHash"`
}

type TelegramConfig struct {
	Enabled      bool           `json:"enabled"`
	Token        string         `json:"token"`
	AllowFrom    FlexStringList `json:"allowFrom"`
	NotifyChatID string         `json:"notifyChatId"` // receives manual login requests
	ParseMode    string         `json:"parseMode"`
}

// MetricsConfig configures the Prometheus endpoint on the gateway.
type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// Duration is a time.Duration written as "90s" in JSON. Plain numbers, quoted
// or not, are read as seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if secs, err := strconv.ParseFloat(s, 64); err == nil {
			*d = Duration(secs * float64(time.Second))
			return nil
		}
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("duration must be a string like \"90s\" or a number of seconds: %s", data)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

// DefaultConfigDir returns the default config directory (~/.gardenbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gardenbot"
	}
	return filepath.Join(home, ".gardenbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.General.UploadDir = ExpandPath(cfg.General.UploadDir)
	cfg.Browser.ContractPath = ExpandPath(cfg.Browser.ContractPath)
	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match // keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	// The file can hold the Telegram token.
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.RequestTimeout < 0 {
		errs = append(errs, "general.requestTimeout must be >= 0")
	}

	if cfg.General.QuotaPerHour < 0 {
		errs = append(errs, "general.quotaPerHour must be >= 0")
	}
	if cfg.General.QuotaPerHour > 0 && cfg.General.QuotaBurst < 1 {
		errs = append(errs, "general.quotaBurst must be >= 1 when a quota is set")
	}

	if cfg.Browser.DebugURL == "" {
		errs = append(errs, "browser.debugUrl is required")
	}

	t := cfg.Timings
	for name, d := range map[string]Duration{
		"loginPollInterval": t.LoginPollInterval,
		"replyPollInterval": t.ReplyPollInterval,
		"uploadTimeout":     t.UploadTimeout,
		"submitTimeout":     t.SubmitTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Sprintf("timings.%s must be > 0", name))
		}
	}
	for name, d := range map[string]Duration{
		"loginTimeout":      t.LoginTimeout,
		"uploadSettle":      t.UploadSettle,
		"promptSettle":      t.PromptSettle,
		"replyInitialDelay": t.ReplyInitialDelay,
	} {
		if d < 0 {
			errs = append(errs, fmt.Sprintf("timings.%s must be >= 0", name))
		}
	}
	if t.ReplyAttempts < 1 {
		errs = append(errs, "timings.replyAttempts must be >= 1")
	}
	if t.ReplyStableReads < 1 || (t.ReplyAttempts >= 1 && t.ReplyStableReads > t.ReplyAttempts) {
		errs = append(errs, "timings.replyStableReads must be between 1 and timings.replyAttempts")
	}

	if cfg.Telemetry.SoilDry <= cfg.Telemetry.SoilWet {
		errs = append(errs, "telemetry.soilDry must be greater than telemetry.soilWet")
	}

	if cfg.Store.Enabled && cfg.Store.DBPath == "" {
		errs = append(errs, "store.dbPath is required when the store is enabled")
	}
	if cfg.Store.RetentionDays < 0 {
		errs = append(errs, "store.retentionDays must be >= 0")
	}

	if cfg.Channels.Web.Port < 0 || cfg.Channels.Web.Port > 65535 {
		errs = append(errs, "channels.web.port must be between 0 and 65535")
	}
	if cfg.Channels.Web.MaxUploadMB < 1 {
		errs = append(errs, "channels.web.maxUploadMB must be >= 1")
	}
	if cfg.Channels.Web.Auth.Enabled && (cfg.Channels.Web.Auth.Username == "" || cfg.Channels.Web.Auth.PasswordHash == "") {
		errs = append(errs, "channels.web.auth requires username and passwordHash")
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled")
	}

	if len(errs) > 0 {
		slices.Sort(errs)
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
