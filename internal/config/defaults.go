package config

import "time"

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:       "info",
			UploadDir:      "~/.gardenbot/uploads",
			Preamble:       "This is my plant and its sensor data:",
			RequestTimeout: Duration(10 * time.Minute),
			QuotaPerHour:   20,
			QuotaBurst:     3,
		},
		Browser: BrowserConfig{
			DebugURL:        "ws://127.0.0.1:9222",
			NavigateTimeout: Duration(30 * time.Second),
			SettleDelay:     Duration(8 * time.Second),
		},
		Timings: TimingsConfig{
			LoginTimeout:      Duration(90 * time.Second),
			LoginPollInterval: Duration(time.Second),
			UploadTimeout:     Duration(20 * time.Second),
			UploadSettle:      Duration(2 * time.Second),
			PromptSettle:      Duration(time.Second),
			SubmitTimeout:     Duration(10 * time.Second),
			ReplyInitialDelay: Duration(90 * time.Second),
			ReplyPollInterval: Duration(2 * time.Second),
			ReplyAttempts:     40,
			ReplyStableReads:  1,
		},
		Telemetry: TelemetryConfig{
			BaseURL: "http://raspberrypi.local:5000",
			Timeout: Duration(5 * time.Second),
			SoilDry: 620,
			SoilWet: 284,
		},
		Store: StoreConfig{
			Enabled:       true,
			DBPath:        "~/.gardenbot/gardenbot.db",
			RetentionDays: 365,
		},
		Channels: ChannelsConfig{
			Web: WebConfig{
				Enabled:     true,
				Host:        "0.0.0.0",
				Port:        5000,
				MaxUploadMB: 16,
			},
			Telegram: TelegramConfig{
				Enabled:   false,
				ParseMode: "Markdown",
			},
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}
