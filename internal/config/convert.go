package config

import (
	"time"

	"gardenbot/internal/analysis"
	"gardenbot/internal/driver"
)

// DriverTimings converts the timings section for the pipeline.
func (c *Config) DriverTimings() driver.Timings {
	t := c.Timings
	return driver.Timings{
		LoginTimeout:      t.LoginTimeout.Std(),
		LoginPollInterval: t.LoginPollInterval.Std(),
		UploadTimeout:     t.UploadTimeout.Std(),
		UploadSettle:      t.UploadSettle.Std(),
		PromptSettle:      t.PromptSettle.Std(),
		SubmitTimeout:     t.SubmitTimeout.Std(),
		ReplyInitialDelay: t.ReplyInitialDelay.Std(),
		ReplyPollInterval: t.ReplyPollInterval.Std(),
		ReplyAttempts:     t.ReplyAttempts,
		ReplyStableReads:  t.ReplyStableReads,
	}
}

// Retention returns how long stored analyses are kept, 0 for forever.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Store.RetentionDays) * 24 * time.Hour
}

// MaxUploadBytes is the gateway's upload limit.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Channels.Web.MaxUploadMB) << 20
}

// Limiter builds the analysis quota, nil when disabled.
func (c *Config) Limiter() *analysis.RateLimiter {
	if c.General.QuotaPerHour <= 0 {
		return nil
	}
	return analysis.NewRateLimiter(c.General.QuotaBurst, c.General.QuotaPerHour)
}
