package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"gardenbot/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
	defaultAnalyzeTimeout  = 10 * time.Minute
)

// sender is the part of the bot API the channel uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram is the operator channel. It relays manual-login requests from the
// pipeline and accepts /analyze and /last commands from allowed users.
type Telegram struct {
	token          string
	allowFrom      []int64 // allowed user IDs (empty = allow all)
	notifyChat     int64   // chat that receives login requests
	parseMode      string
	analyzer       Analyzer
	analyzeTimeout time.Duration
	logger         *slog.Logger

	mu       sync.RWMutex
	bot      sender
	username string
	running  sync.WaitGroup
}

type TelegramConfig struct {
	Token          string
	AllowFrom      []string // user IDs as strings
	NotifyChatID   string
	ParseMode      string
	Analyzer       Analyzer
	AnalyzeTimeout time.Duration
	Logger         *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	notify, _ := strconv.ParseInt(strings.TrimSpace(cfg.NotifyChatID), 10, 64)
	if cfg.ParseMode == "" {
		cfg.ParseMode = tgbotapi.ModeMarkdown
	}
	if cfg.AnalyzeTimeout <= 0 {
		cfg.AnalyzeTimeout = defaultAnalyzeTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:          cfg.Token,
		allowFrom:      allowed,
		notifyChat:     notify,
		parseMode:      cfg.ParseMode,
		analyzer:       cfg.Analyzer,
		analyzeTimeout: cfg.AnalyzeTimeout,
		logger:         cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// SetAnalyzer sets the service behind the bot commands. The pipeline needs the
// channel as its login notifier before the service exists, so the analyzer is
// supplied after construction. Call before Start.
func (t *Telegram) SetAnalyzer(a Analyzer) { t.analyzer = a }

// Start connects to Telegram and polls for updates until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.setBot(bot, bot.Self.UserName)
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			t.running.Wait()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(ctx, update)
		}
	}
}

func (t *Telegram) setBot(bot sender, username string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bot = bot
	t.username = username
}

func (t *Telegram) client() sender {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.bot
}

// NotifyLoginRequired asks the operator to log in to the chat application in
// the attached browser.
func (t *Telegram) NotifyLoginRequired(ctx context.Context, url string, timeout time.Duration) error {
	if t.client() == nil {
		return errors.New("telegram bot not connected")
	}
	if t.notifyChat == 0 {
		return errors.New("no telegram chat configured for notifications")
	}
	t.sendMessage(t.notifyChat, fmt.Sprintf(
		"🔐 The chat session is logged out.\n\nLog in manually at %s in the attached browser within %s.",
		url, timeout.Round(time.Second)))
	return nil
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user", "user_id", userID, "username", update.Message.From.UserName)
		t.sendMessage(chatID, "⛔ Unauthorized. Your user ID is not in the allow list.")
		return
	}
	if !update.Message.IsCommand() {
		t.sendMessage(chatID, "Send /analyze to check the plant or /help for commands.")
		return
	}
	t.handleCommand(ctx, chatID, update.Message)
}

func (t *Telegram) handleCommand(ctx context.Context, chatID int64, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start", "help":
		t.sendMessage(chatID, "🌿 gardenbot\n\nCommands:\n/analyze - analyze the current photo and readings\n/last - show the latest stored analysis\n/status - bot status")
	case "status":
		state := "idle"
		if t.analyzer.Busy() {
			state = "analysis in progress"
		}
		t.mu.RLock()
		name := t.username
		t.mu.RUnlock()
		t.sendMessage(chatID, fmt.Sprintf("🟢 gardenbot\n\nBot: @%s\nSession: %s\nYour ID: %d\nChat ID: %d", name, state, msg.From.ID, chatID))
	case "analyze":
		t.running.Add(1)
		go func() {
			defer t.running.Done()
			t.runAnalysis(ctx, chatID)
		}()
	case "last":
		t.sendLast(ctx, chatID)
	default:
		t.sendMessage(chatID, "Unknown command. Type /help for available commands.")
	}
}

// runAnalysis runs off the update loop so polling continues while the
// pipeline waits for a reply.
func (t *Telegram) runAnalysis(ctx context.Context, chatID int64) {
	if t.analyzer.Busy() {
		t.sendMessage(chatID, "⏳ Another analysis is in progress, yours is queued.")
	} else {
		t.sendMessage(chatID, "🔍 Analyzing, this takes a couple of minutes…")
	}

	ctx, cancel := context.WithTimeout(ctx, t.analyzeTimeout)
	defer cancel()

	v, err := t.analyzer.AnalyzeLatest(ctx)
	if err != nil {
		t.logger.Warn("telegram analysis failed", "chat_id", chatID, "err", err)
		t.sendMessage(chatID, "❌ Analysis failed: "+err.Error())
		return
	}
	t.sendMessage(chatID, "✅ Verdict:\n"+formatVerdict(v))
}

func (t *Telegram) sendLast(ctx context.Context, chatID int64) {
	recs, err := t.analyzer.History(ctx, 1)
	if err != nil {
		t.sendMessage(chatID, "❌ Cannot read history: "+err.Error())
		return
	}
	if len(recs) == 0 {
		t.sendMessage(chatID, "No analyses stored yet.")
		return
	}
	rec := recs[0]
	head := fmt.Sprintf("🕑 %s (%s)\n%s\n", rec.Timestamp.Format(time.RFC822), rec.Source, rec.Telemetry.Summary())
	if rec.Error != "" {
		t.sendMessage(chatID, head+"❌ "+rec.Error)
		return
	}
	t.sendMessage(chatID, head+formatVerdict(rec.Verdict))
}

func formatVerdict(v domain.Verdict) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return "```\n" + string(b) + "\n```"
}

func (t *Telegram) isAllowed(userID int64) bool {
	return len(t.allowFrom) == 0 || slices.Contains(t.allowFrom, userID)
}

func (t *Telegram) sendMessage(chatID int64, text string) {
	// Telegram has a 4096 char limit per message.
	const maxLen = telegramMaxMsgLen
	for len(text) > 0 {
		chunk := text
		if len(chunk) > maxLen {
			cutAt := strings.LastIndex(chunk[:maxLen], "\n")
			if cutAt < maxLen/2 {
				cutAt = maxLen
			}
			chunk = text[:cutAt]
			text = text[cutAt:]
		} else {
			text = ""
		}
		t.sendChunk(chatID, chunk)
	}
}

// sendChunk sends one message chunk. Markdown first, plain text when the
// markup does not parse, backoff on rate limits and transient errors.
func (t *Telegram) sendChunk(chatID int64, text string) {
	bot := t.client()
	if bot == nil {
		t.logger.Warn("telegram message dropped, bot not connected", "chat_id", chatID)
		return
	}

	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 {
			msg.ParseMode = t.parseMode
		}

		_, err := bot.Send(msg)
		if err == nil {
			return
		}
		errStr := err.Error()

		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off", "retry_after", retryAfter, "attempt", attempt+1)
			time.Sleep(retryAfter)
			continue
		}

		if attempt == 0 && msg.ParseMode != "" && strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram markdown parse error, retrying as plain text", "err", err)
			if _, err2 := bot.Send(tgbotapi.NewMessage(chatID, text)); err2 == nil {
				return
			}
		}

		if attempt < telegramMaxSendRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}
		t.logger.Error("telegram send failed after retries", "err", err, "attempts", telegramMaxSendRetries+1)
	}
}
