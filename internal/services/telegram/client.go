package telegram

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"crm-automation/internal/config"
)

const sendRetries = 3

// Notifier posts job alerts to the ops chat. A disabled notifier swallows
// everything, so jobs can call it unconditionally.
type Notifier struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	enabled bool
	logger  *zap.Logger
}

func NewNotifier(cfg config.TelegramConfig, logger *zap.Logger) (*Notifier, error) {
	if !cfg.Enabled {
		return &Notifier{logger: logger}, nil
	}

	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			Dial: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).Dial,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			MaxIdleConns:          100,
		},
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	bot.Client = httpClient

	chatID, err := strconv.ParseInt(cfg.OpsChat, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid ops chat id %q: %w", cfg.OpsChat, err)
	}

	return &Notifier{
		bot:     bot,
		chatID:  chatID,
		enabled: true,
		logger:  logger,
	}, nil
}

// Notify sends one message to the ops chat, retrying transient failures with
// exponential backoff.
func (n *Notifier) Notify(message string) error {
	if !n.enabled {
		return nil
	}

	msg := tgbotapi.NewMessage(n.chatID, message)
	msg.ParseMode = "Markdown"

	var lastErr error
	for attempt := 1; attempt <= sendRetries; attempt++ {
		if _, err := n.bot.Send(msg); err == nil {
			n.logger.Info("Ops notification sent", zap.Int("attempt", attempt))
			return nil
		} else {
			lastErr = err
			n.logger.Warn("Failed to send ops notification",
				zap.Error(err),
				zap.Int("attempt", attempt))
		}

		if attempt < sendRetries {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			time.Sleep(backoff)
		}
	}

	return fmt.Errorf("send notification after %d attempts: %w", sendRetries, lastErr)
}

// JobFailed reports a failed batch job with its error.
func (n *Notifier) JobFailed(job string, err error) {
	text := fmt.Sprintf("❌ *%s* завершился с ошибкой:\n`%v`", job, err)
	if sendErr := n.Notify(text); sendErr != nil {
		n.logger.Error("Failed to report job failure", zap.Error(sendErr))
	}
}

// JobDone reports a finished job with a short result line.
func (n *Notifier) JobDone(job, result string) {
	text := fmt.Sprintf("✅ *%s*: %s", job, result)
	if sendErr := n.Notify(text); sendErr != nil {
		n.logger.Error("Failed to report job result", zap.Error(sendErr))
	}
}
