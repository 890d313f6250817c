package notifier

import (
	"strings"

	"botwatch/internal/config"
	"botwatch/internal/logger"
)

// TextNotifier is the only surface the action controller sees.
type TextNotifier interface {
	SendText(text string) error
}

// Nop drops every message.
type Nop struct{}

func (Nop) SendText(string) error { return nil }

// Logging writes messages to the process log instead of a remote channel.
type Logging struct{}

func (Logging) SendText(text string) error {
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			logger.Infof("[notify] %s", line)
		}
	}
	return nil
}

// FromConfig picks Telegram when it is enabled and fully configured,
// otherwise falls back to the log.
func FromConfig(cfg config.NotifyConfig) TextNotifier {
	tg := cfg.Telegram
	if !tg.Enabled {
		return Logging{}
	}
	if strings.TrimSpace(tg.BotToken) == "" || strings.TrimSpace(tg.ChatID) == "" {
		logger.Warnf("notify.telegram 已启用但缺少 bot_token/chat_id，改为写日志")
		return Logging{}
	}
	return NewTelegram(tg.BotToken, tg.ChatID)
}
