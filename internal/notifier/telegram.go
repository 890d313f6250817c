package notifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const telegramAPIBase = "https://api.telegram.org"

// Telegram 通知器：kill switch 等关键操作的结果推送到指定群/频道。
type Telegram struct {
	BotToken string
	ChatID   string
	rest     *resty.Client
}

func NewTelegram(botToken, chatID string) *Telegram {
	return newTelegram(telegramAPIBase, botToken, chatID)
}

func newTelegram(base, botToken, chatID string) *Telegram {
	rest := resty.New().
		SetBaseURL(strings.TrimRight(base, "/")).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(3 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500 || r.StatusCode() == 429
		})
	return &Telegram{BotToken: strings.TrimSpace(botToken), ChatID: strings.TrimSpace(chatID), rest: rest}
}

// SendText 发送 Markdown 文本消息，网络错误与 5xx/429 最多重试两次。
func (t *Telegram) SendText(text string) error {
	if t.BotToken == "" || t.ChatID == "" {
		return fmt.Errorf("Telegram 配置不完整")
	}
	resp, err := t.rest.R().
		SetPathParam("token", t.BotToken).
		SetBody(map[string]any{
			"chat_id":    t.ChatID,
			"text":       text,
			"parse_mode": "Markdown",
		}).
		Post("/bot{token}/sendMessage")
	if err != nil {
		return fmt.Errorf("telegram 发送失败: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("telegram status=%d", resp.StatusCode())
	}
	return nil
}
