package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"taskline/internal/config"
)

// Notifier delivers a finished-run message. Delivery failures are
// reported, not fatal.
type Notifier interface {
	Send(ctx context.Context, text string) Result
}

type Result struct {
	OK      bool
	Message string
}

// Telegram posts messages through the Bot API.
type Telegram struct {
	Config  config.TelegramConfig
	Client  *http.Client
	BaseURL string
}

func NewTelegram(cfg config.TelegramConfig) *Telegram {
	return &Telegram{
		Config:  cfg,
		Client:  &http.Client{Timeout: 10 * time.Second},
		BaseURL: "https://api.telegram.org",
	}
}

func (t *Telegram) Send(ctx context.Context, text string) Result {
	if !t.Config.Configured() {
		return Result{OK: false, Message: "Telegram not configured."}
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.BaseURL, t.Config.BotToken)
	payload, _ := json.Marshal(map[string]string{
		"chat_id": t.Config.ChatID,
		"text":    text,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Result{OK: false, Message: fmt.Sprintf("Telegram request failed: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.Client.Do(req)
	if err != nil {
		return Result{OK: false, Message: fmt.Sprintf("Telegram request failed: %v", err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{OK: false, Message: fmt.Sprintf("Telegram error %d: %s", resp.StatusCode, body)}
	}
	return Result{OK: true, Message: "Notification sent."}
}
