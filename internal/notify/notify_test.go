package notify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"taskline/internal/config"
	"taskline/internal/notify"
)

func TestSendUnconfigured(t *testing.T) {
	tg := notify.NewTelegram(config.TelegramConfig{})
	res := tg.Send(context.Background(), "hello")
	if res.OK {
		t.Fatal("unconfigured notifier should not report success")
	}
	if !strings.Contains(res.Message, "not configured") {
		t.Fatalf("message = %q", res.Message)
	}
}

func TestSendPostsMessage(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tg := notify.NewTelegram(config.TelegramConfig{BotToken: "token123", ChatID: "42"})
	tg.BaseURL = srv.URL
	res := tg.Send(context.Background(), "Task 1: done")
	if !res.OK {
		t.Fatalf("send: %+v", res)
	}
	if gotPath != "/bottoken123/sendMessage" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotBody["chat_id"] != "42" || gotBody["text"] != "Task 1: done" {
		t.Fatalf("body = %v", gotBody)
	}
}

func TestSendServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	tg := notify.NewTelegram(config.TelegramConfig{BotToken: "t", ChatID: "c"})
	tg.BaseURL = srv.URL
	res := tg.Send(context.Background(), "x")
	if res.OK {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Message, "400") {
		t.Fatalf("message = %q", res.Message)
	}
}
