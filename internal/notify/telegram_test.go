package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func telegramWithServer(t *testing.T, handler http.HandlerFunc) (*TelegramSender, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	sender := NewTelegramSender("test-token", "42")
	sender.apiBase = srv.URL
	return sender, srv
}

func TestTelegramSend(t *testing.T) {
	var got sendMessageRequest
	var path string
	sender, _ := telegramWithServer(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	})

	err := sender.Send(context.Background(), "Position at risk", "LTV 78% on 0xasset")
	require.NoError(t, err)

	require.Equal(t, "/bottest-token/sendMessage", path)
	require.Equal(t, "42", got.ChatID)
	require.Equal(t, "*Position at risk*\nLTV 78% on 0xasset", got.Text)
	require.Equal(t, "Markdown", got.ParseMode)
}

func TestTelegramSend_TruncatesLongMessage(t *testing.T) {
	var got sendMessageRequest
	sender, _ := telegramWithServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	})

	err := sender.Send(context.Background(), "Settlement report", strings.Repeat("x", 6000))
	require.NoError(t, err)
	require.Len(t, got.Text, telegramMessageLimit)
}

func TestTelegramSend_APIError(t *testing.T) {
	sender, _ := telegramWithServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"ok":false,"description":"Bad Request"}`, http.StatusBadRequest)
	})

	err := sender.Send(context.Background(), "title", "body")
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 400")
}
