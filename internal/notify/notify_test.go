package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictionhub/internal/domain"
)

type recordingSender struct {
	name string
	err  error
	got  []Message
}

func (r *recordingSender) Send(_ context.Context, msg Message) error {
	r.got = append(r.got, msg)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifier_FiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventSyncError}, discardLogger())

	require.NoError(t, n.Notify(context.Background(), Message{Event: EventSyncCompleted}))
	require.NoError(t, n.Notify(context.Background(), Message{Event: EventSyncError, Title: "boom"}))

	require.Len(t, s.got, 1)
	assert.Equal(t, "boom", s.got[0].Title)
}

func TestNotifier_JoinsSenderErrors(t *testing.T) {
	ok := &recordingSender{name: "ok"}
	bad := &recordingSender{name: "bad", err: errors.New("down")}
	n := NewNotifier([]Sender{bad, ok}, nil, discardLogger())

	err := n.Notify(context.Background(), Message{Event: EventSyncError})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: down")
	assert.Len(t, ok.got, 1, "healthy sender still receives the message")
}

func TestNotifier_NilIsNoop(t *testing.T) {
	var n *Notifier
	assert.NoError(t, n.Notify(context.Background(), Message{}))
}

func TestSyncMessage(t *testing.T) {
	msg := SyncMessage("events_sync", domain.SyncResult{}, errors.New("subgraph down"))
	assert.Equal(t, EventSyncError, msg.Event)
	assert.Equal(t, "subgraph down", msg.Body)

	res := domain.SyncResult{
		Success:          true,
		Fetched:          3,
		Processed:        1,
		TimeLimitReached: true,
		Cursor:           &domain.SyncCursor{ConditionID: "0xc", CreationTimestamp: 5},
	}
	msg = SyncMessage("events_sync", res, nil)
	assert.Equal(t, EventSyncCompleted, msg.Event)
	assert.Contains(t, msg.Body, "time limit")
	assert.Contains(t, msg.Fields, Field{Name: "processed", Value: "1"})
	assert.Contains(t, msg.Fields, Field{Name: "cursor", Value: "0xc"})
}

func TestDiscordSender_PostsEmbed(t *testing.T) {
	var payload discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	err := d.Send(context.Background(), Message{
		Event:  EventSyncError,
		Title:  "failed",
		Fields: []Field{{Name: "errors", Value: "2"}},
	})
	require.NoError(t, err)
	require.Len(t, payload.Embeds, 1)
	assert.Equal(t, discordColorError, payload.Embeds[0].Color)
	assert.Equal(t, "errors", payload.Embeds[0].Fields[0].Name)
}

func TestDiscordSender_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), Message{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

type fakeBot struct {
	sent []tgbotapi.Chattable
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func TestTelegramSender_FormatsText(t *testing.T) {
	bot := &fakeBot{}
	s := newTelegramSenderWithAPI(bot, 42)

	err := s.Send(context.Background(), Message{
		Title:  "events_sync completed",
		Fields: []Field{{Name: "processed", Value: "7"}},
	})
	require.NoError(t, err)
	require.Len(t, bot.sent, 1)

	cfg, ok := bot.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(42), cfg.ChatID)
	assert.Equal(t, "events_sync completed\nprocessed: 7", cfg.Text)
}
