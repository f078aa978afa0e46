package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBus struct {
	ch      chan []byte
	history [][]byte
}

func (b *fakeBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.ch <- payload
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return b.ch, nil
}

func (b *fakeBus) Recent(context.Context, string, int) ([][]byte, error) {
	return b.history, nil
}

func dial(t *testing.T, bus *fakeBus, cfg Config) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(bus, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	return msg
}

func TestHub_HelloThenBroadcast(t *testing.T) {
	bus := &fakeBus{ch: make(chan []byte, 4)}
	conn := dial(t, bus, Config{Channels: []string{"ch:sync"}})

	var hello map[string]any
	require.NoError(t, json.Unmarshal(read(t, conn), &hello))
	assert.Equal(t, "hello", hello["type"])
	assert.Equal(t, []any{"ch:sync"}, hello["channels"])

	require.NoError(t, bus.Publish(context.Background(), "ch:sync", []byte(`{"type":"started"}`)))
	assert.JSONEq(t, `{"type":"started"}`, string(read(t, conn)))
}

func TestHub_ReplaysHistory(t *testing.T) {
	bus := &fakeBus{
		ch:      make(chan []byte, 1),
		history: [][]byte{[]byte(`{"n":1}`), []byte(`{"n":2}`)},
	}
	conn := dial(t, bus, Config{Channels: []string{"ch:sync"}, Replay: 10})

	read(t, conn) // hello
	assert.JSONEq(t, `{"n":1}`, string(read(t, conn)))
	assert.JSONEq(t, `{"n":2}`, string(read(t, conn)))
}
