package websocket

import (
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

	"github.com/arcade-backend/internal/domain"
)

func startHub(t *testing.T) (*Hub, *websocket.Conn) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(logger)
	go hub.Run()
	t.Cleanup(hub.Stop)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, logger, w, r)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return hub, conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func subscribe(t *testing.T, hub *Hub, conn *websocket.Conn, scope string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypeSubscribe, Scope: scope}))
	ack := readMessage(t, conn)
	require.Equal(t, "subscribed", ack.Type)
	require.Eventually(t, func() bool {
		return hub.SubscriberCount(domain.Scope(scope)) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestBroadcastRanksReachesSubscribers(t *testing.T) {
	hub, conn := startHub(t)
	subscribe(t, hub, conn, "global")

	hub.BroadcastRanks(domain.GlobalScope(), []domain.LeaderboardEntry{{PlayerID: "p1", Score: 900}})
	hub.BroadcastRanks(domain.Scope("daily:2024-03-06"), []domain.LeaderboardEntry{{PlayerID: "p2", Score: 5}})

	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeRanksUpdate, msg.Type)
	assert.Equal(t, domain.GlobalScope(), msg.Scope)

	data, err := json.Marshal(msg.Data)
	require.NoError(t, err)
	var update RanksUpdate
	require.NoError(t, json.Unmarshal(data, &update))
	require.Len(t, update.Entries, 1)
	assert.Equal(t, "p1", update.Entries[0].PlayerID)
}

func TestBroadcastTournamentSettledUsesTournamentScope(t *testing.T) {
	hub, conn := startHub(t)
	subscribe(t, hub, conn, "tournament:t1")

	hub.BroadcastTournamentSettled(&domain.Tournament{ID: "t1", Name: "Spring Cup", ParticipantCount: 2})

	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeTournamentSettled, msg.Type)
	assert.Equal(t, domain.TournamentScope("t1"), msg.Scope)
}

func TestSubscribeRejectsInvalidScope(t *testing.T) {
	_, conn := startHub(t)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypeSubscribe, Scope: "monthly:2024-03"}))
	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeError, msg.Type)
}

func TestPingIsAnswered(t *testing.T) {
	_, conn := startHub(t)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypePing}))
	assert.Equal(t, MessageTypePong, readMessage(t, conn).Type)
}

func TestUnregisterDropsSubscriptions(t *testing.T) {
	hub, conn := startHub(t)
	subscribe(t, hub, conn, "global")

	conn.Close()
	assert.Eventually(t, func() bool {
		return hub.SubscriberCount(domain.GlobalScope()) == 0 && hub.TotalConnections() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
