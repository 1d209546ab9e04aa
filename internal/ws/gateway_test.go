package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/example/handelsrausch/internal/auth"
	"github.com/example/handelsrausch/internal/game"
	"github.com/example/handelsrausch/internal/models"
)

type memStore struct {
	mu         sync.Mutex
	settings   map[string][]byte
	highscores []models.HighscoreEntry
}

func (s *memStore) Catalog(ctx context.Context) ([]models.CatalogEntry, error) {
	return []models.CatalogEntry{
		{ID: "x", Name: "Ware X", MinPrice: 10, MaxPrice: 100, BasePrice: 50},
	}, nil
}

func (s *memStore) LoadSettings(ctx context.Context, roomID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings[roomID], nil
}

func (s *memStore) SaveSettings(ctx context.Context, roomID string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[roomID] = blob
	return nil
}

func (s *memStore) AppendHighscore(ctx context.Context, entry models.HighscoreEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.highscores = append(s.highscores, entry)
	return nil
}

// slowDefaults keeps scheduled ticks out of the way so tests only see
// the messages they provoke.
func slowDefaults() models.RoomSettings {
	return models.RoomSettings{
		TickMs:        3600000,
		StartMoney:    1000,
		WinByMoney:    true,
		MoneyTarget:   100000,
		TimeTargetSec: 3600,
	}
}

type testServer struct {
	srv  *httptest.Server
	reg  *game.Registry
	hub  *Hub
	auth *auth.Service
}

func newTestServer(t *testing.T, store game.Store) *testServer {
	t.Helper()
	reg := game.NewRegistry(store, slowDefaults(), zerolog.Nop())
	authService := auth.NewService("test-secret")
	hub := NewHub(reg, authService, zerolog.Nop())
	reg.SetBroadcaster(hub)

	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		srv.Close()
		reg.StopTicker(defaultRoomID)
	})
	return &testServer{srv: srv, reg: reg, hub: hub, auth: authService}
}

func (ts *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendMsg(t *testing.T, conn *websocket.Conn, msgType string, payload interface{}) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Message{Type: msgType, Payload: raw}))
}

// waitFor reads until a message of the wanted type arrives, skipping
// interleaved broadcasts.
func waitFor(t *testing.T, conn *websocket.Conn, msgType string) json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %q", msgType)
		if msg.Type == msgType {
			return msg.Payload
		}
	}
}

func join(t *testing.T, ts *testServer, conn *websocket.Conn, name, room string) {
	t.Helper()
	sendMsg(t, conn, "join", map[string]string{"name": name, "room": room})
	waitFor(t, conn, "joined")
}

func TestHub_JoinAndState(t *testing.T) {
	ts := newTestServer(t, &memStore{settings: map[string][]byte{}})
	conn := ts.dial(t)

	sendMsg(t, conn, "join", map[string]string{"name": "Alice"})
	payload := waitFor(t, conn, "joined")

	var joined struct {
		ID        string        `json:"id"`
		YourState models.Player `json:"yourState"`
		Public    models.PublicState
		Settings  models.RoomSettings `json:"settings"`
	}
	require.NoError(t, json.Unmarshal(payload, &joined))
	require.NotEmpty(t, joined.ID)
	require.Equal(t, "Alice", joined.YourState.Name)
	require.Equal(t, 1000.0, joined.YourState.Cash)
	require.Equal(t, 0, joined.YourState.Inventory["x"])
	require.Equal(t, slowDefaults(), joined.Settings)

	// Join is followed by a room-wide market update.
	waitFor(t, conn, "marketUpdate")

	sendMsg(t, conn, "requestState", nil)
	statePayload := waitFor(t, conn, "state")
	var state struct {
		Public models.PublicState `json:"public"`
	}
	require.NoError(t, json.Unmarshal(statePayload, &state))
	require.Len(t, state.Public.Players, 1)
	require.Len(t, state.Public.Drugs, 1)
}

func TestHub_BuySell(t *testing.T) {
	ts := newTestServer(t, &memStore{settings: map[string][]byte{}})
	conn := ts.dial(t)
	join(t, ts, conn, "Alice", "")

	sendMsg(t, conn, "buy", map[string]interface{}{"drugId": "x", "qty": 5})
	var res actionResult
	require.NoError(t, json.Unmarshal(waitFor(t, conn, "actionResult"), &res))
	require.True(t, res.OK)
	require.Equal(t, "Gekauft: 5 x Ware X für 250.00€", res.Message)
	require.Equal(t, 750.0, res.YourState.Cash)
	require.Equal(t, 5, res.YourState.Inventory["x"])

	sendMsg(t, conn, "sell", map[string]interface{}{"drugId": "x", "qty": 5})
	require.NoError(t, json.Unmarshal(waitFor(t, conn, "actionResult"), &res))
	require.True(t, res.OK)
	require.Equal(t, 1000.0, res.YourState.Cash)
}

func TestHub_TradeFailures(t *testing.T) {
	ts := newTestServer(t, &memStore{settings: map[string][]byte{}})
	conn := ts.dial(t)
	join(t, ts, conn, "Alice", "")

	tests := []struct {
		name    string
		op      string
		payload map[string]interface{}
		message string
	}{
		{"BuyZeroQty", "buy", map[string]interface{}{"drugId": "x", "qty": 0}, "Ungültige Menge."},
		{"BuyUnknownCommodity", "buy", map[string]interface{}{"drugId": "z", "qty": 1}, "Unbekannte Ware."},
		{"BuyTooExpensive", "buy", map[string]interface{}{"drugId": "x", "qty": 1000}, "Nicht genug Geld."},
		{"SellWithoutInventory", "sell", map[string]interface{}{"drugId": "x", "qty": 1}, "Nicht genug Inventar."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sendMsg(t, conn, tt.op, tt.payload)
			var res actionResult
			require.NoError(t, json.Unmarshal(waitFor(t, conn, "actionResult"), &res))
			require.False(t, res.OK)
			require.Equal(t, tt.message, res.Message)
			require.Nil(t, res.YourState)
		})
	}
}

func TestHub_BroadcastReachesRoomOnly(t *testing.T) {
	ts := newTestServer(t, &memStore{settings: map[string][]byte{}})
	t.Cleanup(func() { ts.reg.StopTicker("other") })

	alice := ts.dial(t)
	bob := ts.dial(t)
	carol := ts.dial(t)
	join(t, ts, alice, "Alice", "main")
	join(t, ts, bob, "Bob", "main")
	join(t, ts, carol, "Carol", "other")

	// Bob's buy reaches Alice as a market update with the new cash.
	sendMsg(t, bob, "buy", map[string]interface{}{"drugId": "x", "qty": 4})
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.True(t, time.Now().Before(deadline), "no market update with Bob's trade")
		var state models.PublicState
		require.NoError(t, json.Unmarshal(waitFor(t, alice, "marketUpdate"), &state))
		if len(state.Players) == 2 && state.Players[1].Cash == 800.0 {
			break
		}
	}

	// Carol's room is untouched by it.
	sendMsg(t, carol, "requestState", nil)
	var state struct {
		Public models.PublicState `json:"public"`
	}
	require.NoError(t, json.Unmarshal(waitFor(t, carol, "state"), &state))
	require.Len(t, state.Public.Players, 1)
	require.Equal(t, 1000.0, state.Public.Players[0].Cash)
}

func TestHub_SwitchingRoomsLeavesTheOld(t *testing.T) {
	ts := newTestServer(t, &memStore{settings: map[string][]byte{}})
	t.Cleanup(func() {
		ts.reg.StopTicker("red")
		ts.reg.StopTicker("blue")
	})

	alice := ts.dial(t)
	bob := ts.dial(t)
	join(t, ts, alice, "Alice", "red")
	join(t, ts, bob, "Bob", "red")

	// Alice moves on; the red room must forget her entirely.
	join(t, ts, alice, "Alice", "blue")
	var state models.PublicState
	require.NoError(t, json.Unmarshal(waitFor(t, alice, "marketUpdate"), &state))
	require.Len(t, state.Players, 1)
	require.Equal(t, "Alice", state.Players[0].Name)

	sendMsg(t, bob, "requestState", nil)
	var reply struct {
		Public models.PublicState `json:"public"`
	}
	require.NoError(t, json.Unmarshal(waitFor(t, bob, "state"), &reply))
	require.Len(t, reply.Public.Players, 1)
	require.Equal(t, "Bob", reply.Public.Players[0].Name)

	// Bob's trade no longer reaches Alice's socket.
	sendMsg(t, bob, "buy", map[string]interface{}{"drugId": "x", "qty": 1})
	waitFor(t, bob, "actionResult")

	alice.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var msg Message
	require.Error(t, alice.ReadJSON(&msg), "stray broadcast from the left room: %+v", msg)
}

func TestHub_MalformedPayloadRejected(t *testing.T) {
	ts := newTestServer(t, &memStore{settings: map[string][]byte{}})
	conn := ts.dial(t)
	join(t, ts, conn, "Alice", "")

	require.NoError(t, conn.WriteJSON(Message{Type: "buy", Payload: json.RawMessage(`"kaputt"`)}))
	var res actionResult
	require.NoError(t, json.Unmarshal(waitFor(t, conn, "actionResult"), &res))
	require.False(t, res.OK)
	require.Equal(t, "Ungültige Anfrage.", res.Message)

	// The connection survives and a clean trade still goes through.
	sendMsg(t, conn, "buy", map[string]interface{}{"drugId": "x", "qty": 1})
	require.NoError(t, json.Unmarshal(waitFor(t, conn, "actionResult"), &res))
	require.True(t, res.OK)
}

func TestHub_UpdateSettings(t *testing.T) {
	store := &memStore{settings: map[string][]byte{}}
	ts := newTestServer(t, store)
	conn := ts.dial(t)
	join(t, ts, conn, "Alice", "")

	sendMsg(t, conn, "updateSettings", map[string]interface{}{
		"tickMs":     600000,
		"winByMoney": true,
	})
	var settings models.RoomSettings
	require.NoError(t, json.Unmarshal(waitFor(t, conn, "settingsUpdated"), &settings))
	require.Equal(t, 600000, settings.TickMs)
	// Untouched fields keep their values.
	require.Equal(t, 1000.0, settings.StartMoney)

	store.mu.Lock()
	blob := store.settings[defaultRoomID]
	store.mu.Unlock()
	require.NotEmpty(t, blob, "settings not persisted")
}

func TestHub_GameOverBroadcast(t *testing.T) {
	store := &memStore{settings: map[string][]byte{
		"fast": []byte(`{"tickMs":150,"moneyTarget":500}`),
	}}
	ts := newTestServer(t, store)
	t.Cleanup(func() { ts.reg.StopTicker("fast") })

	conn := ts.dial(t)
	join(t, ts, conn, "Alice", "fast") // start money 1000 >= target 500

	var over models.GameOver
	require.NoError(t, json.Unmarshal(waitFor(t, conn, "gameOver"), &over))
	require.Equal(t, "Alice", over.Winner)
	require.Equal(t, "money", over.Reason)
	require.Equal(t, 1000.0, over.Cash)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.highscores, 1)
	require.Equal(t, "Alice", store.highscores[0].PlayerName)
}

func TestHub_GuestTokenPinsName(t *testing.T) {
	ts := newTestServer(t, &memStore{settings: map[string][]byte{}})
	token, err := ts.auth.GuestToken("Echte Alice")
	require.NoError(t, err)

	conn := ts.dial(t)
	sendMsg(t, conn, "join", map[string]string{"name": "Hochstapler", "token": token})
	var joined struct {
		YourState models.Player `json:"yourState"`
	}
	require.NoError(t, json.Unmarshal(waitFor(t, conn, "joined"), &joined))
	require.Equal(t, "Echte Alice", joined.YourState.Name)
}

func TestHub_ActionsBeforeJoinAreNoOps(t *testing.T) {
	ts := newTestServer(t, &memStore{settings: map[string][]byte{}})
	conn := ts.dial(t)

	// No room exists yet; all of these must be silently ignored.
	sendMsg(t, conn, "buy", map[string]interface{}{"drugId": "x", "qty": 1})
	sendMsg(t, conn, "requestState", nil)
	sendMsg(t, conn, "updateSettings", map[string]interface{}{"tickMs": 500})

	// The connection stays healthy: a join still works.
	join(t, ts, conn, "Alice", "")
}
