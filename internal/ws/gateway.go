package ws

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/example/handelsrausch/internal/auth"
	"github.com/example/handelsrausch/internal/game"
	"github.com/example/handelsrausch/internal/models"
)

const defaultRoomID = "main"

// Message is the inbound wire envelope.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSOut is the outbound wire envelope.
type WSOut struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// client is one websocket connection. The mutex serializes writes; the
// broadcast goroutines and the read loop both send to the socket.
type client struct {
	id     string
	roomID string
	conn   *websocket.Conn
	mu     sync.Mutex
}

func (c *client) send(out WSOut) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(out)
}

// Hub is the session gateway: it maps connections to (room, player),
// translates wire messages into room operations and fans room outputs
// back out. It implements game.Broadcaster for the registry's tickers.
type Hub struct {
	reg      *game.Registry
	auth     *auth.Service
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	rooms map[string]map[*client]struct{}
}

// NewHub creates the gateway. Wire it into the registry with
// Registry.SetBroadcaster before serving.
func NewHub(reg *game.Registry, authService *auth.Service, log zerolog.Logger) *Hub {
	return &Hub{
		reg:  reg,
		auth: authService,
		log:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		rooms: make(map[string]map[*client]struct{}),
	}
}

// ServeHTTP makes the hub mountable as a plain handler.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.HandleWS(w, r)
}

// HandleWS upgrades the connection and runs its read loop.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &client{id: uuid.NewString(), conn: conn}
	h.log.Debug().Str("player", c.id).Msg("socket connected")
	go h.readLoop(c)
}

func (h *Hub) readLoop(c *client) {
	defer h.disconnect(c)

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "join":
			h.handleJoin(c, msg.Payload)
		case "buy":
			h.handleTrade(c, msg.Payload, false)
		case "sell":
			h.handleTrade(c, msg.Payload, true)
		case "requestState":
			h.handleRequestState(c)
		case "updateSettings":
			h.handleUpdateSettings(c, msg.Payload)
		default:
			h.log.Debug().Str("type", msg.Type).Msg("unknown message type")
		}
	}
}

func (h *Hub) disconnect(c *client) {
	c.conn.Close()
	h.unsubscribe(c)
	h.log.Debug().Str("player", c.id).Msg("socket disconnected")
}

// unsubscribe removes the client from its room's broadcast set and from
// the room itself. Used on disconnect and when a socket joins a
// different room.
func (h *Hub) unsubscribe(c *client) {
	if c.roomID == "" {
		return
	}
	h.mu.Lock()
	if set, ok := h.rooms[c.roomID]; ok {
		delete(set, c)
	}
	h.mu.Unlock()

	if room := h.reg.Lookup(c.roomID); room != nil {
		room.Leave(c.id)
		h.MarketUpdate(c.roomID, room.PublicState())
	}
	c.roomID = ""
}

// decode unmarshals a payload, tolerating an absent one.
func decode(payload json.RawMessage, v interface{}) error {
	if len(payload) == 0 {
		return nil
	}
	return json.Unmarshal(payload, v)
}

func (h *Hub) handleJoin(c *client, payload json.RawMessage) {
	var req struct {
		Name  string `json:"name"`
		Room  string `json:"room"`
		Token string `json:"token"`
	}
	if err := decode(payload, &req); err != nil {
		h.log.Debug().Err(err).Str("player", c.id).Msg("malformed join payload")
		c.send(WSOut{Type: "actionResult", Payload: actionResult{OK: false, Message: "Ungültige Anfrage."}})
		return
	}

	// A valid guest token pins the display name across reconnects.
	if req.Token != "" {
		if name, err := h.auth.NameFromToken(req.Token); err == nil {
			req.Name = name
		}
	}
	roomID := req.Room
	if roomID == "" {
		roomID = defaultRoomID
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	room, err := h.reg.GetOrCreate(ctx, roomID)
	if err != nil {
		h.log.Error().Err(err).Str("room", roomID).Msg("room creation failed")
		c.send(WSOut{Type: "actionResult", Payload: actionResult{OK: false, Message: "Raum nicht verfügbar."}})
		return
	}

	// Switching rooms on a live socket leaves the old one first, so no
	// stale broadcast-set entry lingers.
	if c.roomID != "" && c.roomID != roomID {
		h.unsubscribe(c)
	}

	// Subscribe before joining so no broadcast between the two is lost.
	c.roomID = roomID
	h.mu.Lock()
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*client]struct{})
	}
	h.rooms[roomID][c] = struct{}{}
	h.mu.Unlock()

	player := room.Join(c.id, req.Name)

	c.send(WSOut{Type: "joined", Payload: map[string]interface{}{
		"id":        c.id,
		"yourState": player,
		"public":    room.PublicState(),
		"settings":  room.Settings(),
	}})
	h.MarketUpdate(roomID, room.PublicState())
	h.log.Info().Str("player", c.id).Str("name", player.Name).Str("room", roomID).Msg("player joined")
}

type actionResult struct {
	OK        bool           `json:"ok"`
	Message   string         `json:"message"`
	YourState *models.Player `json:"yourState,omitempty"`
}

func (h *Hub) handleTrade(c *client, payload json.RawMessage, sell bool) {
	var req struct {
		DrugID string  `json:"drugId"`
		Qty    float64 `json:"qty"`
	}
	if err := decode(payload, &req); err != nil {
		h.log.Debug().Err(err).Str("player", c.id).Msg("malformed trade payload")
		c.send(WSOut{Type: "actionResult", Payload: actionResult{OK: false, Message: "Ungültige Anfrage."}})
		return
	}

	room := h.clientRoom(c)
	if room == nil {
		// Stale client without a live room: silent no-op.
		return
	}

	// Fractional quantities are floored, as they always have been.
	qty := int(math.Floor(req.Qty))
	var (
		res *game.TradeResult
		err error
	)
	if sell {
		res, err = room.Sell(c.id, req.DrugID, qty)
	} else {
		res, err = room.Buy(c.id, req.DrugID, qty)
	}
	if err != nil {
		c.send(WSOut{Type: "actionResult", Payload: actionResult{OK: false, Message: game.UserMessage(err)}})
		return
	}

	c.send(WSOut{Type: "actionResult", Payload: actionResult{OK: true, Message: res.Message, YourState: &res.Player}})
	h.MarketUpdate(room.ID, room.PublicState())
}

func (h *Hub) handleRequestState(c *client) {
	room := h.clientRoom(c)
	if room == nil {
		return
	}
	player, ok := room.PlayerState(c.id)
	if !ok {
		return
	}
	c.send(WSOut{Type: "state", Payload: map[string]interface{}{
		"yourState": player,
		"public":    room.PublicState(),
		"settings":  room.Settings(),
	}})
}

func (h *Hub) handleUpdateSettings(c *client, payload json.RawMessage) {
	var patch models.SettingsPatch
	if err := decode(payload, &patch); err != nil {
		h.log.Debug().Err(err).Str("player", c.id).Msg("malformed settings payload")
		c.send(WSOut{Type: "actionResult", Payload: actionResult{OK: false, Message: "Ungültige Anfrage."}})
		return
	}

	room := h.clientRoom(c)
	if room == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	settings, ok := h.reg.ApplySettings(ctx, room.ID, patch)
	if !ok {
		return
	}
	h.broadcast(room.ID, WSOut{Type: "settingsUpdated", Payload: settings})
	h.MarketUpdate(room.ID, room.PublicState())
}

// clientRoom resolves the client's room, falling back to the default
// room for sockets that never joined. A missing room means a stale
// client and yields nil.
func (h *Hub) clientRoom(c *client) *game.Room {
	roomID := c.roomID
	if roomID == "" {
		roomID = defaultRoomID
	}
	return h.reg.Lookup(roomID)
}

// MarketUpdate implements game.Broadcaster.
func (h *Hub) MarketUpdate(roomID string, state models.PublicState) {
	h.broadcast(roomID, WSOut{Type: "marketUpdate", Payload: state})
}

// GameOver implements game.Broadcaster.
func (h *Hub) GameOver(roomID string, over models.GameOver) {
	h.broadcast(roomID, WSOut{Type: "gameOver", Payload: over})
}

func (h *Hub) broadcast(roomID string, out WSOut) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.rooms[roomID]))
	for c := range h.rooms[roomID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.send(out); err != nil {
			h.log.Debug().Err(err).Str("player", c.id).Msg("broadcast write failed")
		}
	}
}
