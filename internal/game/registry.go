package game

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/handelsrausch/internal/market"
	"github.com/example/handelsrausch/internal/models"
)

// Store is the persistence boundary the registry depends on: a commodity
// catalog and per-room settings loadable at room creation, and an
// append-only highscore log. Everything is best-effort except the
// catalog, without which a room cannot exist.
type Store interface {
	Catalog(ctx context.Context) ([]models.CatalogEntry, error)
	LoadSettings(ctx context.Context, roomID string) ([]byte, error)
	SaveSettings(ctx context.Context, roomID string, settings []byte) error
	AppendHighscore(ctx context.Context, entry models.HighscoreEntry) error
}

// Broadcaster receives the outputs of scheduled ticks. The websocket hub
// implements it; tests plug in fakes.
type Broadcaster interface {
	MarketUpdate(roomID string, state models.PublicState)
	GameOver(roomID string, over models.GameOver)
}

// ticker is one room's scheduling state. The stop channel doubles as a
// generation tag: a restart installs a fresh channel, and a stale ticker
// goroutine refuses to touch the room once its channel is no longer the
// installed one.
type ticker struct {
	stop chan struct{}
}

// Registry creates and looks up rooms and drives their tick scheduling.
// Exactly one Room exists per identifier for the process lifetime;
// stopped rooms stay registered with their ticker halted.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]*Room
	tickers map[string]*ticker

	store    Store
	bc       Broadcaster
	defaults models.RoomSettings
	log      zerolog.Logger
}

// NewRegistry creates a registry. The broadcaster is wired afterwards
// via SetBroadcaster because the hub needs the registry first.
func NewRegistry(store Store, defaults models.RoomSettings, log zerolog.Logger) *Registry {
	return &Registry{
		rooms:    make(map[string]*Room),
		tickers:  make(map[string]*ticker),
		store:    store,
		defaults: defaults,
		log:      log,
	}
}

// SetBroadcaster installs the tick output sink. Must be called before
// the first room is created.
func (reg *Registry) SetBroadcaster(bc Broadcaster) {
	reg.bc = bc
}

// GetOrCreate returns the room for an identifier, constructing it on
// first use from the catalog and any persisted settings, and starting
// its ticker.
func (reg *Registry) GetOrCreate(ctx context.Context, roomID string) (*Room, error) {
	reg.mu.RLock()
	room, ok := reg.rooms[roomID]
	reg.mu.RUnlock()
	if ok {
		return room, nil
	}

	catalog, err := reg.store.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	settings := reg.defaults
	if blob, err := reg.store.LoadSettings(ctx, roomID); err != nil {
		reg.log.Warn().Err(err).Str("room", roomID).Msg("could not load room settings, using defaults")
	} else if len(blob) > 0 {
		// A broken blob is ignored, as it always has been.
		if err := json.Unmarshal(blob, &settings); err != nil {
			settings = reg.defaults
			reg.log.Warn().Err(err).Str("room", roomID).Msg("discarding malformed settings blob")
		}
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if room, ok := reg.rooms[roomID]; ok {
		// Lost the creation race.
		return room, nil
	}
	prices := market.NewModel(rand.New(rand.NewSource(time.Now().UnixNano())))
	room = NewRoom(roomID, catalog, settings, prices)
	reg.rooms[roomID] = room
	reg.startTickerLocked(room, settings.TickMs)
	reg.log.Info().Str("room", roomID).Int("tickMs", settings.TickMs).Msg("room created")
	return room, nil
}

// Lookup returns an existing room or nil. Actions against unknown rooms
// are treated as stale-client no-ops, so no error here.
func (reg *Registry) Lookup(roomID string) *Room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.rooms[roomID]
}

// StartTicker (re)starts periodic ticking for a room. Any previous
// ticker is replaced; duplicate timers never accumulate.
func (reg *Registry) StartTicker(roomID string, intervalMs int) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	room, ok := reg.rooms[roomID]
	if !ok {
		return
	}
	reg.startTickerLocked(room, intervalMs)
}

func (reg *Registry) startTickerLocked(room *Room, intervalMs int) {
	if t, ok := reg.tickers[room.ID]; ok {
		close(t.stop)
	}
	if intervalMs <= 0 {
		intervalMs = reg.defaults.TickMs
	}
	t := &ticker{stop: make(chan struct{})}
	reg.tickers[room.ID] = t
	go reg.run(room, time.Duration(intervalMs)*time.Millisecond, t)
}

// StopTicker halts a room's ticker. Idempotent; the room itself stays
// registered.
func (reg *Registry) StopTicker(roomID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if t, ok := reg.tickers[roomID]; ok {
		close(t.stop)
		delete(reg.tickers, roomID)
	}
}

// stopIfCurrent retires t unless a restart already replaced it, in
// which case the replacement must keep running.
func (reg *Registry) stopIfCurrent(roomID string, t *ticker) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.tickers[roomID] == t {
		close(t.stop)
		delete(reg.tickers, roomID)
	}
}

// advance runs one tick for the room, but only while t is still the
// installed ticker. The registry lock is held across the check and the
// tick itself, so a restart cannot slip in between them; Start/StopTicker
// take the write lock and therefore wait out an in-flight tick.
func (reg *Registry) advance(room *Room, t *ticker) (models.PublicState, *models.GameOver, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	if reg.tickers[room.ID] != t {
		return models.PublicState{}, nil, false
	}
	state, over := room.Advance(time.Now())
	return state, over, true
}

// run is one room's tick loop: price update and win check as one atomic
// step, then broadcasts. It exits when stopped, replaced, or a win
// condition fires.
func (reg *Registry) run(room *Room, interval time.Duration, t *ticker) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-tick.C:
			state, over, ok := reg.advance(room, t)
			if !ok {
				return
			}
			reg.bc.MarketUpdate(room.ID, state)
			if over != nil {
				reg.recordHighscore(room.ID, *over)
				reg.bc.GameOver(room.ID, *over)
				reg.stopIfCurrent(room.ID, t)
				return
			}
		}
	}
}

// recordHighscore appends the game-over row. Persistence is best-effort;
// the in-memory game is authoritative.
func (reg *Registry) recordHighscore(roomID string, over models.GameOver) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	entry := models.HighscoreEntry{PlayerName: over.Winner, Cash: over.Cash, Timestamp: time.Now()}
	if err := reg.store.AppendHighscore(ctx, entry); err != nil {
		reg.log.Error().Err(err).Str("room", roomID).Str("winner", over.Winner).Msg("highscore insert failed")
	}
	reg.log.Info().Str("room", roomID).Str("winner", over.Winner).Str("reason", over.Reason).Float64("cash", over.Cash).Msg("game over")
}

// ApplySettings merges a settings patch into a room, persists the result
// and restarts the ticker with the new interval. This is also the only
// way to resume a room after a win. Returns false for unknown rooms.
func (reg *Registry) ApplySettings(ctx context.Context, roomID string, patch models.SettingsPatch) (models.RoomSettings, bool) {
	room := reg.Lookup(roomID)
	if room == nil {
		return models.RoomSettings{}, false
	}
	settings := room.UpdateSettings(patch)

	// State is already updated; persistence failure must not block play.
	if blob, err := json.Marshal(settings); err == nil {
		if err := reg.store.SaveSettings(ctx, roomID, blob); err != nil {
			reg.log.Error().Err(err).Str("room", roomID).Msg("settings save failed")
		}
	}

	reg.StartTicker(roomID, settings.TickMs)
	return settings, true
}
