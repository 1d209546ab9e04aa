package game

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/example/handelsrausch/internal/market"
	"github.com/example/handelsrausch/internal/models"
)

const (
	// DefaultPlayerName is used when a joining client sends no name.
	DefaultPlayerName = "Spieler"
	maxNameLen        = 30
)

// Room owns one simulation: its commodities, players and settings.
// Every public method takes the room mutex for its whole duration, so
// trades, ticks and win checks are serialized per room and never observe
// half-applied state. Rooms are independent; there is no global lock.
type Room struct {
	ID string

	mu          sync.Mutex
	commodities map[string]*models.Commodity
	order       []string // commodity iteration order (catalog order)
	players     map[string]*models.Player
	joinOrder   []string // stable enumeration order for win checks
	settings    models.RoomSettings
	createdAt   time.Time
	prices      *market.Model
	active      bool
}

// NewRoom builds a room from the commodity catalog, seeded at base
// prices. The room starts active; the registry owns its ticker.
func NewRoom(id string, catalog []models.CatalogEntry, settings models.RoomSettings, prices *market.Model) *Room {
	r := &Room{
		ID:          id,
		commodities: make(map[string]*models.Commodity, len(catalog)),
		players:     make(map[string]*models.Player),
		settings:    settings,
		createdAt:   time.Now(),
		prices:      prices,
		active:      true,
	}
	for _, c := range catalog {
		r.commodities[c.ID] = &models.Commodity{
			ID:    c.ID,
			Name:  c.Name,
			Price: c.BasePrice,
			Min:   c.MinPrice,
			Max:   c.MaxPrice,
		}
		r.order = append(r.order, c.ID)
	}
	return r
}

// Join creates a fresh player with the room's starting cash and a zeroed
// inventory entry for every commodity. It never fails; a reused ID
// simply replaces the old player, which covers reconnects.
func (r *Room) Join(playerID, name string) models.Player {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultPlayerName
	}
	if runes := []rune(name); len(runes) > maxNameLen {
		name = string(runes[:maxNameLen])
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p := &models.Player{
		ID:        playerID,
		Name:      name,
		Cash:      r.settings.StartMoney,
		Inventory: make(map[string]int, len(r.commodities)),
	}
	for id := range r.commodities {
		p.Inventory[id] = 0
	}
	if _, ok := r.players[playerID]; !ok {
		r.joinOrder = append(r.joinOrder, playerID)
	}
	r.players[playerID] = p
	return copyPlayer(p)
}

// Leave removes a player, typically on disconnect. Unknown IDs are a
// no-op.
func (r *Room) Leave(playerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.players[playerID]; !ok {
		return
	}
	delete(r.players, playerID)
	for i, id := range r.joinOrder {
		if id == playerID {
			r.joinOrder = append(r.joinOrder[:i], r.joinOrder[i+1:]...)
			break
		}
	}
}

// TradeResult reports a successful buy or sell.
type TradeResult struct {
	Player  models.Player
	Message string
}

// Buy purchases qty units of a commodity at the current price. On any
// error the room is left unchanged.
func (r *Room) Buy(playerID, commodityID string, qty int) (*TradeResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, c, err := r.lookupTrade(playerID, commodityID, qty)
	if err != nil {
		return nil, err
	}
	cost := market.Round2(c.Price * float64(qty))
	if p.Cash < cost {
		return nil, ErrInsufficientFunds
	}
	p.Cash = market.Round2(p.Cash - cost)
	p.Inventory[commodityID] += qty
	return &TradeResult{
		Player:  copyPlayer(p),
		Message: fmt.Sprintf("Gekauft: %d x %s für %.2f€", qty, c.Name, cost),
	}, nil
}

// Sell liquidates qty units of a commodity at the current price. On any
// error the room is left unchanged.
func (r *Room) Sell(playerID, commodityID string, qty int) (*TradeResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, c, err := r.lookupTrade(playerID, commodityID, qty)
	if err != nil {
		return nil, err
	}
	if p.Inventory[commodityID] < qty {
		return nil, ErrInsufficientInventory
	}
	revenue := market.Round2(c.Price * float64(qty))
	p.Inventory[commodityID] -= qty
	p.Cash = market.Round2(p.Cash + revenue)
	return &TradeResult{
		Player:  copyPlayer(p),
		Message: fmt.Sprintf("Verkauft: %d x %s für %.2f€", qty, c.Name, revenue),
	}, nil
}

// lookupTrade validates the shared buy/sell inputs. Caller holds r.mu.
func (r *Room) lookupTrade(playerID, commodityID string, qty int) (*models.Player, *models.Commodity, error) {
	if qty <= 0 {
		return nil, nil, ErrInvalidQuantity
	}
	p, ok := r.players[playerID]
	if !ok {
		return nil, nil, ErrUnknownPlayer
	}
	c, ok := r.commodities[commodityID]
	if !ok {
		return nil, nil, ErrUnknownCommodity
	}
	return p, c, nil
}

// Tick advances every commodity price one step and returns the new
// public snapshot.
func (r *Room) Tick() models.PublicState {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tick()
	return r.publicState()
}

// CheckWinCondition evaluates the configured win mode against the
// current time. It returns nil while the round is still running.
func (r *Room) CheckWinCondition() *models.GameOver {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.checkWin(time.Now())
}

// Advance runs one scheduled cycle: price update then win check, as a
// single critical section so no trade can slip between the two.
func (r *Room) Advance(now time.Time) (models.PublicState, *models.GameOver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tick()
	return r.publicState(), r.checkWin(now)
}

func (r *Room) tick() {
	for _, id := range r.order {
		c := r.commodities[id]
		c.Price = r.prices.NextPrice(c.Price, c.Min, c.Max)
	}
}

func (r *Room) checkWin(now time.Time) *models.GameOver {
	if !r.active {
		return nil
	}
	if r.settings.WinByMoney {
		// A zeroed target falls back to an unreachable one so a
		// hand-edited settings blob cannot end the round instantly.
		target := r.settings.MoneyTarget
		if target <= 0 {
			target = 1e12
		}
		// First player in join order over the target wins. With several
		// players over target in the same tick this is iteration-order
		// dependent; join order is the documented tie-break.
		for _, id := range r.joinOrder {
			p := r.players[id]
			if p.Cash >= target {
				r.active = false
				return &models.GameOver{Winner: p.Name, Reason: "money", Cash: p.Cash}
			}
		}
		return nil
	}

	elapsed := now.Sub(r.createdAt)
	if elapsed < time.Duration(r.settings.TimeTargetSec)*time.Second {
		return nil
	}
	var winner *models.Player
	for _, id := range r.joinOrder {
		p := r.players[id]
		if winner == nil || p.Cash > winner.Cash {
			winner = p
		}
	}
	if winner == nil {
		return nil
	}
	r.active = false
	return &models.GameOver{Winner: winner.Name, Reason: "time", Cash: winner.Cash}
}

// UpdateSettings merges a partial update over the current settings and
// reactivates the room. Zero-valued numeric fields keep their previous
// value; WinByMoney is applied verbatim. Persistence and the ticker
// restart belong to the registry.
func (r *Room) UpdateSettings(patch models.SettingsPatch) models.RoomSettings {
	r.mu.Lock()
	defer r.mu.Unlock()

	if patch.TickMs > 0 {
		r.settings.TickMs = patch.TickMs
	}
	if patch.StartMoney > 0 {
		r.settings.StartMoney = patch.StartMoney
	}
	r.settings.WinByMoney = patch.WinByMoney
	if patch.MoneyTarget > 0 {
		r.settings.MoneyTarget = patch.MoneyTarget
	}
	if patch.TimeTargetSec > 0 {
		r.settings.TimeTargetSec = patch.TimeTargetSec
	}
	r.active = true
	return r.settings
}

// Settings returns a copy of the current settings.
func (r *Room) Settings() models.RoomSettings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings
}

// Active reports whether the room is still ticking, i.e. no win
// condition has fired since the last settings update.
func (r *Room) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// PublicState returns the snapshot visible to all participants.
func (r *Room) PublicState() models.PublicState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.publicState()
}

// PlayerState returns a copy of one player's full state.
func (r *Room) PlayerState(playerID string) (models.Player, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[playerID]
	if !ok {
		return models.Player{}, false
	}
	return copyPlayer(p), true
}

// publicState builds the broadcast snapshot. Caller holds r.mu.
func (r *Room) publicState() models.PublicState {
	s := models.PublicState{
		Drugs:   make([]models.Commodity, 0, len(r.order)),
		Players: make([]models.PublicPlayer, 0, len(r.joinOrder)),
	}
	for _, id := range r.order {
		s.Drugs = append(s.Drugs, *r.commodities[id])
	}
	for _, id := range r.joinOrder {
		p := r.players[id]
		s.Players = append(s.Players, models.PublicPlayer{Name: p.Name, Cash: p.Cash})
	}
	return s
}

func copyPlayer(p *models.Player) models.Player {
	cp := *p
	cp.Inventory = make(map[string]int, len(p.Inventory))
	for k, v := range p.Inventory {
		cp.Inventory[k] = v
	}
	return cp
}
