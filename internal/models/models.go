package models

import "time"

// Commodity is a tradeable good with a bounded, randomly walking price.
type Commodity struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// CatalogEntry is a commodity as stored in the persistent catalog.
// Base price is the price a room starts at; the live price then walks
// between min and max.
type CatalogEntry struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	MinPrice  float64 `json:"min_price"`
	MaxPrice  float64 `json:"max_price"`
	BasePrice float64 `json:"base_price"`
}

// Player is one connected participant in a room. Players are created on
// join and dropped on disconnect; they are never persisted.
type Player struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Cash      float64        `json:"cash"`
	Inventory map[string]int `json:"inventory"`
}

// RoomSettings configures one room's simulation.
type RoomSettings struct {
	TickMs        int     `json:"tickMs"`
	StartMoney    float64 `json:"startMoney"`
	WinByMoney    bool    `json:"winByMoney"`
	MoneyTarget   float64 `json:"moneyTarget"`
	TimeTargetSec int     `json:"timeTargetSec"`
}

// SettingsPatch is a partial settings update. Numeric zero values mean
// "keep the previous value"; WinByMoney is always taken verbatim. This
// mirrors the historical merge behavior, so a deliberate tickMs of 0
// cannot be set.
type SettingsPatch struct {
	TickMs        int     `json:"tickMs"`
	StartMoney    float64 `json:"startMoney"`
	WinByMoney    bool    `json:"winByMoney"`
	MoneyTarget   float64 `json:"moneyTarget"`
	TimeTargetSec int     `json:"timeTargetSec"`
}

// PublicPlayer is the subset of player state visible to the whole room.
// Inventories stay private.
type PublicPlayer struct {
	Name string  `json:"name"`
	Cash float64 `json:"cash"`
}

// PublicState is the room snapshot broadcast to every participant.
// The commodity list keeps its historical wire name "drugs" so existing
// clients keep working.
type PublicState struct {
	Drugs   []Commodity    `json:"drugs"`
	Players []PublicPlayer `json:"players"`
}

// GameOver announces a finished round.
type GameOver struct {
	Winner string  `json:"winner"`
	Reason string  `json:"reason"` // "money" or "time"
	Cash   float64 `json:"cash"`
}

// HighscoreEntry is one append-only row in the highscore log.
type HighscoreEntry struct {
	PlayerName string    `json:"player_name"`
	Cash       float64   `json:"cash"`
	Timestamp  time.Time `json:"timestamp"`
}
