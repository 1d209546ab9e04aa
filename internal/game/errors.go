package game

import "errors"

// Trade errors are expected, user-facing outcomes. They short-circuit a
// single operation, leave room state untouched and are reported back to
// the acting client only.
var (
	ErrInvalidQuantity       = errors.New("invalid quantity")
	ErrUnknownPlayer         = errors.New("unknown player")
	ErrUnknownCommodity      = errors.New("unknown commodity")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientInventory = errors.New("insufficient inventory")
)

// UserMessage maps a trade error to the message shown to the client.
// The strings match the historical client verbatim.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidQuantity):
		return "Ungültige Menge."
	case errors.Is(err, ErrUnknownPlayer):
		return "Nicht verbunden."
	case errors.Is(err, ErrUnknownCommodity):
		return "Unbekannte Ware."
	case errors.Is(err, ErrInsufficientFunds):
		return "Nicht genug Geld."
	case errors.Is(err, ErrInsufficientInventory):
		return "Nicht genug Inventar."
	default:
		return "Aktion fehlgeschlagen."
	}
}
