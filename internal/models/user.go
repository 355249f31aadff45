package models

import (
	"time"

	"github.com/uptrace/bun"
)

// User aggregates are additive only: settlement bumps the purchase count,
// the draw bumps wins and winnings.
type User struct {
	bun.BaseModel `bun:"table:users"`

	Wallet           string    `bun:"wallet,pk" json:"wallet"`
	TicketsPurchased int       `bun:"tickets_purchased" json:"tickets_purchased"`
	Wins             int       `bun:"wins" json:"wins"`
	TotalWinnings    float64   `bun:"total_winnings" json:"total_winnings"`
	LastPurchase     time.Time `bun:"last_purchase,nullzero" json:"last_purchase,omitempty"`
}
