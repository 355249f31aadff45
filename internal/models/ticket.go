package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Ticket is a minted raffle entry. Each USED ticket number is bound to
// exactly one ticket for its lifetime.
type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	TicketID      string    `bun:"ticket_id,pk" json:"ticket_id"`
	Owner         string    `bun:"owner" json:"owner"`
	Tier          Tier      `bun:"tier" json:"tier"`
	Number        string    `bun:"number" json:"number"`
	RoundID       string    `bun:"round_id" json:"round_id"`
	MetadataURL   string    `bun:"metadata_url,nullzero" json:"metadata_url,omitempty"`
	MintTimestamp time.Time `bun:"mint_timestamp" json:"mint_timestamp"`
	IsBurned      bool      `bun:"is_burned" json:"is_burned"`
}
