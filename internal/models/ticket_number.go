package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	NumberAvailable = "AVAILABLE"
	NumberReserved  = "RESERVED"
	NumberUsed      = "USED"
)

// TicketNumber is one of the 10,000 four-digit numbers. A number is created
// once at bootstrap and moves AVAILABLE -> RESERVED -> USED; USED is terminal.
type TicketNumber struct {
	bun.BaseModel `bun:"table:ticket_numbers"`

	Number             string    `bun:"number,pk" json:"number"`
	Tier               Tier      `bun:"tier" json:"tier"`
	State              string    `bun:"state" json:"state"`
	ReservedAt         time.Time `bun:"reserved_at,nullzero" json:"reserved_at,omitempty"`
	ReservationExpires time.Time `bun:"reservation_expires,nullzero" json:"reservation_expires,omitempty"`
	CreatedAt          time.Time `bun:"created_at" json:"created_at"`
}
