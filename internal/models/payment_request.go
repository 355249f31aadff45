package models

import (
	"time"

	"github.com/uptrace/bun"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentConfirmed PaymentStatus = "confirmed"
	PaymentExpired   PaymentStatus = "expired"
)

// PaymentRequest binds a reserved ticket number to a Solana Pay reference.
// It moves pending -> confirmed or pending -> expired exactly once.
type PaymentRequest struct {
	bun.BaseModel `bun:"table:payment_requests"`

	Reference     string        `bun:"reference,pk" json:"reference"`
	Tier          Tier          `bun:"tier" json:"tier"`
	Amount        float64       `bun:"amount" json:"amount"`
	WalletAddress string        `bun:"wallet_address" json:"wallet_address"`
	TicketNumber  string        `bun:"ticket_number" json:"ticket_number"`
	Status        PaymentStatus `bun:"status" json:"status"`
	PayURL        string        `bun:"pay_url" json:"pay_url"`
	CreatedAt     time.Time     `bun:"created_at" json:"created_at"`
	ExpiresAt     time.Time     `bun:"expires_at" json:"expires_at"`
	ConfirmedAt   time.Time     `bun:"confirmed_at,nullzero" json:"confirmed_at,omitempty"`
	Signature     string        `bun:"signature,nullzero" json:"signature,omitempty"`
}

// Payment records an on-chain transfer signature consumed by the fallback
// verification path. The signature is the primary key so one transfer can
// never satisfy two mints.
type Payment struct {
	bun.BaseModel `bun:"table:payments"`

	Signature string    `bun:"signature,pk" json:"signature"`
	Account   string    `bun:"account" json:"account"`
	Tier      Tier      `bun:"tier" json:"tier"`
	Amount    float64   `bun:"amount" json:"amount"`
	Status    string    `bun:"status" json:"status"`
	Timestamp time.Time `bun:"timestamp" json:"timestamp"`
}
