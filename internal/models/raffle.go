package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Raffle is one daily round. The prize pool only grows; completed_at is set
// at most once by the draw.
type Raffle struct {
	bun.BaseModel `bun:"table:raffles"`

	RoundID             string    `bun:"round_id,pk" json:"round_id"`
	PrizePool           float64   `bun:"prize_pool" json:"prize_pool"`
	StartedAt           time.Time `bun:"started_at" json:"started_at"`
	CompletedAt         time.Time `bun:"completed_at,nullzero" json:"completed_at,omitempty"`
	Winner              string    `bun:"winner,nullzero" json:"winner,omitempty"`
	WinnerTier          Tier      `bun:"winner_tier,nullzero" json:"winner_tier,omitempty"`
	WinningNumber       string    `bun:"winning_number,nullzero" json:"winning_number,omitempty"`
	MatchedNumber       bool      `bun:"matched_number" json:"matched_number"`
	RandomnessRequestID string    `bun:"randomness_request_id,nullzero" json:"randomness_request_id,omitempty"`
	RandomnessValue     string    `bun:"randomness_value,nullzero" json:"randomness_value,omitempty"`
	RandomnessProof     string    `bun:"randomness_proof,nullzero" json:"randomness_proof,omitempty"`
}

func (r *Raffle) Completed() bool {
	return !r.CompletedAt.IsZero()
}

// CurrentRoundID derives the round id for a point in time. One round per
// UTC calendar day; a new round begins implicitly when the date rolls over.
func CurrentRoundID(t time.Time) string {
	return "round-" + t.UTC().Format("2006-01-02")
}
