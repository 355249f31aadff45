package draw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"fortune-wheel/internal/entropy"
	"fortune-wheel/internal/logger"
	"fortune-wheel/internal/models"
)

var (
	// ErrNoActiveRound means no raffle round exists for the round id.
	ErrNoActiveRound = errors.New("no active raffle found")

	// ErrNoTickets means the round has no live tickets to draw from.
	ErrNoTickets = errors.New("no tickets found for this round")

	// ErrDrawCompleted means the round was already drawn; the stored
	// winner is never overwritten.
	ErrDrawCompleted = errors.New("raffle already completed")
)

type Store interface {
	GetRaffle(ctx context.Context, roundID string) (*models.Raffle, error)
	LiveTicketsByRound(ctx context.Context, roundID string) ([]models.Ticket, error)
	CompleteRaffle(ctx context.Context, result models.Raffle) (bool, error)
	RecordWin(ctx context.Context, wallet string, prize float64) error
}

type Entropy interface {
	Request(ctx context.Context, roundID string) (*entropy.Result, error)
}

type Publisher interface {
	PublishRaffleCompleted(raffle models.Raffle) error
}

// Engine runs a round's draw: external entropy -> winning number ->
// weighted winner selection -> at-most-once finalization.
type Engine struct {
	DB       Store
	Entropy  Entropy
	Producer Publisher
	Logger   *logger.Logger
}

func NewEngine(db Store, src Entropy, producer Publisher, log *logger.Logger) *Engine {
	return &Engine{DB: db, Entropy: src, Producer: producer, Logger: log}
}

type Result struct {
	RoundID       string      `json:"round_id"`
	Winner        string      `json:"winner"`
	WinnerTier    models.Tier `json:"winner_tier"`
	WinningNumber string      `json:"winning_number"`
	MatchedNumber bool        `json:"matched_number"`
	PrizeAmount   float64     `json:"prize_amount"`
}

// Run draws the round. Preconditions: the round exists, is not completed
// and has at least one live ticket. If two callers race, the conditional
// completion update lets exactly one through; the loser gets
// ErrDrawCompleted.
func (e *Engine) Run(ctx context.Context, roundID string) (*Result, error) {
	raffle, err := e.DB.GetRaffle(ctx, roundID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoActiveRound
	}
	if err != nil {
		return nil, err
	}
	if raffle.Completed() {
		return nil, ErrDrawCompleted
	}

	tickets, err := e.DB.LiveTicketsByRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, ErrNoTickets
	}

	ent, err := e.Entropy.Request(ctx, roundID)
	if err != nil {
		return nil, fmt.Errorf("request randomness: %w", err)
	}

	winningNumber := WinningNumber(ent.Value)
	winner, matched := SelectWinner(tickets, winningNumber, ent.Value)

	if !matched {
		e.Logger.LogDraw(roundID, fmt.Sprintf("No tickets matched %s, falling back to weighted selection", winningNumber))
	}

	completed := models.Raffle{
		RoundID:             roundID,
		Winner:              winner.Owner,
		WinnerTier:          winner.Tier,
		WinningNumber:       winningNumber,
		MatchedNumber:       matched,
		RandomnessRequestID: ent.RequestID,
		RandomnessValue:     strconv.FormatUint(ent.Value, 10),
		RandomnessProof:     ent.Proof,
		CompletedAt:         time.Now(),
	}
	ok, err := e.DB.CompleteRaffle(ctx, completed)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrDrawCompleted
	}

	if err := e.DB.RecordWin(ctx, winner.Owner, raffle.PrizePool); err != nil {
		return nil, fmt.Errorf("record win: %w", err)
	}

	e.Logger.LogDraw(roundID, fmt.Sprintf("Winner %s (%s) on number %s, prize %.2f SOL",
		winner.Owner, winner.Tier, winningNumber, raffle.PrizePool))

	if e.Producer != nil {
		completed.PrizePool = raffle.PrizePool
		if err := e.Producer.PublishRaffleCompleted(completed); err != nil {
			e.Logger.Warn("KAFKA", fmt.Sprintf("publish raffle completed: %v", err))
		}
	}

	return &Result{
		RoundID:       roundID,
		Winner:        winner.Owner,
		WinnerTier:    winner.Tier,
		WinningNumber: winningNumber,
		MatchedNumber: matched,
		PrizeAmount:   raffle.PrizePool,
	}, nil
}

// WinningNumber derives the 4-digit winning number from the random value.
func WinningNumber(value uint64) string {
	return fmt.Sprintf("%04d", value%10000)
}

// SelectWinner picks the winner deterministically from the ticket set and
// random value. Tickets matching the winning number form a weighted
// multiset (BASIC=1, PREMIUM=3, VIP=5 entries each) indexed by
// value mod size; when nothing matches, the same weighted selection runs
// over all live tickets so every round with a ticket has a winner.
func SelectWinner(tickets []models.Ticket, winningNumber string, value uint64) (models.Ticket, bool) {
	var eligible []models.Ticket
	for _, ticket := range tickets {
		if ticket.Number == winningNumber {
			for i := 0; i < ticket.Tier.Weight(); i++ {
				eligible = append(eligible, ticket)
			}
		}
	}

	matched := len(eligible) > 0
	if !matched {
		for _, ticket := range tickets {
			for i := 0; i < ticket.Tier.Weight(); i++ {
				eligible = append(eligible, ticket)
			}
		}
	}

	return eligible[value%uint64(len(eligible))], matched
}
