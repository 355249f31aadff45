package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"fortune-wheel/internal/models"
)

// DB is the durable-store layer. All cross-request coordination happens
// through single-row conditional updates here; the Redis cache is only an
// accelerator on top of it.
type DB struct {
	Bun *bun.DB
}

// ---------------- TICKET NUMBERS ----------------

func (d *DB) CountTicketNumbers(ctx context.Context) (int, error) {
	return d.Bun.NewSelect().
		Model((*models.TicketNumber)(nil)).
		Count(ctx)
}

func (d *DB) InsertTicketNumbers(ctx context.Context, batch []models.TicketNumber) error {
	if len(batch) == 0 {
		return nil
	}
	_, err := d.Bun.NewInsert().Model(&batch).Exec(ctx)
	return err
}

func (d *DB) GetTicketNumber(ctx context.Context, number string) (*models.TicketNumber, error) {
	var tn models.TicketNumber
	err := d.Bun.NewSelect().
		Model(&tn).
		Where("number = ?", number).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &tn, nil
}

// ReserveTicketNumber transitions one number AVAILABLE -> RESERVED. Returns
// false when the number was not AVAILABLE, which claimers treat as "someone
// else got there first".
func (d *DB) ReserveTicketNumber(ctx context.Context, number string, now, expires time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.TicketNumber)(nil)).
		Set("state = ?", models.NumberReserved).
		Set("reserved_at = ?", now).
		Set("reservation_expires = ?", expires).
		Where("number = ?", number).
		Where("state = ?", models.NumberAvailable).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ClaimTicketNumber is the store-only claim path: pick an AVAILABLE number
// of the tier and reserve it with a conditional update. Contended rows are
// retried a few times before giving up.
func (d *DB) ClaimTicketNumber(ctx context.Context, tier models.Tier, now, expires time.Time) (*models.TicketNumber, error) {
	for attempt := 0; attempt < 5; attempt++ {
		var tn models.TicketNumber
		err := d.Bun.NewSelect().
			Model(&tn).
			Where("tier = ?", tier).
			Where("state = ?", models.NumberAvailable).
			Limit(1).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		ok, err := d.ReserveTicketNumber(ctx, tn.Number, now, expires)
		if err != nil {
			return nil, err
		}
		if ok {
			tn.State = models.NumberReserved
			tn.ReservedAt = now
			tn.ReservationExpires = expires
			return &tn, nil
		}
	}
	return nil, errors.New("claim retries exhausted")
}

// ReleaseTicketNumber transitions RESERVED -> AVAILABLE. USED numbers are
// never touched. Returns whether this call performed the release and the
// number's tier so the cache set can be refilled.
func (d *DB) ReleaseTicketNumber(ctx context.Context, number string) (bool, models.Tier, error) {
	tn, err := d.GetTicketNumber(ctx, number)
	if errors.Is(err, sql.ErrNoRows) {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}

	res, err := d.Bun.NewUpdate().
		Model((*models.TicketNumber)(nil)).
		Set("state = ?", models.NumberAvailable).
		Set("reserved_at = NULL").
		Set("reservation_expires = NULL").
		Where("number = ?", number).
		Where("state = ?", models.NumberReserved).
		Exec(ctx)
	if err != nil {
		return false, "", err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, "", err
	}
	return n == 1, tn.Tier, nil
}

// FinalizeTicketNumber transitions RESERVED -> USED permanently. Returns
// false when the number is not currently reserved (double-mint guard).
func (d *DB) FinalizeTicketNumber(ctx context.Context, number string) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.TicketNumber)(nil)).
		Set("state = ?", models.NumberUsed).
		Set("reserved_at = NULL").
		Set("reservation_expires = NULL").
		Where("number = ?", number).
		Where("state = ?", models.NumberReserved).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (d *DB) ExpiredReservations(ctx context.Context, now time.Time) ([]models.TicketNumber, error) {
	var numbers []models.TicketNumber
	err := d.Bun.NewSelect().
		Model(&numbers).
		Where("state = ?", models.NumberReserved).
		Where("reservation_expires < ?", now).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return numbers, nil
}

func (d *DB) TicketNumberCounts(ctx context.Context) (map[models.Tier]int, error) {
	counts := make(map[models.Tier]int)
	for _, tier := range models.Tiers() {
		n, err := d.Bun.NewSelect().
			Model((*models.TicketNumber)(nil)).
			Where("tier = ?", tier).
			Count(ctx)
		if err != nil {
			return nil, err
		}
		counts[tier] = n
	}
	return counts, nil
}

// ---------------- PAYMENT REQUESTS ----------------

func (d *DB) InsertPaymentRequest(ctx context.Context, req models.PaymentRequest) error {
	_, err := d.Bun.NewInsert().Model(&req).Exec(ctx)
	return err
}

func (d *DB) GetPaymentRequest(ctx context.Context, reference string) (*models.PaymentRequest, error) {
	var req models.PaymentRequest
	err := d.Bun.NewSelect().
		Model(&req).
		Where("reference = ?", reference).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// ConfirmPaymentRequest is the at-most-once pending -> confirmed edge.
func (d *DB) ConfirmPaymentRequest(ctx context.Context, reference, signature string, now time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.PaymentRequest)(nil)).
		Set("status = ?", models.PaymentConfirmed).
		Set("signature = ?", signature).
		Set("confirmed_at = ?", now).
		Where("reference = ?", reference).
		Where("status = ?", models.PaymentPending).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ExpirePaymentRequest is the at-most-once pending -> expired edge. The
// caller that wins this update owns releasing the bound number.
func (d *DB) ExpirePaymentRequest(ctx context.Context, reference string) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.PaymentRequest)(nil)).
		Set("status = ?", models.PaymentExpired).
		Where("reference = ?", reference).
		Where("status = ?", models.PaymentPending).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ConsumeSignature records a transfer signature as spent. Returns false when
// the signature was already consumed by an earlier mint.
func (d *DB) ConsumeSignature(ctx context.Context, payment models.Payment) (bool, error) {
	res, err := d.Bun.NewInsert().
		Model(&payment).
		On("CONFLICT (signature) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ---------------- RAFFLES ----------------

func (d *DB) GetRaffle(ctx context.Context, roundID string) (*models.Raffle, error) {
	var raffle models.Raffle
	err := d.Bun.NewSelect().
		Model(&raffle).
		Where("round_id = ?", roundID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &raffle, nil
}

// CreditPrizePool adds the tier's base amount plus boost% of the pool value
// at purchase time. The read and write run in one transaction so concurrent
// purchases serialize on the round row instead of losing boost updates.
// Creates the round with the base amount when it does not exist yet.
func (d *DB) CreditPrizePool(ctx context.Context, roundID string, base, boost float64, now time.Time) (float64, error) {
	var newPool float64
	err := d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var raffle models.Raffle
		err := tx.NewSelect().
			Model(&raffle).
			Where("round_id = ?", roundID).
			Limit(1).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			raffle = models.Raffle{
				RoundID:   roundID,
				PrizePool: base,
				StartedAt: now,
			}
			if _, err := tx.NewInsert().Model(&raffle).Exec(ctx); err != nil {
				return err
			}
			newPool = base
			return nil
		}
		if err != nil {
			return err
		}

		newPool = raffle.PrizePool + base + raffle.PrizePool*boost
		_, err = tx.NewUpdate().
			Model((*models.Raffle)(nil)).
			Set("prize_pool = ?", newPool).
			Where("round_id = ?", roundID).
			Exec(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	return newPool, nil
}

// CompleteRaffle writes the draw outcome, guarded on completed_at still
// being unset. Returns false when another draw already completed the round.
func (d *DB) CompleteRaffle(ctx context.Context, result models.Raffle) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Raffle)(nil)).
		Set("winner = ?", result.Winner).
		Set("winner_tier = ?", result.WinnerTier).
		Set("winning_number = ?", result.WinningNumber).
		Set("matched_number = ?", result.MatchedNumber).
		Set("randomness_request_id = ?", result.RandomnessRequestID).
		Set("randomness_value = ?", result.RandomnessValue).
		Set("randomness_proof = ?", result.RandomnessProof).
		Set("completed_at = ?", result.CompletedAt).
		Where("round_id = ?", result.RoundID).
		Where("completed_at IS NULL").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (d *DB) LatestCompletedRaffle(ctx context.Context) (*models.Raffle, error) {
	var raffle models.Raffle
	err := d.Bun.NewSelect().
		Model(&raffle).
		Where("completed_at IS NOT NULL").
		Order("completed_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &raffle, nil
}

func (d *DB) RecentWinners(ctx context.Context, limit int) ([]models.Raffle, error) {
	var raffles []models.Raffle
	err := d.Bun.NewSelect().
		Model(&raffles).
		Where("completed_at IS NOT NULL").
		Order("completed_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return raffles, nil
}

// ---------------- TICKETS ----------------

func (d *DB) InsertTicket(ctx context.Context, ticket models.Ticket) error {
	_, err := d.Bun.NewInsert().Model(&ticket).Exec(ctx)
	return err
}

func (d *DB) LiveTicketsByRound(ctx context.Context, roundID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("round_id = ?", roundID).
		Where("is_burned = ?", false).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

func (d *DB) TicketsByOwner(ctx context.Context, owner string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("owner = ?", owner).
		Order("mint_timestamp DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

func (d *DB) TierCountsByRound(ctx context.Context, roundID string) (map[models.Tier]int, error) {
	tickets, err := d.LiveTicketsByRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	counts := make(map[models.Tier]int)
	for _, t := range tickets {
		counts[t.Tier]++
	}
	return counts, nil
}

// ---------------- USERS ----------------

func (d *DB) GetUser(ctx context.Context, wallet string) (*models.User, error) {
	var user models.User
	err := d.Bun.NewSelect().
		Model(&user).
		Where("wallet = ?", wallet).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (d *DB) IncrementTicketsPurchased(ctx context.Context, wallet string, now time.Time) error {
	user, err := d.GetUser(ctx, wallet)
	if errors.Is(err, sql.ErrNoRows) {
		user = &models.User{Wallet: wallet, TicketsPurchased: 1, LastPurchase: now}
		_, err := d.Bun.NewInsert().Model(user).Exec(ctx)
		return err
	}
	if err != nil {
		return err
	}

	_, err = d.Bun.NewUpdate().
		Model((*models.User)(nil)).
		Set("tickets_purchased = tickets_purchased + 1").
		Set("last_purchase = ?", now).
		Where("wallet = ?", wallet).
		Exec(ctx)
	return err
}

func (d *DB) RecordWin(ctx context.Context, wallet string, prize float64) error {
	_, err := d.GetUser(ctx, wallet)
	if errors.Is(err, sql.ErrNoRows) {
		user := &models.User{Wallet: wallet, Wins: 1, TotalWinnings: prize}
		_, err := d.Bun.NewInsert().Model(user).Exec(ctx)
		return err
	}
	if err != nil {
		return err
	}

	_, err = d.Bun.NewUpdate().
		Model((*models.User)(nil)).
		Set("wins = wins + 1").
		Set("total_winnings = total_winnings + ?", prize).
		Where("wallet = ?", wallet).
		Exec(ctx)
	return err
}
