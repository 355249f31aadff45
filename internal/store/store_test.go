package store_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"fortune-wheel/internal/models"
	"fortune-wheel/internal/store"
)

func setupTestDB(t *testing.T) *store.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("Failed to open sqlite: %v", err)
	}

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())

	ctx := context.Background()
	for _, model := range []interface{}{
		(*models.TicketNumber)(nil),
		(*models.PaymentRequest)(nil),
		(*models.Payment)(nil),
		(*models.Raffle)(nil),
		(*models.Ticket)(nil),
		(*models.User)(nil),
	} {
		if err := bunDB.ResetModel(ctx, model); err != nil {
			t.Fatalf("Failed to reset model: %v", err)
		}
	}

	return &store.DB{Bun: bunDB}
}

func insertNumber(t *testing.T, db *store.DB, number string, tier models.Tier, state string) {
	t.Helper()
	err := db.InsertTicketNumbers(context.Background(), []models.TicketNumber{{
		Number:    number,
		Tier:      tier,
		State:     state,
		CreatedAt: time.Now(),
	}})
	if err != nil {
		t.Fatalf("Failed to insert ticket number: %v", err)
	}
}

func TestReserveTicketNumberIsConditional(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	insertNumber(t, db, "0042", models.TierBasic, models.NumberAvailable)

	now := time.Now()
	expires := now.Add(15 * time.Minute)

	ok, err := db.ReserveTicketNumber(ctx, "0042", now, expires)
	if err != nil {
		t.Fatalf("Failed to reserve: %v", err)
	}
	if !ok {
		t.Fatal("Expected first reservation to succeed")
	}

	// A second reservation of the same number must lose.
	ok, err = db.ReserveTicketNumber(ctx, "0042", now, expires)
	if err != nil {
		t.Fatalf("Failed on second reserve: %v", err)
	}
	if ok {
		t.Error("Expected second reservation of a RESERVED number to fail")
	}
}

func TestReleaseNeverResurrectsUsed(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	insertNumber(t, db, "0042", models.TierBasic, models.NumberAvailable)

	now := time.Now()
	if _, err := db.ReserveTicketNumber(ctx, "0042", now, now.Add(time.Minute)); err != nil {
		t.Fatalf("Failed to reserve: %v", err)
	}
	ok, err := db.FinalizeTicketNumber(ctx, "0042")
	if err != nil || !ok {
		t.Fatalf("Failed to finalize: ok=%v err=%v", ok, err)
	}

	released, _, err := db.ReleaseTicketNumber(ctx, "0042")
	if err != nil {
		t.Fatalf("Failed to release: %v", err)
	}
	if released {
		t.Error("Expected release of a USED number to be a no-op")
	}

	tn, err := db.GetTicketNumber(ctx, "0042")
	if err != nil {
		t.Fatalf("Failed to get number: %v", err)
	}
	if tn.State != models.NumberUsed {
		t.Errorf("Expected state USED, got %s", tn.State)
	}
}

func TestFinalizeRequiresReserved(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	insertNumber(t, db, "0042", models.TierBasic, models.NumberAvailable)

	ok, err := db.FinalizeTicketNumber(ctx, "0042")
	if err != nil {
		t.Fatalf("Failed to finalize: %v", err)
	}
	if ok {
		t.Error("Expected finalize of an AVAILABLE number to fail")
	}
}

func TestExpiredReservations(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	insertNumber(t, db, "0001", models.TierBasic, models.NumberAvailable)
	insertNumber(t, db, "0002", models.TierBasic, models.NumberAvailable)

	now := time.Now()
	if _, err := db.ReserveTicketNumber(ctx, "0001", now.Add(-20*time.Minute), now.Add(-5*time.Minute)); err != nil {
		t.Fatalf("Failed to reserve: %v", err)
	}
	if _, err := db.ReserveTicketNumber(ctx, "0002", now, now.Add(15*time.Minute)); err != nil {
		t.Fatalf("Failed to reserve: %v", err)
	}

	lapsed, err := db.ExpiredReservations(ctx, now)
	if err != nil {
		t.Fatalf("Failed to list expired reservations: %v", err)
	}
	if len(lapsed) != 1 {
		t.Fatalf("Expected 1 expired reservation, got %d", len(lapsed))
	}
	if lapsed[0].Number != "0001" {
		t.Errorf("Expected number 0001, got %s", lapsed[0].Number)
	}
}

func TestConfirmPaymentRequestOnce(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	err := db.InsertPaymentRequest(ctx, models.PaymentRequest{
		Reference:     "ref-1",
		Tier:          models.TierBasic,
		Amount:        0.5,
		WalletAddress: "wallet-1",
		TicketNumber:  "0042",
		Status:        models.PaymentPending,
		PayURL:        "solana:recipient",
		CreatedAt:     now,
		ExpiresAt:     now.Add(15 * time.Minute),
	})
	if err != nil {
		t.Fatalf("Failed to insert payment request: %v", err)
	}

	ok, err := db.ConfirmPaymentRequest(ctx, "ref-1", "sig-1", now)
	if err != nil || !ok {
		t.Fatalf("Expected first confirm to succeed: ok=%v err=%v", ok, err)
	}

	ok, err = db.ConfirmPaymentRequest(ctx, "ref-1", "sig-2", now)
	if err != nil {
		t.Fatalf("Failed on second confirm: %v", err)
	}
	if ok {
		t.Error("Expected second confirm to lose")
	}

	req, err := db.GetPaymentRequest(ctx, "ref-1")
	if err != nil {
		t.Fatalf("Failed to get payment request: %v", err)
	}
	if req.Signature != "sig-1" {
		t.Errorf("Expected signature sig-1 to stick, got %s", req.Signature)
	}
}

func TestExpirePaymentRequestOnce(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	err := db.InsertPaymentRequest(ctx, models.PaymentRequest{
		Reference:    "ref-1",
		Tier:         models.TierBasic,
		Amount:       0.5,
		TicketNumber: "0042",
		Status:       models.PaymentPending,
		PayURL:       "solana:recipient",
		CreatedAt:    now,
		ExpiresAt:    now,
	})
	if err != nil {
		t.Fatalf("Failed to insert payment request: %v", err)
	}

	ok, err := db.ExpirePaymentRequest(ctx, "ref-1")
	if err != nil || !ok {
		t.Fatalf("Expected first expire to succeed: ok=%v err=%v", ok, err)
	}
	ok, err = db.ExpirePaymentRequest(ctx, "ref-1")
	if err != nil {
		t.Fatalf("Failed on second expire: %v", err)
	}
	if ok {
		t.Error("Expected second expire to lose")
	}
}

func TestExpireDoesNotOverwriteConfirmed(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	err := db.InsertPaymentRequest(ctx, models.PaymentRequest{
		Reference:    "ref-1",
		Tier:         models.TierBasic,
		Amount:       0.5,
		TicketNumber: "0042",
		Status:       models.PaymentPending,
		PayURL:       "solana:recipient",
		CreatedAt:    now,
		ExpiresAt:    now.Add(15 * time.Minute),
	})
	if err != nil {
		t.Fatalf("Failed to insert payment request: %v", err)
	}

	if _, err := db.ConfirmPaymentRequest(ctx, "ref-1", "sig-1", now); err != nil {
		t.Fatalf("Failed to confirm: %v", err)
	}
	ok, err := db.ExpirePaymentRequest(ctx, "ref-1")
	if err != nil {
		t.Fatalf("Failed to expire: %v", err)
	}
	if ok {
		t.Error("Expected expire of a confirmed request to fail")
	}
}

func TestConsumeSignatureDeduplicates(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	payment := models.Payment{
		Signature: "sig-1",
		Account:   "wallet-1",
		Tier:      models.TierBasic,
		Amount:    0.5,
		Status:    "used",
		Timestamp: time.Now(),
	}

	ok, err := db.ConsumeSignature(ctx, payment)
	if err != nil || !ok {
		t.Fatalf("Expected first consume to succeed: ok=%v err=%v", ok, err)
	}
	ok, err = db.ConsumeSignature(ctx, payment)
	if err != nil {
		t.Fatalf("Failed on second consume: %v", err)
	}
	if ok {
		t.Error("Expected already-consumed signature to be rejected")
	}
}

func TestCreditPrizePoolCreatesRound(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	pool, err := db.CreditPrizePool(ctx, "round-2026-08-30", 0.5, 0, now)
	if err != nil {
		t.Fatalf("Failed to credit prize pool: %v", err)
	}
	if pool != 0.5 {
		t.Errorf("Expected pool 0.5, got %f", pool)
	}
}

func TestCreditPrizePoolAppliesBoost(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	if _, err := db.CreditPrizePool(ctx, "round-2026-08-30", 10, 0, now); err != nil {
		t.Fatalf("Failed to seed pool: %v", err)
	}

	// VIP purchase: 10 + 3 base + 25% of 10 boost = 15.5
	pool, err := db.CreditPrizePool(ctx, "round-2026-08-30", 3, 0.25, now)
	if err != nil {
		t.Fatalf("Failed to credit prize pool: %v", err)
	}
	if pool != 15.5 {
		t.Errorf("Expected pool 15.5, got %f", pool)
	}
}

func TestCompleteRaffleOnce(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	if _, err := db.CreditPrizePool(ctx, "round-2026-08-30", 0.5, 0, now); err != nil {
		t.Fatalf("Failed to create round: %v", err)
	}

	result := models.Raffle{
		RoundID:       "round-2026-08-30",
		Winner:        "wallet-1",
		WinnerTier:    models.TierBasic,
		WinningNumber: "0042",
		MatchedNumber: true,
		CompletedAt:   now,
	}
	ok, err := db.CompleteRaffle(ctx, result)
	if err != nil || !ok {
		t.Fatalf("Expected first completion to succeed: ok=%v err=%v", ok, err)
	}

	result.Winner = "wallet-2"
	ok, err = db.CompleteRaffle(ctx, result)
	if err != nil {
		t.Fatalf("Failed on second completion: %v", err)
	}
	if ok {
		t.Error("Expected second completion to lose")
	}

	raffle, err := db.GetRaffle(ctx, "round-2026-08-30")
	if err != nil {
		t.Fatalf("Failed to get raffle: %v", err)
	}
	if raffle.Winner != "wallet-1" {
		t.Errorf("Expected winner wallet-1 to stick, got %s", raffle.Winner)
	}
}

func TestIncrementTicketsPurchased(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	if err := db.IncrementTicketsPurchased(ctx, "wallet-1", now); err != nil {
		t.Fatalf("Failed to increment: %v", err)
	}
	if err := db.IncrementTicketsPurchased(ctx, "wallet-1", now); err != nil {
		t.Fatalf("Failed to increment again: %v", err)
	}

	user, err := db.GetUser(ctx, "wallet-1")
	if err != nil {
		t.Fatalf("Failed to get user: %v", err)
	}
	if user.TicketsPurchased != 2 {
		t.Errorf("Expected 2 tickets purchased, got %d", user.TicketsPurchased)
	}
}

func TestRecordWin(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.RecordWin(ctx, "wallet-1", 12.5); err != nil {
		t.Fatalf("Failed to record win: %v", err)
	}
	if err := db.RecordWin(ctx, "wallet-1", 2.5); err != nil {
		t.Fatalf("Failed to record second win: %v", err)
	}

	user, err := db.GetUser(ctx, "wallet-1")
	if err != nil {
		t.Fatalf("Failed to get user: %v", err)
	}
	if user.Wins != 2 {
		t.Errorf("Expected 2 wins, got %d", user.Wins)
	}
	if user.TotalWinnings != 15.0 {
		t.Errorf("Expected total winnings 15.0, got %f", user.TotalWinnings)
	}
}
