package payment_test

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"fortune-wheel/internal/cache"
	"fortune-wheel/internal/logger"
	"fortune-wheel/internal/models"
	"fortune-wheel/internal/numberpool"
	"fortune-wheel/internal/payment"
	"fortune-wheel/internal/reservation"
	"fortune-wheel/internal/solana"
	"fortune-wheel/internal/store"
)

// fakeRail stands in for the Solana Pay rail. Transfer lookups answer from
// the configured maps; the call count verifies caching behavior.
type fakeRail struct {
	transfers  map[string]string // reference -> signature
	candidates []solana.PaymentCandidate
	findCalls  int
}

func (f *fakeRail) CreateTransferRequest(amount float64, reference, label, message string) (*solana.TransferRequest, error) {
	return &solana.TransferRequest{
		URL:    "solana:recipient?reference=" + reference,
		QRCode: []byte("qr"),
	}, nil
}

func (f *fakeRail) FindAndValidateTransfer(ctx context.Context, reference string, expectedAmount float64) (string, error) {
	f.findCalls++
	sig, ok := f.transfers[reference]
	if !ok {
		return "", solana.ErrTransferNotFound
	}
	return sig, nil
}

func (f *fakeRail) RecentPayments(ctx context.Context, wallet string, expectedAmount float64, limit int) ([]solana.PaymentCandidate, error) {
	return f.candidates, nil
}

func setupService(t *testing.T, rail *fakeRail, expiry time.Duration) (*payment.Service, *store.DB) {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)
	bunDB := bun.NewDB(sqldb, sqlitedialect.New())

	ctx := context.Background()
	for _, model := range []interface{}{
		(*models.TicketNumber)(nil),
		(*models.PaymentRequest)(nil),
		(*models.Payment)(nil),
	} {
		require.NoError(t, bunDB.ResetModel(ctx, model))
	}

	db := &store.DB{Bun: bunDB}
	log := logger.NewLogger()
	t.Cleanup(log.Close)

	pool := numberpool.New(db, cache.New(nil, log), log, expiry)
	reservations := reservation.New(pool, db, log)
	return payment.New(db, rail, reservations, log, expiry, "Fortune Wheel"), db
}

func reserveNumber(t *testing.T, db *store.DB, number string, tier models.Tier) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, db.InsertTicketNumbers(ctx, []models.TicketNumber{{
		Number:    number,
		Tier:      tier,
		State:     models.NumberAvailable,
		CreatedAt: time.Now(),
	}}))
	ok, err := db.ReserveTicketNumber(ctx, number, time.Now(), time.Now().Add(15*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCreateBinding(t *testing.T) {
	rail := &fakeRail{}
	svc, db := setupService(t, rail, 15*time.Minute)
	reserveNumber(t, db, "0042", models.TierPremium)
	ctx := context.Background()

	req, transfer, err := svc.CreateBinding(ctx, "0042", models.TierPremium, "wallet-1")
	require.NoError(t, err)

	assert.Equal(t, models.PaymentPending, req.Status)
	assert.Equal(t, 1.5, req.Amount)
	assert.Equal(t, "0042", req.TicketNumber)
	assert.True(t, strings.HasPrefix(transfer.URL, "solana:"))
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), req.ExpiresAt, 5*time.Second)

	stored, err := db.GetPaymentRequest(ctx, req.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, stored.Status)
}

func TestCheckStatusPending(t *testing.T) {
	rail := &fakeRail{transfers: map[string]string{}}
	svc, db := setupService(t, rail, 15*time.Minute)
	reserveNumber(t, db, "0042", models.TierBasic)

	req, _, err := svc.CreateBinding(context.Background(), "0042", models.TierBasic, "wallet-1")
	require.NoError(t, err)

	status, err := svc.CheckStatus(context.Background(), req.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, status.Status)
}

func TestCheckStatusConfirms(t *testing.T) {
	rail := &fakeRail{transfers: map[string]string{}}
	svc, db := setupService(t, rail, 15*time.Minute)
	reserveNumber(t, db, "0042", models.TierBasic)
	ctx := context.Background()

	req, _, err := svc.CreateBinding(ctx, "0042", models.TierBasic, "wallet-1")
	require.NoError(t, err)
	rail.transfers[req.Reference] = "sig-1"

	status, err := svc.CheckStatus(ctx, req.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentConfirmed, status.Status)
	assert.Equal(t, "sig-1", status.Signature)
	assert.Equal(t, "0042", status.TicketNumber)

	// Confirmed is terminal: re-checks read the stored state without
	// hitting the rail again.
	calls := rail.findCalls
	status, err = svc.CheckStatus(ctx, req.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentConfirmed, status.Status)
	assert.Equal(t, "sig-1", status.Signature)
	assert.Equal(t, calls, rail.findCalls)

	// The number stays RESERVED for settlement.
	tn, err := db.GetTicketNumber(ctx, "0042")
	require.NoError(t, err)
	assert.Equal(t, models.NumberReserved, tn.State)
}

func TestCheckStatusExpiresAndReleasesOnce(t *testing.T) {
	rail := &fakeRail{transfers: map[string]string{}}
	svc, db := setupService(t, rail, -time.Minute)
	reserveNumber(t, db, "0042", models.TierBasic)
	ctx := context.Background()

	req, _, err := svc.CreateBinding(ctx, "0042", models.TierBasic, "wallet-1")
	require.NoError(t, err)

	status, err := svc.CheckStatus(ctx, req.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentExpired, status.Status)

	tn, err := db.GetTicketNumber(ctx, "0042")
	require.NoError(t, err)
	assert.Equal(t, models.NumberAvailable, tn.State, "expiry releases the bound number")

	// Re-checking an expired request never touches the number again.
	ok, err := db.ReserveTicketNumber(ctx, "0042", time.Now(), time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	status, err = svc.CheckStatus(ctx, req.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentExpired, status.Status)

	tn, err = db.GetTicketNumber(ctx, "0042")
	require.NoError(t, err)
	assert.Equal(t, models.NumberReserved, tn.State)
}

func TestCheckStatusUnknownReference(t *testing.T) {
	rail := &fakeRail{}
	svc, _ := setupService(t, rail, 15*time.Minute)

	_, err := svc.CheckStatus(context.Background(), "no-such-reference")
	assert.ErrorIs(t, err, payment.ErrRequestNotFound)
}

func TestVerifyWalletPaymentConsumesEachSignatureOnce(t *testing.T) {
	rail := &fakeRail{candidates: []solana.PaymentCandidate{
		{Signature: "sig-1", Amount: 0.5},
		{Signature: "sig-2", Amount: 0.5},
	}}
	svc, _ := setupService(t, rail, 15*time.Minute)
	ctx := context.Background()

	verified, err := svc.VerifyWalletPayment(ctx, "wallet-1", models.TierBasic)
	require.NoError(t, err)
	assert.True(t, verified)

	verified, err = svc.VerifyWalletPayment(ctx, "wallet-1", models.TierBasic)
	require.NoError(t, err)
	assert.True(t, verified, "second transfer covers the second mint")

	verified, err = svc.VerifyWalletPayment(ctx, "wallet-1", models.TierBasic)
	require.NoError(t, err)
	assert.False(t, verified, "both signatures already consumed")
}
