package mint_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"fortune-wheel/internal/cache"
	"fortune-wheel/internal/logger"
	"fortune-wheel/internal/mint"
	"fortune-wheel/internal/models"
	"fortune-wheel/internal/numberpool"
	"fortune-wheel/internal/store"
)

// fakeVerifier answers the fallback verification path.
type fakeVerifier struct {
	verified bool
}

func (f *fakeVerifier) VerifyWalletPayment(ctx context.Context, wallet string, tier models.Tier) (bool, error) {
	return f.verified, nil
}

type capturingPublisher struct {
	minted []models.Ticket
}

func (c *capturingPublisher) PublishTicketMinted(ticket models.Ticket) error {
	c.minted = append(c.minted, ticket)
	return nil
}

func setupMint(t *testing.T, verifier *fakeVerifier, publisher *capturingPublisher) (*mint.Service, *store.DB) {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)
	bunDB := bun.NewDB(sqldb, sqlitedialect.New())

	ctx := context.Background()
	for _, model := range []interface{}{
		(*models.TicketNumber)(nil),
		(*models.PaymentRequest)(nil),
		(*models.Raffle)(nil),
		(*models.Ticket)(nil),
		(*models.User)(nil),
	} {
		require.NoError(t, bunDB.ResetModel(ctx, model))
	}

	db := &store.DB{Bun: bunDB}
	log := logger.NewLogger()
	t.Cleanup(log.Close)

	pool := numberpool.New(db, cache.New(nil, log), log, 15*time.Minute)

	var pub mint.Publisher
	if publisher != nil {
		pub = publisher
	}
	return mint.New(db, pool, verifier, pub, log, "https://meta.example.com/tickets"), db
}

func seedConfirmedRequest(t *testing.T, db *store.DB, reference, number string, tier models.Tier, wallet string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, db.InsertTicketNumbers(ctx, []models.TicketNumber{{
		Number:    number,
		Tier:      tier,
		State:     models.NumberAvailable,
		CreatedAt: now,
	}}))
	ok, err := db.ReserveTicketNumber(ctx, number, now, now.Add(15*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, db.InsertPaymentRequest(ctx, models.PaymentRequest{
		Reference:     reference,
		Tier:          tier,
		Amount:        tier.Price(),
		WalletAddress: wallet,
		TicketNumber:  number,
		Status:        models.PaymentPending,
		PayURL:        "solana:recipient",
		CreatedAt:     now,
		ExpiresAt:     now.Add(15 * time.Minute),
	}))
	ok, err = db.ConfirmPaymentRequest(ctx, reference, "sig-"+reference, now)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMintSettlesConfirmedPurchase(t *testing.T) {
	publisher := &capturingPublisher{}
	svc, db := setupMint(t, &fakeVerifier{}, publisher)
	seedConfirmedRequest(t, db, "ref-1", "0042", models.TierBasic, "wallet-1")
	ctx := context.Background()

	ticket, err := svc.Mint(ctx, "wallet-1", models.TierBasic, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, "0042", ticket.Number)
	assert.Equal(t, "wallet-1", ticket.Owner)
	assert.Equal(t, models.CurrentRoundID(time.Now()), ticket.RoundID)
	assert.Equal(t, "https://meta.example.com/tickets/0042.json", ticket.MetadataURL)

	tn, err := db.GetTicketNumber(ctx, "0042")
	require.NoError(t, err)
	assert.Equal(t, models.NumberUsed, tn.State)

	raffle, err := db.GetRaffle(ctx, ticket.RoundID)
	require.NoError(t, err)
	assert.Equal(t, 0.5, raffle.PrizePool)

	user, err := db.GetUser(ctx, "wallet-1")
	require.NoError(t, err)
	assert.Equal(t, 1, user.TicketsPurchased)

	require.Len(t, publisher.minted, 1)
	assert.Equal(t, ticket.TicketID, publisher.minted[0].TicketID)
}

func TestMintAppliesVIPBoost(t *testing.T) {
	svc, db := setupMint(t, &fakeVerifier{}, nil)
	ctx := context.Background()
	roundID := models.CurrentRoundID(time.Now())

	_, err := db.CreditPrizePool(ctx, roundID, 10, 0, time.Now())
	require.NoError(t, err)

	seedConfirmedRequest(t, db, "ref-1", "0020", models.TierVIP, "wallet-1")
	_, err = svc.Mint(ctx, "wallet-1", models.TierVIP, "ref-1")
	require.NoError(t, err)

	raffle, err := db.GetRaffle(ctx, roundID)
	require.NoError(t, err)
	// 10 + 3 base + 25% of 10 = 15.5
	assert.Equal(t, 15.5, raffle.PrizePool)
}

func TestMintRejectsDoubleSettlement(t *testing.T) {
	svc, db := setupMint(t, &fakeVerifier{}, nil)
	seedConfirmedRequest(t, db, "ref-1", "0042", models.TierBasic, "wallet-1")
	ctx := context.Background()

	_, err := svc.Mint(ctx, "wallet-1", models.TierBasic, "ref-1")
	require.NoError(t, err)

	_, err = svc.Mint(ctx, "wallet-1", models.TierBasic, "ref-1")
	assert.ErrorIs(t, err, numberpool.ErrNotReserved)
}

func TestMintWithoutPayment(t *testing.T) {
	svc, _ := setupMint(t, &fakeVerifier{verified: false}, nil)

	_, err := svc.Mint(context.Background(), "wallet-1", models.TierBasic, "no-such-ref")
	assert.ErrorIs(t, err, mint.ErrPaymentNotVerified)
}

func TestMintFallbackNeedsBoundNumber(t *testing.T) {
	// The fallback path verifies the wallet paid, but no reservation ever
	// bound a number to the purchase.
	svc, _ := setupMint(t, &fakeVerifier{verified: true}, nil)

	_, err := svc.Mint(context.Background(), "wallet-1", models.TierBasic, "no-such-ref")
	assert.ErrorIs(t, err, mint.ErrTicketNumberMissing)
}
