package mint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fortune-wheel/internal/logger"
	"fortune-wheel/internal/models"
)

var (
	// ErrPaymentNotVerified means no confirmed binding and no fallback
	// verification succeeded; retryable after the transfer confirms.
	ErrPaymentNotVerified = errors.New("payment verification failed")

	// ErrTicketNumberMissing means the purchase has no bound ticket number.
	ErrTicketNumberMissing = errors.New("ticket number not found")
)

type Store interface {
	GetPaymentRequest(ctx context.Context, reference string) (*models.PaymentRequest, error)
	InsertTicket(ctx context.Context, ticket models.Ticket) error
	IncrementTicketsPurchased(ctx context.Context, wallet string, now time.Time) error
	CreditPrizePool(ctx context.Context, roundID string, base, boost float64, now time.Time) (float64, error)
}

type Finalizer interface {
	Finalize(ctx context.Context, number string) error
}

type Verifier interface {
	VerifyWalletPayment(ctx context.Context, wallet string, tier models.Tier) (bool, error)
}

type Publisher interface {
	PublishTicketMinted(ticket models.Ticket) error
}

// Service turns a confirmed payment into a minted ticket: the number is
// permanently retired, the ticket record created, and the round's prize
// pool credited with the tier's base amount plus its boost of the pool
// value at purchase time.
type Service struct {
	DB           Store
	Pool         Finalizer
	Payments     Verifier
	Producer     Publisher
	Logger       *logger.Logger
	MetadataBase string
}

func New(db Store, pool Finalizer, payments Verifier, producer Publisher, log *logger.Logger, metadataBase string) *Service {
	return &Service{
		DB:           db,
		Pool:         pool,
		Payments:     payments,
		Producer:     producer,
		Logger:       log,
		MetadataBase: metadataBase,
	}
}

// Mint settles one purchase. Finalize is the commit point: its conditional
// RESERVED -> USED update doubles as the mutual-exclusion guard, so two
// mints for the same number cannot both proceed. The number is never
// released after a post-finalize failure (USED never resurrects).
func (s *Service) Mint(ctx context.Context, wallet string, tier models.Tier, reference string) (*models.Ticket, error) {
	verified := false
	number := ""

	req, err := s.DB.GetPaymentRequest(ctx, reference)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if req != nil && req.Status == models.PaymentConfirmed {
		verified = true
		number = req.TicketNumber
	} else {
		verified, err = s.Payments.VerifyWalletPayment(ctx, wallet, tier)
		if err != nil {
			return nil, err
		}
	}

	if !verified {
		return nil, ErrPaymentNotVerified
	}
	if number == "" {
		return nil, ErrTicketNumberMissing
	}

	if err := s.Pool.Finalize(ctx, number); err != nil {
		return nil, err
	}

	now := time.Now()
	roundID := models.CurrentRoundID(now)
	ticket := models.Ticket{
		TicketID:      uuid.NewString(),
		Owner:         wallet,
		Tier:          tier,
		Number:        number,
		RoundID:       roundID,
		MetadataURL:   s.metadataURL(number),
		MintTimestamp: now,
		IsBurned:      false,
	}

	if err := s.DB.InsertTicket(ctx, ticket); err != nil {
		return nil, fmt.Errorf("create ticket for used number %s: %w", number, err)
	}

	if err := s.DB.IncrementTicketsPurchased(ctx, wallet, now); err != nil {
		return nil, err
	}

	newPool, err := s.DB.CreditPrizePool(ctx, roundID, tier.Price(), tier.Boost(), now)
	if err != nil {
		return nil, err
	}

	s.Logger.LogPool("MINT", number, fmt.Sprintf("%s ticket %s for %s, pool now %.2f SOL", tier, ticket.TicketID, wallet, newPool))

	if s.Producer != nil {
		if err := s.Producer.PublishTicketMinted(ticket); err != nil {
			s.Logger.Warn("KAFKA", fmt.Sprintf("publish ticket minted: %v", err))
		}
	}

	return &ticket, nil
}

func (s *Service) metadataURL(number string) string {
	if s.MetadataBase == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s.json", s.MetadataBase, number)
}
