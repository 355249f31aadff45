package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fortune-wheel/internal/logger"
	"fortune-wheel/internal/models"
	"fortune-wheel/internal/solana"
)

// ErrRequestNotFound means no payment request exists for the reference.
var ErrRequestNotFound = errors.New("payment request not found")

type Store interface {
	InsertPaymentRequest(ctx context.Context, req models.PaymentRequest) error
	GetPaymentRequest(ctx context.Context, reference string) (*models.PaymentRequest, error)
	ConfirmPaymentRequest(ctx context.Context, reference, signature string, now time.Time) (bool, error)
	ExpirePaymentRequest(ctx context.Context, reference string) (bool, error)
	ConsumeSignature(ctx context.Context, payment models.Payment) (bool, error)
}

// Rail is the narrow payment-rail contract: build a transfer request, and
// answer "has this reference been paid the expected amount yet?".
type Rail interface {
	CreateTransferRequest(amount float64, reference, label, message string) (*solana.TransferRequest, error)
	FindAndValidateTransfer(ctx context.Context, reference string, expectedAmount float64) (string, error)
	RecentPayments(ctx context.Context, wallet string, expectedAmount float64, limit int) ([]solana.PaymentCandidate, error)
}

// Releaser releases a reserved number when its payment window lapses.
type Releaser interface {
	Release(ctx context.Context, number string) error
}

// Service binds reservations to payment references and polls the rail for
// confirmation.
type Service struct {
	DB           Store
	Rail         Rail
	Reservations Releaser
	Logger       *logger.Logger
	Expiry       time.Duration
	Label        string
}

func New(db Store, rail Rail, reservations Releaser, log *logger.Logger, expiry time.Duration, label string) *Service {
	return &Service{
		DB:           db,
		Rail:         rail,
		Reservations: reservations,
		Logger:       log,
		Expiry:       expiry,
		Label:        label,
	}
}

// CreateBinding generates a unique reference for the reserved number,
// persists a pending request with a fixed expiry window and returns the
// transfer-request data for the payment UI.
func (s *Service) CreateBinding(ctx context.Context, number string, tier models.Tier, wallet string) (*models.PaymentRequest, *solana.TransferRequest, error) {
	reference := uuid.NewString()
	amount := tier.Price()
	now := time.Now()

	transfer, err := s.Rail.CreateTransferRequest(
		amount,
		reference,
		fmt.Sprintf("%s - %s Ticket #%s", s.Label, tier, number),
		fmt.Sprintf("Purchase a %s NFT lottery ticket with number %s", tier, number),
	)
	if err != nil {
		return nil, nil, err
	}

	req := models.PaymentRequest{
		Reference:     reference,
		Tier:          tier,
		Amount:        amount,
		WalletAddress: wallet,
		TicketNumber:  number,
		Status:        models.PaymentPending,
		PayURL:        transfer.URL,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.Expiry),
	}
	if err := s.DB.InsertPaymentRequest(ctx, req); err != nil {
		return nil, nil, err
	}

	s.Logger.LogPayment("CREATE", reference, fmt.Sprintf("%s ticket %s for %.2f SOL", tier, number, amount))
	return &req, transfer, nil
}

type Status struct {
	Status       models.PaymentStatus `json:"status"`
	Signature    string               `json:"signature,omitempty"`
	TicketNumber string               `json:"ticket_number,omitempty"`
	Tier         models.Tier          `json:"tier,omitempty"`
}

// CheckStatus reports the request's state, advancing it when warranted.
// Confirmed is terminal and idempotent to re-read. The expiry edge fires at
// most once: only the caller whose conditional update lands releases the
// bound number. Confirmation leaves the number RESERVED for settlement.
func (s *Service) CheckStatus(ctx context.Context, reference string) (*Status, error) {
	req, err := s.DB.GetPaymentRequest(ctx, reference)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}

	if req.Status == models.PaymentConfirmed {
		return &Status{
			Status:       models.PaymentConfirmed,
			Signature:    req.Signature,
			TicketNumber: req.TicketNumber,
			Tier:         req.Tier,
		}, nil
	}
	if req.Status == models.PaymentExpired {
		return &Status{Status: models.PaymentExpired}, nil
	}

	if time.Now().After(req.ExpiresAt) {
		expired, err := s.DB.ExpirePaymentRequest(ctx, reference)
		if err != nil {
			return nil, err
		}
		if expired && req.TicketNumber != "" {
			if err := s.Reservations.Release(ctx, req.TicketNumber); err != nil {
				s.Logger.Error("PAYMENT", fmt.Sprintf("release %s after expiry: %v", req.TicketNumber, err))
			}
			s.Logger.LogPayment("EXPIRE", reference, "reservation released")
		}
		return &Status{Status: models.PaymentExpired}, nil
	}

	signature, err := s.Rail.FindAndValidateTransfer(ctx, reference, req.Amount)
	if errors.Is(err, solana.ErrTransferNotFound) {
		return &Status{Status: models.PaymentPending}, nil
	}
	if err != nil {
		return nil, err
	}

	confirmed, err := s.DB.ConfirmPaymentRequest(ctx, reference, signature, time.Now())
	if err != nil {
		return nil, err
	}
	if !confirmed {
		// Lost the race to another poller; re-read the terminal state.
		return s.CheckStatus(ctx, reference)
	}

	s.Logger.LogPayment("CONFIRM", reference, "transfer "+signature)
	return &Status{
		Status:       models.PaymentConfirmed,
		Signature:    signature,
		TicketNumber: req.TicketNumber,
		Tier:         req.Tier,
	}, nil
}

// VerifyWalletPayment is the backward-compatible path: scan the payer's
// recent transfers to the program address for one matching the tier's
// expected amount that has not already been consumed. The signature-keyed
// insert guarantees a transfer never satisfies two mints.
func (s *Service) VerifyWalletPayment(ctx context.Context, wallet string, tier models.Tier) (bool, error) {
	candidates, err := s.Rail.RecentPayments(ctx, wallet, tier.Price(), 10)
	if err != nil {
		return false, err
	}

	for _, candidate := range candidates {
		consumed, err := s.DB.ConsumeSignature(ctx, models.Payment{
			Signature: candidate.Signature,
			Account:   wallet,
			Tier:      tier,
			Amount:    candidate.Amount,
			Status:    "used",
			Timestamp: time.Now(),
		})
		if err != nil {
			return false, err
		}
		if consumed {
			s.Logger.LogPayment("FALLBACK", candidate.Signature, fmt.Sprintf("wallet %s verified for %s", wallet, tier))
			return true, nil
		}
	}
	return false, nil
}
