package reservation

import (
	"context"
	"fmt"
	"time"

	"fortune-wheel/internal/logger"
	"fortune-wheel/internal/models"
	"fortune-wheel/internal/numberpool"
)

type Store interface {
	ExpiredReservations(ctx context.Context, now time.Time) ([]models.TicketNumber, error)
}

// Service hands out time-boxed holds on ticket numbers and sweeps lapsed
// ones. Cancellation is purely time based; there is no user-initiated
// cancel.
type Service struct {
	Pool   *numberpool.Pool
	DB     Store
	Logger *logger.Logger
}

func New(pool *numberpool.Pool, db Store, log *logger.Logger) *Service {
	return &Service{Pool: pool, DB: db, Logger: log}
}

type Reservation struct {
	Number    string      `json:"number"`
	Tier      models.Tier `json:"tier"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// Reserve claims one number for the tier. Propagates
// numberpool.ErrOutOfInventory unchanged; callers do not retry it.
func (s *Service) Reserve(ctx context.Context, tier models.Tier) (*Reservation, error) {
	tn, err := s.Pool.Claim(ctx, tier)
	if err != nil {
		return nil, err
	}
	s.Logger.LogPool("RESERVE", tn.Number, fmt.Sprintf("tier %s held until %s", tier, tn.ReservationExpires.Format(time.RFC3339)))
	return &Reservation{
		Number:    tn.Number,
		Tier:      tn.Tier,
		ExpiresAt: tn.ReservationExpires,
	}, nil
}

// Release returns a held number to the pool.
func (s *Service) Release(ctx context.Context, number string) error {
	return s.Pool.Release(ctx, number)
}

// ReleaseExpired releases every reservation whose window has passed. The
// conditional release in the store makes this idempotent, so concurrent
// sweeps release each number exactly once.
func (s *Service) ReleaseExpired(ctx context.Context) (int, error) {
	lapsed, err := s.DB.ExpiredReservations(ctx, time.Now())
	if err != nil {
		return 0, err
	}

	released := 0
	for _, tn := range lapsed {
		if err := s.Pool.Release(ctx, tn.Number); err != nil {
			s.Logger.Error("SWEEP", fmt.Sprintf("release %s: %v", tn.Number, err))
			continue
		}
		released++
	}
	if released > 0 {
		s.Logger.Info("SWEEP", fmt.Sprintf("Released %d expired reservations", released))
	}
	return released, nil
}
