package numberpool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fortune-wheel/internal/cache"
	"fortune-wheel/internal/logger"
	"fortune-wheel/internal/models"
)

const (
	// TotalNumbers is the size of the global pool (0000-9999).
	TotalNumbers = 10000

	insertChunkSize = 500
)

var (
	// ErrOutOfInventory means no AVAILABLE number remains for the tier.
	// Terminal and user visible, never retried automatically.
	ErrOutOfInventory = errors.New("no available ticket numbers for tier")

	// ErrNotReserved means a finalize hit a number that is not RESERVED,
	// i.e. an attempted double mint or a lapsed reservation.
	ErrNotReserved = errors.New("ticket number is not reserved")
)

type Store interface {
	CountTicketNumbers(ctx context.Context) (int, error)
	InsertTicketNumbers(ctx context.Context, batch []models.TicketNumber) error
	ReserveTicketNumber(ctx context.Context, number string, now, expires time.Time) (bool, error)
	ClaimTicketNumber(ctx context.Context, tier models.Tier, now, expires time.Time) (*models.TicketNumber, error)
	ReleaseTicketNumber(ctx context.Context, number string) (bool, models.Tier, error)
	FinalizeTicketNumber(ctx context.Context, number string) (bool, error)
}

// Pool owns the finite set of ticket numbers. Claims go through the Redis
// set first for latency; the store stays authoritative and a cache entry
// the store refuses is simply dropped.
type Pool struct {
	DB     Store
	Cache  *cache.Cache
	Logger *logger.Logger
	TTL    time.Duration
}

func New(db Store, c *cache.Cache, log *logger.Logger, ttl time.Duration) *Pool {
	return &Pool{DB: db, Cache: c, Logger: log, TTL: ttl}
}

// TierFor assigns tiers by the fixed rule: every 20th number is VIP, every
// remaining 10th is PREMIUM, the rest BASIC (500 / 450 / 9050).
func TierFor(i int) models.Tier {
	switch {
	case i%20 == 0:
		return models.TierVIP
	case i%10 == 0:
		return models.TierPremium
	default:
		return models.TierBasic
	}
}

// Bootstrap creates all 10,000 numbers once. A populated pool is left
// untouched, so concurrent callers are safe: at most one populates.
func (p *Pool) Bootstrap(ctx context.Context) error {
	count, err := p.DB.CountTicketNumbers(ctx)
	if err != nil {
		return fmt.Errorf("count ticket numbers: %w", err)
	}
	if count > 0 {
		p.Logger.Info("POOL", "Ticket numbers already initialized")
		return nil
	}

	now := time.Now()
	byTier := make(map[models.Tier][]string)
	batch := make([]models.TicketNumber, 0, insertChunkSize)

	for i := 0; i < TotalNumbers; i++ {
		number := fmt.Sprintf("%04d", i)
		tier := TierFor(i)
		byTier[tier] = append(byTier[tier], number)
		batch = append(batch, models.TicketNumber{
			Number:    number,
			Tier:      tier,
			State:     models.NumberAvailable,
			CreatedAt: now,
		})

		if len(batch) == insertChunkSize {
			if err := p.DB.InsertTicketNumbers(ctx, batch); err != nil {
				return fmt.Errorf("insert ticket numbers: %w", err)
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := p.DB.InsertTicketNumbers(ctx, batch); err != nil {
			return fmt.Errorf("insert ticket numbers: %w", err)
		}
	}

	p.Logger.Info("POOL", fmt.Sprintf("Initialized %d ticket numbers", TotalNumbers))

	// Best effort: the cache can always be rebuilt from the store.
	for tier, numbers := range byTier {
		if err := p.Cache.PopulateTier(ctx, tier, numbers); err != nil {
			p.Logger.Warn("POOL", fmt.Sprintf("Redis population for %s failed: %v", tier, err))
			break
		}
	}

	return nil
}

// Claim reserves one AVAILABLE number of the tier with a fresh expiry.
// Two concurrent claims never receive the same number: the cache pop is an
// atomic SPOP, and the store fallback is a conditional update.
func (p *Pool) Claim(ctx context.Context, tier models.Tier) (*models.TicketNumber, error) {
	now := time.Now()
	expires := now.Add(p.TTL)

	for attempt := 0; attempt < 3; attempt++ {
		number := p.Cache.PopAvailable(ctx, tier)
		if number == "" {
			break
		}
		ok, err := p.DB.ReserveTicketNumber(ctx, number, now, expires)
		if err != nil {
			return nil, err
		}
		if ok {
			return &models.TicketNumber{
				Number:             number,
				Tier:               tier,
				State:              models.NumberReserved,
				ReservedAt:         now,
				ReservationExpires: expires,
			}, nil
		}
		// Cache held a number the store no longer considers available.
		// The store wins; drop the entry and pop again.
		p.Logger.Warn("POOL", fmt.Sprintf("Stale cache entry %s for tier %s discarded", number, tier))
	}

	tn, err := p.DB.ClaimTicketNumber(ctx, tier, now, expires)
	if err != nil {
		return nil, err
	}
	if tn == nil {
		return nil, ErrOutOfInventory
	}
	return tn, nil
}

// Release returns a RESERVED number to AVAILABLE. Calling it on an
// AVAILABLE or USED number is a no-op; a USED number is never resurrected.
func (p *Pool) Release(ctx context.Context, number string) error {
	released, tier, err := p.DB.ReleaseTicketNumber(ctx, number)
	if err != nil {
		return err
	}
	if released {
		p.Cache.AddAvailable(ctx, tier, number)
		p.Logger.LogPool("RELEASE", number, "returned to available set")
	}
	return nil
}

// Finalize retires a RESERVED number permanently.
func (p *Pool) Finalize(ctx context.Context, number string) error {
	ok, err := p.DB.FinalizeTicketNumber(ctx, number)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("finalize %s: %w", number, ErrNotReserved)
	}
	p.Logger.LogPool("FINALIZE", number, "permanently used")
	return nil
}
