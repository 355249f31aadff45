package draw

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"fortune-wheel/internal/logger"
	"fortune-wheel/internal/models"
	"fortune-wheel/internal/reservation"
)

// Scheduler runs the daily draw and the hourly reservation sweep. Draws
// can also be triggered manually via the admin API; the conditional
// completion update keeps the two from double-drawing.
type Scheduler struct {
	Engine       *Engine
	Reservations *reservation.Service
	Logger       *logger.Logger

	cron *cron.Cron
}

func NewScheduler(engine *Engine, reservations *reservation.Service, log *logger.Logger) *Scheduler {
	return &Scheduler{
		Engine:       engine,
		Reservations: reservations,
		Logger:       log,
		cron:         cron.New(cron.WithLocation(time.UTC)),
	}
}

func (s *Scheduler) Start(drawSchedule, sweepSchedule string) error {
	if _, err := s.cron.AddFunc(drawSchedule, s.runDraw); err != nil {
		return fmt.Errorf("draw schedule %q: %w", drawSchedule, err)
	}
	if _, err := s.cron.AddFunc(sweepSchedule, s.runSweep); err != nil {
		return fmt.Errorf("sweep schedule %q: %w", sweepSchedule, err)
	}
	s.cron.Start()
	s.Logger.Info("SCHEDULER", fmt.Sprintf("Draw at %q, sweep at %q (UTC)", drawSchedule, sweepSchedule))
	return nil
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) runDraw() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	roundID := models.CurrentRoundID(time.Now())
	result, err := s.Engine.Run(ctx, roundID)
	switch {
	case errors.Is(err, ErrNoActiveRound), errors.Is(err, ErrNoTickets):
		s.Logger.LogDraw(roundID, "Nothing to draw: "+err.Error())
	case errors.Is(err, ErrDrawCompleted):
		s.Logger.LogDraw(roundID, "Round already completed")
	case err != nil:
		s.Logger.Error("SCHEDULER", fmt.Sprintf("scheduled draw for %s: %v", roundID, err))
	default:
		s.Logger.LogDraw(roundID, fmt.Sprintf("Scheduled draw complete, winner %s", result.Winner))
	}
}

func (s *Scheduler) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := s.Reservations.ReleaseExpired(ctx); err != nil {
		s.Logger.Error("SCHEDULER", fmt.Sprintf("reservation sweep: %v", err))
	}
}
