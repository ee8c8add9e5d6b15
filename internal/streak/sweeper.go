package streak

import (
	"context"
	"time"

	"github.com/Craverse/craveverse/internal/calendar"
	"github.com/Craverse/craveverse/internal/ledger"

	"github.com/sirupsen/logrus"
)

// Sweeper applies RecordMissOn once per calendar day to every user that did
// not complete a level yesterday, then retries deferred decisions.
type Sweeper struct {
	ctl      *Controller
	users    ledger.Reader
	cal      *calendar.Calendar
	interval time.Duration
	log      logrus.FieldLogger

	lastDay calendar.Date
}

type SweepReport struct {
	Day       calendar.Date
	Protected int
	Reset     int
	Deferred  int
}

func NewSweeper(ctl *Controller, users ledger.Reader, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Sweeper{ctl: ctl, users: users, cal: ctl.cal, interval: interval, log: ctl.log}
}

// RunOnce sweeps the misses of the day before today. It is a no-op when that
// day was already swept by this Sweeper.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepReport, error) {
	missed := s.cal.Today().AddDays(-1)
	report := SweepReport{Day: missed}
	if !s.lastDay.IsZero() && !s.lastDay.Before(missed) {
		return report, nil
	}

	ids, err := s.users.ListIdleUsers(ctx, missed)
	if err != nil {
		return report, err
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		d, err := s.ctl.RecordMissOn(ctx, id, missed)
		switch {
		case err != nil && d.Outcome == Deferred:
			report.Deferred++
		case err != nil:
			s.log.WithError(err).WithField("user_id", id).Warn("streak sweep skipped user")
		case d.Outcome == Protected:
			report.Protected++
		case d.Outcome == Reset:
			report.Reset++
		}
	}
	s.lastDay = missed
	s.log.WithFields(logrus.Fields{
		"day":        missed.String(),
		"candidates": len(ids),
		"protected":  report.Protected,
		"reset":      report.Reset,
		"deferred":   report.Deferred,
	}).Info("streak sweep finished")
	return report, nil
}

// Run sweeps on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		s.log.WithError(err).Error("streak sweep failed")
	}
	if len(s.ctl.Pending()) == 0 {
		return
	}
	if _, err := s.ctl.ProcessDeferred(ctx); err != nil {
		s.log.WithError(err).Warn("deferred streak decisions still pending")
	}
}
