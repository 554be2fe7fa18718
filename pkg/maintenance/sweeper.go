// Package maintenance runs periodic cleanup against the store on a cron
// schedule.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/anonchat-bot/anonchat/pkg/logger"
	"github.com/anonchat-bot/anonchat/pkg/store"
)

// Sweeper purges waiting-queue entries nobody came back for and reports
// past their retention window.
type Sweeper struct {
	store           *store.Store
	gron            *gronx.Gronx
	expr            string
	queueStaleAfter time.Duration
	reportTTL       time.Duration
}

func NewSweeper(st *store.Store, cronExpr string, queueStaleAfter, reportTTL time.Duration) (*Sweeper, error) {
	g := gronx.New()
	if !g.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid sweep cron expression %q", cronExpr)
	}
	return &Sweeper{
		store:           st,
		gron:            g,
		expr:            cronExpr,
		queueStaleAfter: queueStaleAfter,
		reportTTL:       reportTTL,
	}, nil
}

// Run ticks every minute and sweeps when the cron expression is due. It
// returns when ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	logger.InfoCF("maintenance", "sweeper started", map[string]interface{}{
		"cron":        s.expr,
		"queue_stale": s.queueStaleAfter.String(),
		"report_ttl":  s.reportTTL.String(),
	})

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			due, err := s.gron.IsDue(s.expr, now)
			if err != nil || !due {
				continue
			}
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	queueRemoved, err := s.store.PurgeStaleQueue(ctx, s.queueStaleAfter)
	if err != nil {
		logger.ErrorCF("maintenance", "queue purge failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	reportsRemoved, err := s.store.PurgeOldReports(ctx, s.reportTTL)
	if err != nil {
		logger.ErrorCF("maintenance", "report purge failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	if queueRemoved > 0 || reportsRemoved > 0 {
		logger.InfoCF("maintenance", "sweep complete", map[string]interface{}{
			"queue_removed":   queueRemoved,
			"reports_removed": reportsRemoved,
		})
	}
}
