// services/scheduler.go
package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// RewardsJobs holds what the background jobs operate on. Exporter may be nil
// when object storage is not configured.
type RewardsJobs struct {
	Quests   *QuestService
	Ledger   *LedgerService
	Exporter *LedgerExporter
}

// RefreshCatalog re-upserts the quest catalog.
func (j *RewardsJobs) RefreshCatalog(ctx context.Context) {
	if err := j.Quests.SeedCatalog(ctx); err != nil {
		log.Printf("[Scheduler] Catalog refresh failed: %v", err)
		return
	}
	log.Printf("✅ [Scheduler] Quest catalog refreshed (%d quests)", j.Quests.Pool.Len())
}

// CheckLedger logs every user whose balance drifted from the ledger.
func (j *RewardsJobs) CheckLedger(ctx context.Context) []BalanceDrift {
	drift, err := j.Ledger.Reconcile(ctx)
	if err != nil {
		log.Printf("[Scheduler] Ledger reconciliation failed: %v", err)
		return nil
	}
	for _, d := range drift {
		log.Printf("❌ [Scheduler] Balance drift for %s: cached=%d ledger=%d", d.UserID, d.Cached, d.Ledger)
	}
	if len(drift) == 0 {
		log.Println("✅ [Scheduler] Ledger reconciled, no drift")
	}
	return drift
}

// ExportLedger archives yesterday's entries.
func (j *RewardsJobs) ExportLedger(ctx context.Context) {
	if j.Exporter == nil {
		return
	}
	day, n, err := j.Exporter.ExportPreviousDay(ctx)
	if err != nil {
		log.Printf("[Scheduler] Ledger export for %s failed: %v", day, err)
		return
	}
	log.Printf("✅ [Scheduler] Exported %d ledger entries for %s", n, day)
}

// StartRewardsScheduler runs the jobs on the quest clock and timezone:
// catalog refresh right after the day rolls over, hourly reconciliation and,
// with an exporter, the daily ledger export. Callers Shutdown the result.
func StartRewardsScheduler(ctx context.Context, jobs *RewardsJobs) (gocron.Scheduler, error) {
	clock := jobs.Quests.Clock
	sched, err := gocron.NewScheduler(
		gocron.WithLocation(clock.Location),
		gocron.WithClock(clock.Clock),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	if _, err := sched.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(0, 0, 30))),
		gocron.NewTask(func() { jobs.RefreshCatalog(ctx) }),
		gocron.WithName("quest-catalog-refresh"),
	); err != nil {
		return nil, fmt.Errorf("schedule catalog refresh: %w", err)
	}

	if _, err := sched.NewJob(
		gocron.DurationJob(time.Hour),
		gocron.NewTask(func() { jobs.CheckLedger(ctx) }),
		gocron.WithName("ledger-reconcile"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return nil, fmt.Errorf("schedule reconciliation: %w", err)
	}

	if jobs.Exporter != nil {
		if _, err := sched.NewJob(
			gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(0, 10, 0))),
			gocron.NewTask(func() { jobs.ExportLedger(ctx) }),
			gocron.WithName("ledger-export"),
		); err != nil {
			return nil, fmt.Errorf("schedule ledger export: %w", err)
		}
	}

	sched.Start()
	return sched, nil
}
