package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"otakumori-rewards/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// openTestDB returns a migrated in-memory database private to the test.
// It has a single connection, so parallel callers run their transactions one
// after another. Tests on it show idempotency and unique-index outcomes, not
// lost-update safety; that is covered by the statement-shape tests and by the
// Postgres suite behind REWARDS_TEST_POSTGRES_DSN.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(
		&models.User{},
		&models.Quest{},
		&models.QuestAssignment{},
		&models.StreakShard{},
		&models.PetalLedgerEntry{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func createUser(t *testing.T, db *gorm.DB, id string, balance int64) {
	t.Helper()
	if err := db.Create(&models.User{ID: id, Username: id, PetalBalance: balance}).Error; err != nil {
		t.Fatalf("create user %s: %v", id, err)
	}
}

// fakeClockAt returns a quest clock in New York frozen at the given local time.
func fakeClockAt(t *testing.T, year int, month time.Month, day, hour int) (QuestClock, *clockwork.FakeClock) {
	t.Helper()
	ny := mustLoad(t, "America/New_York")
	fake := clockwork.NewFakeClockAt(time.Date(year, month, day, hour, 0, 0, 0, ny))
	return QuestClock{Clock: fake, Location: ny}, fake
}

type recordingPublisher struct {
	mu      sync.Mutex
	entries []models.PetalLedgerEntry
}

func (p *recordingPublisher) PublishLedgerEntry(_ context.Context, entry models.PetalLedgerEntry, _ int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, entry)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
