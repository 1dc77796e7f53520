package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"otakumori-rewards/models"

	"gorm.io/gorm"
)

// ObjectUploader stores one object; R2 implements it in production.
type ObjectUploader interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
}

// LedgerExporter archives a day's ledger entries as JSON lines.
type LedgerExporter struct {
	DB       *gorm.DB
	Clock    QuestClock
	Uploader ObjectUploader
	Prefix   string
}

func NewLedgerExporter(db *gorm.DB, clock QuestClock, uploader ObjectUploader) *LedgerExporter {
	return &LedgerExporter{DB: db, Clock: clock, Uploader: uploader, Prefix: "petal-ledger"}
}

// ObjectKey is where day's export lands.
func (e *LedgerExporter) ObjectKey(day string) string {
	return fmt.Sprintf("%s/%s.jsonl", strings.TrimSuffix(e.Prefix, "/"), day)
}

// ExportDay uploads every entry created within day (quest timezone) and
// returns how many were written. Empty days still produce an object.
func (e *LedgerExporter) ExportDay(ctx context.Context, day string) (int, error) {
	start, end, err := DayWindow(day, e.Clock.Location)
	if err != nil {
		return 0, fmt.Errorf("%w: day %q", ErrValidation, day)
	}

	var entries []models.PetalLedgerEntry
	if err := e.DB.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", start.UTC(), end.UTC()).
		Order("created_at ASC").Order("id ASC").
		Find(&entries).Error; err != nil {
		return 0, fmt.Errorf("load ledger for %s: %w", day, err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, entry := range entries {
		if err := enc.Encode(entry); err != nil {
			return 0, fmt.Errorf("encode entry %s: %w", entry.ID, err)
		}
	}

	key := e.ObjectKey(day)
	if err := e.Uploader.PutObject(ctx, key, buf.Bytes(), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("upload %s: %w", key, err)
	}
	log.Printf("📦 [EXPORT] Wrote %d ledger entries to %s", len(entries), key)
	return len(entries), nil
}

// ExportPreviousDay exports yesterday's bucket.
func (e *LedgerExporter) ExportPreviousDay(ctx context.Context) (string, int, error) {
	day, err := PreviousDay(e.Clock.Today(), e.Clock.Location)
	if err != nil {
		return "", 0, err
	}
	n, err := e.ExportDay(ctx, day)
	return day, n, err
}
