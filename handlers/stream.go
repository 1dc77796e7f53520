// handlers/stream.go
package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"otakumori-rewards/models"
	"otakumori-rewards/services"

	"github.com/gofiber/fiber/v2"
)

// streamOverlap is how far behind the cursor each poll re-reads. An entry
// whose transaction commits after a later one was streamed still lands
// inside it, as long as the transaction took less than this.
const streamOverlap = 30 * time.Second

// ledgerCursor tracks what a stream has already sent. Entries are re-read
// from cursor-overlap on every poll and deduplicated by id.
type ledgerCursor struct {
	overlap time.Duration
	latest  time.Time
	sent    map[string]time.Time
}

func newLedgerCursor(overlap time.Duration) *ledgerCursor {
	return &ledgerCursor{overlap: overlap, sent: make(map[string]time.Time)}
}

// Since is the lower bound for the next query.
func (lc *ledgerCursor) Since() time.Time {
	if lc.latest.IsZero() {
		return lc.latest
	}
	return lc.latest.Add(-lc.overlap)
}

// Prime marks entries as already delivered without returning them.
func (lc *ledgerCursor) Prime(entries []models.PetalLedgerEntry) {
	lc.Next(entries)
}

// Next returns the entries not sent before, in input order, and advances.
func (lc *ledgerCursor) Next(entries []models.PetalLedgerEntry) []models.PetalLedgerEntry {
	var fresh []models.PetalLedgerEntry
	for _, e := range entries {
		if _, dup := lc.sent[e.ID]; dup {
			continue
		}
		lc.sent[e.ID] = e.CreatedAt
		if e.CreatedAt.After(lc.latest) {
			lc.latest = e.CreatedAt
		}
		fresh = append(fresh, e)
	}

	floor := lc.Since()
	for id, at := range lc.sent {
		if at.Before(floor) {
			delete(lc.sent, id)
		}
	}
	return fresh
}

// streamLedger pushes the user's new ledger entries as server-sent events.
func streamLedger(c *fiber.Ctx, ledger *services.LedgerService, userID string, interval time.Duration) error {
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	done := c.Context().Done()

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ctx := context.Background()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		cursor := newLedgerCursor(streamOverlap)
		if latest, err := ledger.LatestEntryTime(ctx, userID); err != nil {
			log.Printf("⚠️ [STREAM] Cursor init failed for %s: %v", userID, err)
		} else if !latest.IsZero() {
			recent, err := ledger.EntriesSince(ctx, userID, latest.Add(-streamOverlap))
			if err != nil {
				log.Printf("⚠️ [STREAM] Cursor init failed for %s: %v", userID, err)
			}
			cursor.Prime(recent)
		}
		if balance, err := ledger.Balance(ctx, userID); err == nil {
			if err := writeEvent(w, "balance", fiber.Map{"balance": balance}); err != nil {
				return
			}
		}
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case <-ticker.C:
				entries, err := ledger.EntriesSince(ctx, userID, cursor.Since())
				if err != nil {
					log.Printf("⚠️ [STREAM] Query failed for %s: %v", userID, err)
					continue
				}
				fresh := cursor.Next(entries)
				if len(fresh) == 0 {
					// comment line keeps proxies from closing the connection
					if _, err := w.WriteString(":\n\n"); err != nil {
						return
					}
				} else if err := writeLedgerEvents(w, fresh); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					// client disconnected
					return
				}

			case <-done:
				return
			}
		}
	})

	return nil
}

func writeLedgerEvents(w io.Writer, entries []models.PetalLedgerEntry) error {
	for _, e := range entries {
		if err := writeEvent(w, "ledger", e); err != nil {
			return err
		}
	}
	return nil
}

func writeEvent(w io.Writer, event string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return err
}
