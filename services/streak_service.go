package services

import (
	"context"
	"fmt"
	"log"
	"strings"

	"otakumori-rewards/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// maxStreakScan bounds how many shard rows StreakLength reads.
const maxStreakScan = 366

type StreakService struct {
	DB     *gorm.DB
	Clock  QuestClock
	Petals int64
	Ledger *LedgerService
}

func NewStreakService(db *gorm.DB, clock QuestClock, petals int64, ledger *LedgerService) *StreakService {
	return &StreakService{DB: db, Clock: clock, Petals: petals, Ledger: ledger}
}

// StreakAward reports whether this call granted today's shard.
type StreakAward struct {
	Awarded bool          `json:"awarded"`
	Day     string        `json:"day"`
	Reward  *LedgerResult `json:"reward,omitempty"`
}

// AwardStreakShard grants at most one shard per user per day. The unique
// (user_id, day) index decides races: the insert that lands wins, every
// other caller sees Awarded=false.
func (s *StreakService) AwardStreakShard(ctx context.Context, userID string) (*StreakAward, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	out := &StreakAward{Day: s.Clock.Today()}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		shard := models.StreakShard{
			ID:     uuid.NewString(),
			UserID: userID,
			Day:    out.Day,
			Petals: s.Petals,
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "day"}},
			DoNothing: true,
		}).Create(&shard)
		if res.Error != nil {
			return fmt.Errorf("insert streak shard: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		out.Awarded = true

		if s.Petals > 0 {
			reward, err := AppendTx(tx, LedgerRequest{
				UserID:         userID,
				Type:           models.LedgerTypeEarn,
				Amount:         s.Petals,
				Reason:         "streak shard",
				IdempotencyKey: "streak:" + out.Day,
			})
			if err != nil {
				return err
			}
			out.Reward = reward
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.Awarded {
		log.Printf("🔥 [STREAK] Shard awarded to %s for %s", userID, out.Day)
		if s.Ledger != nil {
			s.Ledger.Publish(ctx, out.Reward)
		}
	}
	return out, nil
}

// StreakLength counts consecutive days with a shard, ending today, or
// yesterday when today has not been claimed yet.
func (s *StreakService) StreakLength(ctx context.Context, userID string) (int, error) {
	var days []string
	err := s.DB.WithContext(ctx).
		Model(&models.StreakShard{}).
		Where("user_id = ?", userID).
		Order("day DESC").
		Limit(maxStreakScan).
		Pluck("day", &days).Error
	if err != nil {
		return 0, fmt.Errorf("list streak shards: %w", err)
	}
	if len(days) == 0 {
		return 0, nil
	}

	loc := s.Clock.Location
	expect := s.Clock.Today()
	if days[0] != expect {
		if expect, err = PreviousDay(expect, loc); err != nil {
			return 0, err
		}
	}

	streak := 0
	for _, d := range days {
		if d != expect {
			break
		}
		streak++
		if expect, err = PreviousDay(expect, loc); err != nil {
			return 0, err
		}
	}
	return streak, nil
}
