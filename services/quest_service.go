package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"otakumori-rewards/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultBacklogLimit = 20
	MaxBacklogLimit     = 100
)

type QuestService struct {
	DB          *gorm.DB
	Pool        *QuestPool
	Clock       QuestClock
	PicksPerDay int
	Ledger      *LedgerService
}

func NewQuestService(db *gorm.DB, pool *QuestPool, clock QuestClock, picksPerDay int, ledger *LedgerService) *QuestService {
	return &QuestService{
		DB:          db,
		Pool:        pool,
		Clock:       clock,
		PicksPerDay: picksPerDay,
		Ledger:      ledger,
	}
}

// ProgressResult is the outcome of one progress event.
type ProgressResult struct {
	Assignment models.QuestAssignment `json:"assignment"`
	Completed  bool                   `json:"completed"`
	Reward     *LedgerResult          `json:"reward,omitempty"`
}

// SeedCatalog upserts every pool definition keyed by key, refreshing display
// text and rewards. Safe to call any number of times.
func (s *QuestService) SeedCatalog(ctx context.Context) error {
	defs := s.Pool.Definitions()
	if len(defs) == 0 {
		return nil
	}
	quests := make([]models.Quest, 0, len(defs))
	for _, d := range defs {
		quests = append(quests, models.Quest{
			ID:          uuid.NewString(),
			Key:         d.Key,
			Title:       d.Title,
			Description: d.Description,
			Kind:        d.Kind,
			Target:      d.Target,
			BasePetals:  d.BasePetals,
			BonusPetals: d.BonusPetals,
		})
	}

	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "description", "kind", "target", "base_petals", "bonus_petals", "updated_at",
		}),
	}).Create(&quests).Error
	if err != nil {
		return fmt.Errorf("seed quest catalog: %w", err)
	}
	return nil
}

// EnsureDailyAssignments makes sure the user has a row for each of today's
// selected quests and returns every assignment for today, in draw order.
// Repeated calls on the same day return the same rows.
func (s *QuestService) EnsureDailyAssignments(ctx context.Context, userID string) ([]models.QuestAssignment, error) {
	return s.EnsureAssignmentsForDay(ctx, userID, s.Clock.Today())
}

// EnsureAssignmentsForDay is EnsureDailyAssignments for an explicit day
// bucket, for callers that must report the day they read the clock at.
func (s *QuestService) EnsureAssignmentsForDay(ctx context.Context, userID, day string) ([]models.QuestAssignment, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if _, _, err := DayWindow(day, s.Clock.Location); err != nil {
		return nil, fmt.Errorf("%w: day %q", ErrValidation, day)
	}

	if err := s.SeedCatalog(ctx); err != nil {
		return nil, err
	}

	defs := PickDailyKeys(s.Pool, userID, day, s.PicksPerDay)
	if len(defs) > 0 {
		byKey, err := s.questsByKey(ctx, defs)
		if err != nil {
			return nil, err
		}

		rows := make([]models.QuestAssignment, 0, len(defs))
		for slot, d := range defs {
			q, ok := byKey[d.Key]
			if !ok {
				return nil, fmt.Errorf("quest %q missing after seeding", d.Key)
			}
			rows = append(rows, models.QuestAssignment{
				ID:            uuid.NewString(),
				UserID:        userID,
				QuestID:       q.ID,
				Day:           day,
				Slot:          slot,
				Target:        d.Target,
				BonusEligible: slot == 0,
			})
		}

		res := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "quest_id"}, {Name: "day"}},
			DoNothing: true,
		}).Omit(clause.Associations).Create(&rows)
		if res.Error != nil {
			return nil, fmt.Errorf("upsert assignments: %w", res.Error)
		}
		if res.RowsAffected > 0 {
			log.Printf("🗓️ [QUESTS] Assigned %d quest(s) to %s for %s", res.RowsAffected, userID, day)
		}
	}

	return s.AssignmentsForDay(ctx, userID, day)
}

func (s *QuestService) questsByKey(ctx context.Context, defs []QuestDefinition) (map[string]models.Quest, error) {
	keys := make([]string, 0, len(defs))
	for _, d := range defs {
		keys = append(keys, d.Key)
	}
	var quests []models.Quest
	if err := s.DB.WithContext(ctx).Where(map[string]interface{}{"key": keys}).Find(&quests).Error; err != nil {
		return nil, fmt.Errorf("load quests: %w", err)
	}
	byKey := make(map[string]models.Quest, len(quests))
	for _, q := range quests {
		byKey[q.Key] = q
	}
	return byKey, nil
}

// AssignmentsForDay returns a user's assignments for one day bucket.
func (s *QuestService) AssignmentsForDay(ctx context.Context, userID, day string) ([]models.QuestAssignment, error) {
	assignments := []models.QuestAssignment{}
	err := s.DB.WithContext(ctx).
		Preload("Quest").
		Where("user_id = ? AND day = ?", userID, day).
		Order("slot ASC").
		Find(&assignments).Error
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	return assignments, nil
}

// Backlog returns open assignments from days before today, most recent day
// first. limit <= 0 means DefaultBacklogLimit.
func (s *QuestService) Backlog(ctx context.Context, userID string, limit int) ([]models.QuestAssignment, error) {
	if limit <= 0 {
		limit = DefaultBacklogLimit
	}
	if limit > MaxBacklogLimit {
		limit = MaxBacklogLimit
	}
	today := s.Clock.Today()

	backlog := []models.QuestAssignment{}
	err := s.DB.WithContext(ctx).
		Preload("Quest").
		Where("user_id = ? AND day < ? AND completed_at IS NULL", userID, today).
		Order("day DESC").Order("slot ASC").
		Limit(limit).
		Find(&backlog).Error
	if err != nil {
		return nil, fmt.Errorf("list backlog: %w", err)
	}
	return backlog, nil
}

// RecordProgress advances today's assignment for questKey by amount. When the
// target is reached the assignment is completed and its petals are earned in
// the same transaction, exactly once.
func (s *QuestService) RecordProgress(ctx context.Context, userID, questKey string, amount int) (*ProgressResult, error) {
	if amount < 1 {
		return nil, fmt.Errorf("%w: amount must be at least 1", ErrValidation)
	}
	if _, ok := s.Pool.Lookup(questKey); !ok {
		return nil, fmt.Errorf("%w: quest %q", ErrNotFound, questKey)
	}
	day := s.Clock.Today()

	var out ProgressResult
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var quest models.Quest
		if err := tx.Where(map[string]interface{}{"key": questKey}).First(&quest).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: quest %q", ErrNotFound, questKey)
			}
			return err
		}

		var a models.QuestAssignment
		if err := tx.Where("user_id = ? AND quest_id = ? AND day = ?", userID, quest.ID, day).First(&a).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: quest %q is not assigned today", ErrNotFound, questKey)
			}
			return err
		}
		if a.CompletedAt != nil {
			return fmt.Errorf("%w: quest %q already completed", ErrConflict, questKey)
		}

		bump := tx.Model(&models.QuestAssignment{}).
			Where("id = ? AND completed_at IS NULL", a.ID).
			UpdateColumn("progress", gorm.Expr("progress + ?", amount))
		if bump.Error != nil {
			return fmt.Errorf("update progress: %w", bump.Error)
		}
		if bump.RowsAffected == 0 {
			return fmt.Errorf("%w: quest %q already completed", ErrConflict, questKey)
		}
		if err := tx.First(&a, "id = ?", a.ID).Error; err != nil {
			return err
		}

		if a.Progress >= a.Target {
			now := s.Clock.Now()
			done := tx.Model(&models.QuestAssignment{}).
				Where("id = ? AND completed_at IS NULL", a.ID).
				UpdateColumns(map[string]interface{}{"completed_at": now, "progress": a.Target})
			if done.Error != nil {
				return fmt.Errorf("complete assignment: %w", done.Error)
			}
			if done.RowsAffected == 1 {
				a.CompletedAt = &now
				a.Progress = a.Target
				out.Completed = true

				petals := int64(quest.BasePetals)
				if a.BonusEligible {
					petals += int64(quest.BonusPetals)
				}
				if petals > 0 {
					reward, err := AppendTx(tx, LedgerRequest{
						UserID:         userID,
						Type:           models.LedgerTypeEarn,
						Amount:         petals,
						Reason:         "quest:" + questKey,
						IdempotencyKey: "quest:" + a.ID,
					})
					if err != nil {
						return err
					}
					out.Reward = reward
				}
			}
		}

		a.Quest = quest
		out.Assignment = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.Completed {
		log.Printf("🏁 [QUESTS] %s completed %s on %s", userID, questKey, day)
	}
	if s.Ledger != nil {
		s.Ledger.Publish(ctx, out.Reward)
	}
	return &out, nil
}
