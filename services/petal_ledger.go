package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"otakumori-rewards/models"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MaxLedgerAmount bounds a single entry so balance arithmetic stays far from
// int64 overflow.
const MaxLedgerAmount int64 = 1_000_000

// LedgerRequest describes one balance-changing event.
// Amount is a positive magnitude; the sign comes from Type, and for adjust
// entries from Negative.
type LedgerRequest struct {
	UserID         string
	Type           models.LedgerType
	Amount         int64
	Negative       bool
	Reason         string
	IdempotencyKey string
}

// LedgerResult is the appended entry and the balance right after it.
type LedgerResult struct {
	Entry   models.PetalLedgerEntry `json:"entry"`
	Balance int64                   `json:"balance"`
}

// LedgerPage is one page of a user's ledger history, newest first.
type LedgerPage struct {
	Entries    []models.PetalLedgerEntry `json:"entries"`
	Page       int                       `json:"page"`
	Size       int                       `json:"size"`
	TotalItems int64                     `json:"total_items"`
	TotalPages int                       `json:"total_pages"`
}

func (r LedgerRequest) delta() (int64, error) {
	if strings.TrimSpace(r.UserID) == "" {
		return 0, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if r.Amount < 1 {
		return 0, fmt.Errorf("%w: amount must be a positive integer", ErrValidation)
	}
	if r.Amount > MaxLedgerAmount {
		return 0, fmt.Errorf("%w: amount must be at most %d", ErrValidation, MaxLedgerAmount)
	}
	if strings.TrimSpace(r.Reason) == "" {
		return 0, fmt.Errorf("%w: reason is required", ErrValidation)
	}
	switch r.Type {
	case models.LedgerTypeEarn:
		if r.Negative {
			return 0, fmt.Errorf("%w: earn entries cannot be negative", ErrValidation)
		}
		return r.Amount, nil
	case models.LedgerTypeSpend:
		if r.Negative {
			return 0, fmt.Errorf("%w: spend sign is implied", ErrValidation)
		}
		return -r.Amount, nil
	case models.LedgerTypeAdjust:
		if r.Negative {
			return -r.Amount, nil
		}
		return r.Amount, nil
	default:
		return 0, fmt.Errorf("%w: unknown ledger type %q", ErrValidation, r.Type)
	}
}

type LedgerService struct {
	DB     *gorm.DB
	Events LedgerEventPublisher
}

func NewLedgerService(db *gorm.DB, events LedgerEventPublisher) *LedgerService {
	if events == nil {
		events = NoopLedgerPublisher{}
	}
	return &LedgerService{DB: db, Events: events}
}

// Append writes one ledger entry and moves the cached balance by the same
// signed amount in a single transaction, then publishes the entry.
func (s *LedgerService) Append(ctx context.Context, req LedgerRequest) (*LedgerResult, error) {
	var res *LedgerResult
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		res, err = AppendTx(tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Publish(ctx, res)
	return res, nil
}

// AppendTx is Append inside a caller-owned transaction. The caller publishes
// the result after commit.
func AppendTx(tx *gorm.DB, req LedgerRequest) (*LedgerResult, error) {
	delta, err := req.delta()
	if err != nil {
		return nil, err
	}

	// Single UPDATE so concurrent grants for one user never lose an increment.
	update := tx.Model(&models.User{}).Where("id = ?", req.UserID)
	if req.Type == models.LedgerTypeSpend {
		update = update.Where("petal_balance >= ?", req.Amount)
	}
	result := update.UpdateColumn("petal_balance", gorm.Expr("petal_balance + ?", delta))
	if result.Error != nil {
		return nil, fmt.Errorf("update petal balance: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := tx.Model(&models.User{}).Where("id = ?", req.UserID).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("look up user: %w", err)
		}
		if count == 0 {
			return nil, fmt.Errorf("%w: user %s", ErrNotFound, req.UserID)
		}
		return nil, fmt.Errorf("%w: spend of %d", ErrInsufficientPetals, req.Amount)
	}

	entry := models.PetalLedgerEntry{
		ID:         uuid.NewString(),
		UserID:     req.UserID,
		Type:       req.Type,
		Amount:     req.Amount,
		Delta:      delta,
		Reason:     req.Reason,
		ReasonCode: ReasonCode(req.Reason),
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		entry.IdempotencyKey = &key
	}

	insert := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(&entry)
	if insert.Error != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", insert.Error)
	}
	if insert.RowsAffected == 0 {
		// Returning an error rolls the balance update back with it.
		return nil, fmt.Errorf("%w: idempotency key %q", ErrDuplicateRequest, *entry.IdempotencyKey)
	}

	var balance int64
	if err := tx.Model(&models.User{}).Where("id = ?", req.UserID).Select("petal_balance").Scan(&balance).Error; err != nil {
		return nil, fmt.Errorf("read petal balance: %w", err)
	}

	return &LedgerResult{Entry: entry, Balance: balance}, nil
}

// Publish emits committed ledger results. Failures are logged, never returned.
func (s *LedgerService) Publish(ctx context.Context, results ...*LedgerResult) {
	for _, r := range results {
		if r == nil {
			continue
		}
		if err := s.Events.PublishLedgerEntry(ctx, r.Entry, r.Balance); err != nil {
			log.Printf("⚠️ [LEDGER] publish entry %s for user %s failed: %v", r.Entry.ID, r.Entry.UserID, err)
		}
	}
}

// ReasonCode turns a free-text reason into a stable category code.
func ReasonCode(reason string) string {
	code := slug.Make(reason)
	if len(code) > 64 {
		code = strings.TrimRight(code[:64], "-")
	}
	return code
}

// EnsureAccount creates the user's account row with a zero balance if it
// does not exist yet (idempotent) and returns it.
func (s *LedgerService) EnsureAccount(ctx context.Context, userID string) (*models.User, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	db := s.DB.WithContext(ctx)
	user := models.User{ID: userID}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(&user).Error; err != nil {
		return nil, fmt.Errorf("ensure account %s: %w", userID, err)
	}
	if err := db.First(&user, "id = ?", userID).Error; err != nil {
		return nil, fmt.Errorf("load account %s: %w", userID, err)
	}
	return &user, nil
}

// Balance returns the cached petal balance.
func (s *LedgerService) Balance(ctx context.Context, userID string) (int64, error) {
	var user models.User
	if err := s.DB.WithContext(ctx).Select("id", "petal_balance").First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("%w: user %s", ErrNotFound, userID)
		}
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return user.PetalBalance, nil
}

// LedgerSum returns the sum of signed ledger deltas for a user.
func (s *LedgerService) LedgerSum(ctx context.Context, userID string) (int64, error) {
	var sum int64
	err := s.DB.WithContext(ctx).
		Model(&models.PetalLedgerEntry{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(delta), 0)").
		Scan(&sum).Error
	if err != nil {
		return 0, fmt.Errorf("sum ledger: %w", err)
	}
	return sum, nil
}

// History returns a page of ledger entries, newest first.
func (s *LedgerService) History(ctx context.Context, userID string, page, size int) (*LedgerPage, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	db := s.DB.WithContext(ctx)

	var total int64
	if err := db.Model(&models.PetalLedgerEntry{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count ledger: %w", err)
	}

	entries := []models.PetalLedgerEntry{}
	if err := db.Where("user_id = ?", userID).
		Order("created_at DESC").Order("id DESC").
		Limit(size).Offset((page - 1) * size).
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}

	return &LedgerPage{
		Entries:    entries,
		Page:       page,
		Size:       size,
		TotalItems: total,
		TotalPages: int((total + int64(size) - 1) / int64(size)),
	}, nil
}

// EntriesSince returns entries created strictly after since, oldest first.
func (s *LedgerService) EntriesSince(ctx context.Context, userID string, since time.Time) ([]models.PetalLedgerEntry, error) {
	var entries []models.PetalLedgerEntry
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND created_at > ?", userID, since).
		Order("created_at ASC").
		Find(&entries).Error
	return entries, err
}

// LatestEntryTime returns the created_at of the newest entry, or zero.
func (s *LedgerService) LatestEntryTime(ctx context.Context, userID string) (time.Time, error) {
	var latest models.PetalLedgerEntry
	err := s.DB.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").First(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return latest.CreatedAt, nil
}
