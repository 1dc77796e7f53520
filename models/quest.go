package models

import "time"

// QuestKind groups quests by the activity that advances them
type QuestKind string

const (
	QuestKindBrowse   QuestKind = "browse"
	QuestKindReview   QuestKind = "review"
	QuestKindMinigame QuestKind = "minigame"
	QuestKindPurchase QuestKind = "purchase"
)

// Valid reports whether k is one of the known kinds.
func (k QuestKind) Valid() bool {
	switch k {
	case QuestKindBrowse, QuestKindReview, QuestKindMinigame, QuestKindPurchase:
		return true
	}
	return false
}

// Quest is the persisted copy of a catalog definition, upserted by Key.
type Quest struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Key         string    `gorm:"uniqueIndex;not null;type:varchar(64)" json:"key"`
	Title       string    `gorm:"not null" json:"title"`
	Description string    `gorm:"type:text" json:"description"`
	Kind        QuestKind `gorm:"type:varchar(16);not null" json:"kind"`
	Target      int       `gorm:"not null" json:"target"`
	BasePetals  int       `gorm:"not null;default:0" json:"base_petals"`
	BonusPetals int       `gorm:"not null;default:0" json:"bonus_petals"`

	Timestamps
}

// QuestAssignment is one quest offered to one user on one day bucket.
// Target is copied from the quest at assignment time. Rows are never deleted.
type QuestAssignment struct {
	ID            string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID        string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_assignment_user_quest_day,priority:1;index:idx_assignment_user_day,priority:1" json:"user_id"`
	QuestID       string     `gorm:"type:varchar(36);not null;uniqueIndex:idx_assignment_user_quest_day,priority:2" json:"quest_id"`
	Day           string     `gorm:"type:varchar(10);not null;uniqueIndex:idx_assignment_user_quest_day,priority:3;index:idx_assignment_user_day,priority:2" json:"day"`
	Slot          int        `gorm:"not null;default:0" json:"slot"` // draw order within the day
	Target        int        `gorm:"not null" json:"target"`
	Progress      int        `gorm:"not null;default:0" json:"progress"`
	BonusEligible bool       `gorm:"not null;default:false" json:"bonus_eligible"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`

	Quest Quest `gorm:"foreignKey:QuestID" json:"quest"`

	Timestamps
}

// StreakShard marks that the daily engagement bonus was granted for (UserID, Day).
type StreakShard struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID    string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_shard_user_day,priority:1" json:"user_id"`
	Day       string    `gorm:"type:varchar(10);not null;uniqueIndex:idx_shard_user_day,priority:2" json:"day"`
	Petals    int64     `gorm:"not null;default:0" json:"petals"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
