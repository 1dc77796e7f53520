package models

import (
	"time"
)

// User is the local account row the rewards core owns.
// ID is the auth provider's user id, so it is supplied, not generated.
// Profile columns are mirrored by the account sync worker; PetalBalance is a
// cached projection of the petal ledger and is only ever changed together
// with a ledger append.
type User struct {
	ID           string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Username     string     `gorm:"index" json:"username"`
	Email        string     `json:"email,omitempty"`
	AvatarURL    *string    `json:"avatar_url,omitempty"`
	PetalBalance int64      `gorm:"not null;default:0" json:"petal_balance"`
	LastSeen     *time.Time `json:"last_seen,omitempty"`

	Timestamps
}
