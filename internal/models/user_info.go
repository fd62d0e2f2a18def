package models

import (
	"time"

	"gorm.io/datatypes"
)

// UserInfo stores the public profile a user attached to the bot.
type UserInfo struct {
	ID                string            `gorm:"primaryKey;size:64" json:"id"`
	Bio               string            `gorm:"type:text" json:"bio"`
	ConnectedAccounts datatypes.JSONMap `json:"connected_accounts"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// DocumentID implements the cache.Document contract.
func (u UserInfo) DocumentID() string { return u.ID }

// Touched returns a copy stamped with the given modification time.
func (u UserInfo) Touched(at time.Time) UserInfo {
	u.UpdatedAt = at
	return u
}
