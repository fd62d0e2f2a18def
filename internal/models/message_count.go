package models

import "time"

// MessageCount is the persisted daily message counter of a single chat server.
type MessageCount struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Count     int64     `gorm:"not null" json:"count"`
	Day       string    `gorm:"size:10" json:"day"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DocumentID implements the cache.Document contract.
func (m MessageCount) DocumentID() string { return m.ID }

// Touched returns a copy stamped with the given modification time.
func (m MessageCount) Touched(at time.Time) MessageCount {
	m.UpdatedAt = at
	return m
}
