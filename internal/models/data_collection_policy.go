package models

import (
	"time"

	"gorm.io/datatypes"
)

// DataCollectionPolicy lists the users of a chat server who consented to data collection.
type DataCollectionPolicy struct {
	ID        string                      `gorm:"primaryKey;size:64" json:"id"`
	Allowed   datatypes.JSONSlice[string] `json:"allowed"`
	UpdatedAt time.Time                   `json:"updated_at"`
}

// DocumentID implements the cache.Document contract.
func (p DataCollectionPolicy) DocumentID() string { return p.ID }

// Touched returns a copy stamped with the given modification time.
func (p DataCollectionPolicy) Touched(at time.Time) DataCollectionPolicy {
	p.UpdatedAt = at
	return p
}

// Clone returns a deep copy so cached policies never share their backing array with callers.
func (p DataCollectionPolicy) Clone() DataCollectionPolicy {
	cpy := p
	cpy.Allowed = append(datatypes.JSONSlice[string]{}, p.Allowed...)
	return cpy
}
