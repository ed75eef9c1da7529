package model

import "time"

// FailureGroup is one classifier's bucket for a failed message. GroupID is
// derived from (Type, Title); LegacyGroupID keeps the id older deployments
// handed out so it can still be used for lookups.
type FailureGroup struct {
	FailedMessageID string `json:"-" gorm:"primaryKey;size:36"`
	GroupID         string `json:"id" gorm:"primaryKey;size:36"`
	LegacyGroupID   string `json:"legacy_id,omitempty" gorm:"size:36;index"`
	Title           string `json:"title" gorm:"size:1024"`
	Type            string `json:"type" gorm:"size:64;index"`
}

// GroupComment is the only mutable part of a group.
type GroupComment struct {
	GroupID   string    `json:"group_id" gorm:"primaryKey;size:36"`
	Comment   string    `json:"comment" gorm:"type:text"`
	UpdatedBy string    `json:"updated_by" gorm:"size:64"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GroupSummary is a read model over memberships.
type GroupSummary struct {
	GroupID   string    `json:"id"`
	Title     string    `json:"title"`
	Type      string    `json:"type"`
	Count     int64     `json:"count"`
	FirstSeen time.Time `json:"first"`
	LastSeen  time.Time `json:"last"`
	Comment   string    `json:"comment,omitempty"`
}
