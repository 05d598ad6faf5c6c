package model

import "time"

// DefaultWeight is assumed for any (user, entity) pair without a stored row.
const DefaultWeight = 0.5

/*

PreferenceWeight is a learned per-user affinity towards one entity

UserID: user this weight belongs to
EntityKind: company | industry | topic
EntityName: entity display name, matches article tag names exactly
Weight: affinity in [0.0, 1.0], starts at 0.5, moved by feedback deltas
UpdatedAt: time of the last feedback-driven mutation

The three key columns form the composite primary key. Rows are only ever
mutated by the feedback-ingestion path, with the clamp applied inside a
single UPDATE statement so concurrent submissions never lose updates.
*/
type PreferenceWeight struct {
	UserID     string `gorm:"primaryKey"`
	EntityKind string `gorm:"primaryKey"`
	EntityName string `gorm:"primaryKey"`
	Weight     float64
	UpdatedAt  time.Time
}
