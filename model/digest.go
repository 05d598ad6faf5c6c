package model

import "time"

// Delivery status of a digest attempt.
const (
	DigestStatusPending = "pending"
	DigestStatusSent    = "sent"
	DigestStatusFailed  = "failed"
)

// DigestDateLayout is the storage format of Digest.DigestDate.
const DigestDateLayout = "2006-01-02"

/*

Digest is one delivery attempt for one user on one local calendar day

Id: primary key, use to identify a digest
CreatedAt: time when entity is created

UserID: addressee
DigestDate: calendar date in the user's timezone, "2006-01-02"
ScheduledFor: UTC instant the dispatch decision was made
ArticleCount: number of articles selected into the digest
ArticleIds: selected article ids in rank order, serialized string separated by ","
DeliveryStatus: pending | sent | failed
SentAt: time the send collaborator confirmed delivery, nil otherwise
FailureReason: terminal send error after retries were exhausted, for audit

The unique index on (UserID, DigestDate) is the idempotency key of the whole
dispatch pipeline: a digest row is claimed with an insert-or-ignore and never
recreated, retries and reconciliation update the row in place.
*/
type Digest struct {
	Id             string `gorm:"primaryKey"`
	CreatedAt      time.Time
	UserID         string `gorm:"index:idx_digests_user_date,unique"`
	DigestDate     string `gorm:"index:idx_digests_user_date,unique"`
	ScheduledFor   time.Time
	ArticleCount   int
	ArticleIds     string
	DeliveryStatus string
	SentAt         *time.Time
	FailureReason  string
}

// ArticleIdList deserializes ArticleIds in rank order.
func (d *Digest) ArticleIdList() []string {
	return splitTags(d.ArticleIds)
}
