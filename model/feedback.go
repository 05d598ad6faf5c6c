package model

import "time"

// Feedback types a client can submit for a delivered article.
const (
	FeedbackPositive    = "positive"
	FeedbackNegative    = "negative"
	FeedbackNotRelevant = "not_relevant"
)

/*

Feedback is one user's vote on one article, at most one row per
(user, article, digest) tuple

UserID: user who submitted the vote
ArticleID: article voted on
DigestID: digest the article was delivered in, "" when the vote didn't
		come from a digest (e.g. in-app browsing). The empty-string sentinel
		keeps the composite key total so the uniqueness holds.
FeedbackType: positive | negative | not_relevant
CreatedAt: time the first vote for the tuple was recorded
UpdatedAt: time of the latest vote for the tuple

A repeat submission for the same tuple overwrites FeedbackType in place.
The weight delta applied on overwrite is new effect minus old effect, so a
vote is never double-counted.
*/
type Feedback struct {
	UserID       string `gorm:"primaryKey"`
	ArticleID    string `gorm:"primaryKey"`
	DigestID     string `gorm:"primaryKey"`
	FeedbackType string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
