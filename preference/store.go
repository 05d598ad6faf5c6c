package preference

import (
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/digestmux/digestmux/model"
	Logger "github.com/digestmux/digestmux/utils/log"
)

// Feedback effect on every entity weight of the voted article. A repeated
// vote applies new effect minus old effect, so flipping positive to negative
// shifts the weight by -0.2 net, never -0.1 twice.
const (
	PositiveEffect = 0.10
	NegativeEffect = -0.10
)

// How many times a conflicting feedback transaction is re-run before giving
// up. Conflicts only happen when two clients race on the very same
// (user, article, digest) tuple.
const applyFeedbackAttempts = 2

// Snapshot is the read-only per-kind view of a user's learned weights,
// exposed for transparency and debugging.
type Snapshot struct {
	CompanyWeights  map[string]float64 `json:"company_weights"`
	IndustryWeights map[string]float64 `json:"industry_weights"`
	TopicWeights    map[string]float64 `json:"topic_weights"`
}

// Store owns every read and write of per-user preference weights. All
// mutation goes through ApplyFeedback, which serializes at the storage layer:
// the clamp happens inside a single UPDATE statement per (user, entity) key,
// so concurrent submissions can interleave but never lose updates.
type Store struct {
	DB *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{DB: db}
}

func effectOf(feedbackType string) (float64, error) {
	switch feedbackType {
	case model.FeedbackPositive:
		return PositiveEffect, nil
	case model.FeedbackNegative, model.FeedbackNotRelevant:
		return NegativeEffect, nil
	default:
		return 0, errors.Errorf("unknown feedback type: %s", feedbackType)
	}
}

// GetWeight returns the stored weight for (user, kind, name), or the 0.5
// default for unseen entities. It never fails: lookup errors are logged and
// answered with the default so that scoring stays available.
func (s *Store) GetWeight(userID string, kind string, name string) float64 {
	var w model.PreferenceWeight
	res := s.DB.Where(
		"user_id = ? AND entity_kind = ? AND entity_name = ?",
		userID, kind, name,
	).First(&w)
	if res.Error != nil {
		if !errors.Is(res.Error, gorm.ErrRecordNotFound) {
			Logger.Log.Errorf("fail to read preference weight for user %s: %v", userID, res.Error)
		}
		return model.DefaultWeight
	}
	return w.Weight
}

// GetSnapshot returns every stored weight of the user grouped by entity kind.
func (s *Store) GetSnapshot(userID string) (*Snapshot, error) {
	var rows []model.PreferenceWeight
	if err := s.DB.Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "fail to read preference weights")
	}

	snapshot := &Snapshot{
		CompanyWeights:  map[string]float64{},
		IndustryWeights: map[string]float64{},
		TopicWeights:    map[string]float64{},
	}
	for _, row := range rows {
		switch row.EntityKind {
		case model.EntityKindCompany:
			snapshot.CompanyWeights[row.EntityName] = row.Weight
		case model.EntityKindIndustry:
			snapshot.IndustryWeights[row.EntityName] = row.Weight
		case model.EntityKindTopic:
			snapshot.TopicWeights[row.EntityName] = row.Weight
		}
	}
	return snapshot, nil
}

// ApplyFeedback records one vote for (user, article, digest) and shifts the
// weight of every entity tag on the article by the vote's effect.
//
// Idempotency: a repeat submission for the same tuple overwrites the stored
// feedback type and applies (new effect - old effect). Submitting the same
// type twice is a no-op.
func (s *Store) ApplyFeedback(userID string, article *model.Article, digestID string, feedbackType string, now time.Time) error {
	newEffect, err := effectOf(feedbackType)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < applyFeedbackAttempts; attempt++ {
		lastErr = s.applyFeedbackOnce(userID, article, digestID, feedbackType, newEffect, now)
		if lastErr == nil {
			return nil
		}
	}
	return errors.Wrap(lastErr, "fail to apply feedback after retries")
}

func (s *Store) applyFeedbackOnce(userID string, article *model.Article, digestID string, feedbackType string, newEffect float64, now time.Time) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		var existing model.Feedback
		res := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where(
			"user_id = ? AND article_id = ? AND digest_id = ?",
			userID, article.Id, digestID,
		).First(&existing)

		oldEffect := 0.0
		if res.Error == nil {
			if existing.FeedbackType == feedbackType {
				// Same vote resubmitted, nothing to apply.
				return nil
			}
			effect, err := effectOf(existing.FeedbackType)
			if err != nil {
				return err
			}
			oldEffect = effect

			if err := tx.Model(&model.Feedback{}).Where(
				"user_id = ? AND article_id = ? AND digest_id = ?",
				userID, article.Id, digestID,
			).Updates(map[string]interface{}{
				"feedback_type": feedbackType,
				"updated_at":    now,
			}).Error; err != nil {
				return errors.Wrap(err, "fail to overwrite feedback")
			}
		} else if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			feedback := model.Feedback{
				UserID:       userID,
				ArticleID:    article.Id,
				DigestID:     digestID,
				FeedbackType: feedbackType,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			// A concurrent submission for the same tuple may have inserted
			// between our lock attempt and here. Zero rows affected means we
			// lost the race, error out so the outer retry re-reads.
			created := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&feedback)
			if created.Error != nil {
				return errors.Wrap(created.Error, "fail to insert feedback")
			}
			if created.RowsAffected == 0 {
				return errors.New("concurrent feedback insert, retry")
			}
		} else {
			return errors.Wrap(res.Error, "fail to look up feedback")
		}

		delta := newEffect - oldEffect
		for _, tag := range article.AllTags() {
			if err := shiftWeight(tx, userID, tag.Kind, tag.Name, delta, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// shiftWeight moves one (user, entity) weight by delta, saturating at the
// [0, 1] bounds. The row is seeded at the 0.5 default on first touch; the
// clamped shift is a single UPDATE so there is no read-modify-write window.
func shiftWeight(tx *gorm.DB, userID string, kind string, name string, delta float64, now time.Time) error {
	seed := model.PreferenceWeight{
		UserID:     userID,
		EntityKind: kind,
		EntityName: name,
		Weight:     model.DefaultWeight,
		UpdatedAt:  now,
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return errors.Wrap(err, "fail to seed preference weight")
	}

	if err := tx.Model(&model.PreferenceWeight{}).Where(
		"user_id = ? AND entity_kind = ? AND entity_name = ?",
		userID, kind, name,
	).Updates(map[string]interface{}{
		"weight":     gorm.Expr("LEAST(1.0, GREATEST(0.0, weight + ?))", delta),
		"updated_at": now,
	}).Error; err != nil {
		return errors.Wrap(err, "fail to shift preference weight")
	}
	return nil
}
