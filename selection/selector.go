package selection

import (
	"time"

	"github.com/digestmux/digestmux/model"
	"github.com/digestmux/digestmux/scoring"
)

// Selector greedily picks a digest out of an oversized candidate pool.
// Callers should provide the pool at >= 3x the target count so the diversity
// term has room to act.
type Selector struct {
	scorer *scoring.Scorer

	// Minimum composite score for selection when the pool is smaller than
	// the target count. Better to send fewer articles than irrelevant filler.
	scoreFloor float64
}

func NewSelector(scorer *scoring.Scorer, scoreFloor float64) *Selector {
	return &Selector{scorer: scorer, scoreFloor: scoreFloor}
}

// Select returns at most targetCount articles in selection order, most
// relevant first. Every remaining candidate is re-scored against the digest
// built so far on each iteration, because the diversity term is not a static
// per-article property. Ties break by most recent PublishedAt, then by
// article id, so selection is deterministic given fixed inputs.
func (s *Selector) Select(user *model.User, pool []*model.Article, targetCount int, now time.Time) []*model.Article {
	if targetCount <= 0 || len(pool) == 0 {
		return nil
	}

	// The score floor only gates selection when the caller couldn't fill the
	// pool to the target size, in which case sending fewer beats padding.
	applyFloor := len(pool) < targetCount

	remaining := make([]*model.Article, len(pool))
	copy(remaining, pool)

	selected := []*model.Article{}
	for len(selected) < targetCount && len(remaining) > 0 {
		bestIdx := 0
		bestScore := s.scorer.Score(user, remaining[0], selected, now)
		for i := 1; i < len(remaining); i++ {
			score := s.scorer.Score(user, remaining[i], selected, now)
			if beats(remaining[i], score, remaining[bestIdx], bestScore) {
				bestIdx = i
				bestScore = score
			}
		}

		if applyFloor && bestScore < s.scoreFloor {
			break
		}

		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return selected
}

// beats reports whether candidate (with score) should be picked over the
// current best.
func beats(candidate *model.Article, score float64, best *model.Article, bestScore float64) bool {
	if score != bestScore {
		return score > bestScore
	}
	if !candidate.PublishedAt.Equal(best.PublishedAt) {
		return candidate.PublishedAt.After(best.PublishedAt)
	}
	return candidate.Id < best.Id
}
