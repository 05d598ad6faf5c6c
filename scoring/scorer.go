package scoring

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/digestmux/digestmux/model"
	"github.com/digestmux/digestmux/utils"
)

// Composite factor weights. Fixed contract values, not tunable per call.
const (
	prefMatchWeight  = 0.30
	engagementWeight = 0.25
	recencyWeight    = 0.20
	qualityWeight    = 0.15
	diversityWeight  = 0.10
)

// Preference-match tiers. The highest applicable tier wins, tiers are never
// summed.
const (
	companyMatchScore  = 100.0
	industryMatchScore = 75.0
	topicMatchScore    = 50.0
	anyOverlapScore    = 25.0
)

// Articles without any tags score a neutral engagement.
const neutralEngagement = 50.0

// Recency step boundaries (hours) and the decay constant of the tail. The
// steps make the freshest content win outright, the exponential tail orders
// everything older than a day.
const (
	recencyDecayRate = 0.1
	staleAfterHours  = 24.0
)

// Each already-selected article sharing a company or industry tag with the
// candidate costs this much diversity.
const diversityPenalty = 25.0

// WeightReader is the narrow read surface the scorer needs from the
// preference store. GetWeight returns the learned weight in [0, 1] or the
// 0.5 default for unseen entities, and never fails.
type WeightReader interface {
	GetWeight(userID string, kind string, name string) float64
}

// Scorer computes the 0-100 composite relevance of one (user, article) pair.
// It is a pure function of its inputs and the injected instant, modulo the
// weight reads, which are externally owned state. Scores are only comparable
// within one user's candidate pool.
type Scorer struct {
	weights WeightReader
}

func NewScorer(weights WeightReader) *Scorer {
	return &Scorer{weights: weights}
}

// Score returns the composite relevance of article for user at instant now,
// given the digest built so far. The diversity term depends on
// alreadySelected, which is why callers re-score remaining candidates as the
// selection accumulates.
func (s *Scorer) Score(user *model.User, article *model.Article, alreadySelected []*model.Article, now time.Time) float64 {
	return prefMatchWeight*prefMatchScore(user, article) +
		engagementWeight*s.engagementScore(user.Id, article) +
		recencyWeight*RecencyScore(article.PublishedAt, now) +
		qualityWeight*qualityScore(article) +
		diversityWeight*diversityScore(article, alreadySelected)
}

// prefMatchScore scores explicit subscriptions by tier: company beats
// industry beats topic beats any overlap at all.
func prefMatchScore(user *model.User, article *model.Article) float64 {
	if utils.StringIntersects(user.SubscribedCompanyList(), article.CompanyList()) {
		return companyMatchScore
	}
	if utils.StringIntersects(user.SubscribedIndustryList(), article.IndustryList()) {
		return industryMatchScore
	}
	if utils.StringIntersects(user.SubscribedTopicList(), article.TopicList()) {
		return topicMatchScore
	}

	userTags := append(append(user.SubscribedCompanyList(), user.SubscribedIndustryList()...), user.SubscribedTopicList()...)
	articleTags := append(append(article.CompanyList(), article.IndustryList()...), article.TopicList()...)
	if utils.StringIntersects(userTags, articleTags) {
		return anyOverlapScore
	}
	return 0
}

// engagementScore averages the learned weight over every tag on the article,
// scaled to 0-100. Untagged articles are neutral.
func (s *Scorer) engagementScore(userID string, article *model.Article) float64 {
	tags := article.AllTags()
	if len(tags) == 0 {
		return neutralEngagement
	}

	scores := make([]float64, 0, len(tags))
	for _, tag := range tags {
		scores = append(scores, s.weights.GetWeight(userID, tag.Kind, tag.Name)*100)
	}
	return stat.Mean(scores, nil)
}

// RecencyScore maps article age onto 0-100: a step function inside the first
// day (fresh content wins outright), an exponential tail beyond it.
func RecencyScore(publishedAt time.Time, now time.Time) float64 {
	ageHours := now.Sub(publishedAt).Hours()
	switch {
	case ageHours <= 6:
		return 100
	case ageHours <= 12:
		return 80
	case ageHours <= 18:
		return 60
	case ageHours <= staleAfterHours:
		return 40
	default:
		return 40 * math.Exp(-recencyDecayRate*(ageHours-staleAfterHours))
	}
}

// qualityScore uses the editorial quality score when present, falls back to
// the ingestion pipeline's secondary score, then to neutral.
func qualityScore(article *model.Article) float64 {
	if article.QualityScore != nil {
		return clamp(*article.QualityScore, 0, 100)
	}
	if article.SecondaryScore != nil {
		return clamp(*article.SecondaryScore, 0, 100)
	}
	return 50
}

// diversityScore penalizes the candidate for every already-selected article
// it shares a company or industry tag with, floored at 0.
func diversityScore(article *model.Article, alreadySelected []*model.Article) float64 {
	score := 100.0
	for _, selected := range alreadySelected {
		if sharesCompanyOrIndustry(article, selected) {
			score -= diversityPenalty
		}
	}
	if score < 0 {
		return 0
	}
	return score
}

func sharesCompanyOrIndustry(a *model.Article, b *model.Article) bool {
	return utils.StringIntersects(a.CompanyList(), b.CompanyList()) ||
		utils.StringIntersects(a.IndustryList(), b.IndustryList())
}

func clamp(v float64, lo float64, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
