package selection

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/digestmux/digestmux/model"
	"github.com/digestmux/digestmux/scoring"
)

type fakeWeights map[string]float64

func (f fakeWeights) GetWeight(userID string, kind string, name string) float64 {
	if w, ok := f[kind+"/"+name]; ok {
		return w
	}
	return model.DefaultWeight
}

var testNow = time.Date(2021, 1, 15, 12, 0, 0, 0, time.UTC)

func newSelector(floor float64) *Selector {
	return NewSelector(scoring.NewScorer(fakeWeights{}), floor)
}

func newUser() *model.User {
	return &model.User{Id: "user-1", SubscribedCompanies: "acme"}
}

func freshArticle(id string, company string) *model.Article {
	return &model.Article{
		Id:          id,
		PublishedAt: testNow.Add(-time.Hour),
		Companies:   company,
		IsCanonical: true,
	}
}

func TestSelectReturnsAtMostTarget(t *testing.T) {
	selector := newSelector(0)
	user := newUser()

	pool := []*model.Article{}
	for i := 0; i < 12; i++ {
		pool = append(pool, freshArticle(fmt.Sprintf("a-%02d", i), "acme"))
	}

	selected := selector.Select(user, pool, 4, testNow)
	assert.Len(t, selected, 4)

	selected = selector.Select(user, pool, 20, testNow)
	assert.Len(t, selected, 12)

	assert.Empty(t, selector.Select(user, nil, 4, testNow))
	assert.Empty(t, selector.Select(user, pool, 0, testNow))
}

func TestSelectOrderIsDeterministic(t *testing.T) {
	selector := newSelector(0)
	user := newUser()

	// Identical content except ids: ties break by id ascending because the
	// publish instants are equal too.
	pool := []*model.Article{
		freshArticle("c", "acme"),
		freshArticle("a", "acme"),
		freshArticle("b", "acme"),
	}

	selected := selector.Select(user, pool, 3, testNow)
	assert.Equal(t, []string{"a", "b", "c"}, []string{selected[0].Id, selected[1].Id, selected[2].Id})
}

func TestSelectPrefersMoreRecentOnTiedScore(t *testing.T) {
	selector := newSelector(0)
	user := newUser()

	older := freshArticle("older", "acme")
	older.PublishedAt = testNow.Add(-2 * time.Hour)
	newer := freshArticle("newer", "acme")

	// Both inside the 0-6h recency step, so the composite scores are equal
	// and the publish time breaks the tie.
	selected := selector.Select(user, []*model.Article{older, newer}, 1, testNow)
	assert.Equal(t, "newer", selected[0].Id)
}

func TestSelectSpreadsAcrossCompanies(t *testing.T) {
	selector := newSelector(0)
	user := &model.User{Id: "user-1", SubscribedCompanies: "acme,globex"}

	pool := []*model.Article{
		freshArticle("acme-1", "acme"),
		freshArticle("acme-2", "acme"),
		freshArticle("globex-1", "globex"),
	}

	// After one acme article is in, the diversity penalty pushes the second
	// acme article below the globex one.
	selected := selector.Select(user, pool, 2, testNow)
	assert.Len(t, selected, 2)
	assert.NotEqual(t, selected[0].Companies, selected[1].Companies)
}

func TestSelectAppliesFloorOnUndersizedPool(t *testing.T) {
	selector := newSelector(35)
	user := newUser()

	good := freshArticle("good", "acme")

	zero := 0.0
	filler := &model.Article{
		Id:           "filler",
		PublishedAt:  testNow.Add(-200 * time.Hour),
		Companies:    "initech",
		QualityScore: &zero,
		IsCanonical:  true,
	}

	// Pool smaller than target: better to send one good article than pad the
	// digest with irrelevant filler.
	selected := selector.Select(user, []*model.Article{good, filler}, 5, testNow)
	assert.Len(t, selected, 1)
	assert.Equal(t, "good", selected[0].Id)
}
