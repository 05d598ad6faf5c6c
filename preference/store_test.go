package preference

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digestmux/digestmux/model"
	"github.com/digestmux/digestmux/utils"
	"github.com/digestmux/digestmux/utils/dotenv"
)

func TestMain(m *testing.M) {
	dotenv.LoadDotEnvsInTests()
	os.Exit(m.Run())
}

func taggedArticle() *model.Article {
	return &model.Article{
		Id:          "article-1",
		Companies:   "acme",
		Industries:  "automotive",
		Topics:      "ai",
		IsCanonical: true,
	}
}

func TestGetWeightDefaultsForUnseenEntity(t *testing.T) {
	db, _ := utils.CreateTempDB(t)
	store := NewStore(db)

	assert.Equal(t, 0.5, store.GetWeight("user-1", model.EntityKindCompany, "acme"))
}

func TestApplyPositiveFeedbackShiftsEveryTag(t *testing.T) {
	db, _ := utils.CreateTempDB(t)
	store := NewStore(db)
	article := taggedArticle()

	require.NoError(t, store.ApplyFeedback("user-1", article, "digest-1", model.FeedbackPositive, time.Now()))

	assert.InDelta(t, 0.6, store.GetWeight("user-1", model.EntityKindCompany, "acme"), 1e-9)
	assert.InDelta(t, 0.6, store.GetWeight("user-1", model.EntityKindIndustry, "automotive"), 1e-9)
	assert.InDelta(t, 0.6, store.GetWeight("user-1", model.EntityKindTopic, "ai"), 1e-9)
}

func TestRepeatedIdenticalFeedbackIsIdempotent(t *testing.T) {
	db, _ := utils.CreateTempDB(t)
	store := NewStore(db)
	article := taggedArticle()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.ApplyFeedback("user-1", article, "digest-1", model.FeedbackPositive, time.Now()))
	}

	// The net delta equals one application of the effect, not five.
	assert.InDelta(t, 0.6, store.GetWeight("user-1", model.EntityKindCompany, "acme"), 1e-9)

	var count int64
	db.Model(&model.Feedback{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestFlippingVoteAppliesNetDelta(t *testing.T) {
	db, _ := utils.CreateTempDB(t)
	store := NewStore(db)
	article := taggedArticle()

	require.NoError(t, store.ApplyFeedback("user-1", article, "digest-1", model.FeedbackPositive, time.Now()))
	require.NoError(t, store.ApplyFeedback("user-1", article, "digest-1", model.FeedbackNegative, time.Now()))

	// positive (+0.1) flipped to negative must land at 0.4: a net -0.2 shift
	// from the updated weight, not -0.1 applied twice from 0.5.
	assert.InDelta(t, 0.4, store.GetWeight("user-1", model.EntityKindCompany, "acme"), 1e-9)

	// Still a single feedback row for the tuple.
	var count int64
	db.Model(&model.Feedback{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestSameArticleDifferentDigestIsSeparateVote(t *testing.T) {
	db, _ := utils.CreateTempDB(t)
	store := NewStore(db)
	article := taggedArticle()

	require.NoError(t, store.ApplyFeedback("user-1", article, "digest-1", model.FeedbackPositive, time.Now()))
	require.NoError(t, store.ApplyFeedback("user-1", article, "digest-2", model.FeedbackPositive, time.Now()))

	assert.InDelta(t, 0.7, store.GetWeight("user-1", model.EntityKindCompany, "acme"), 1e-9)
}

func TestWeightsSaturateAtBounds(t *testing.T) {
	db, _ := utils.CreateTempDB(t)
	store := NewStore(db)
	article := taggedArticle()

	// Ten distinct negative votes drive the weight to the floor, not below.
	for i := 0; i < 10; i++ {
		digestID := "digest-" + string(rune('a'+i))
		require.NoError(t, store.ApplyFeedback("user-1", article, digestID, model.FeedbackNegative, time.Now()))
	}
	assert.Equal(t, 0.0, store.GetWeight("user-1", model.EntityKindCompany, "acme"))

	for i := 0; i < 20; i++ {
		digestID := "updigest-" + string(rune('a'+i))
		require.NoError(t, store.ApplyFeedback("user-1", article, digestID, model.FeedbackPositive, time.Now()))
	}
	assert.Equal(t, 1.0, store.GetWeight("user-1", model.EntityKindCompany, "acme"))
}

func TestNotRelevantActsLikeNegative(t *testing.T) {
	db, _ := utils.CreateTempDB(t)
	store := NewStore(db)
	article := taggedArticle()

	require.NoError(t, store.ApplyFeedback("user-1", article, "", model.FeedbackNotRelevant, time.Now()))
	assert.InDelta(t, 0.4, store.GetWeight("user-1", model.EntityKindCompany, "acme"), 1e-9)
}

func TestUnknownFeedbackTypeRejected(t *testing.T) {
	db, _ := utils.CreateTempDB(t)
	store := NewStore(db)

	err := store.ApplyFeedback("user-1", taggedArticle(), "", "meh", time.Now())
	assert.Error(t, err)
}

func TestGetSnapshotGroupsByKind(t *testing.T) {
	db, _ := utils.CreateTempDB(t)
	store := NewStore(db)

	require.NoError(t, store.ApplyFeedback("user-1", taggedArticle(), "digest-1", model.FeedbackPositive, time.Now()))

	snapshot, err := store.GetSnapshot("user-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.6, snapshot.CompanyWeights["acme"], 1e-9)
	assert.InDelta(t, 0.6, snapshot.IndustryWeights["automotive"], 1e-9)
	assert.InDelta(t, 0.6, snapshot.TopicWeights["ai"], 1e-9)

	// Another user's snapshot stays empty.
	other, err := store.GetSnapshot("user-2")
	require.NoError(t, err)
	assert.Empty(t, other.CompanyWeights)
}
