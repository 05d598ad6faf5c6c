package dispatch

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/digestmux/digestmux/model"
	"github.com/digestmux/digestmux/preference"
	"github.com/digestmux/digestmux/scoring"
	"github.com/digestmux/digestmux/selection"
	"github.com/digestmux/digestmux/utils"
	"github.com/digestmux/digestmux/utils/dotenv"
)

func TestMain(m *testing.M) {
	dotenv.LoadDotEnvsInTests()
	os.Exit(m.Run())
}

// 13:00 UTC is 08:00 in America/New_York outside DST.
var tickInstant = time.Date(2021, 1, 15, 13, 0, 0, 0, time.UTC)

// fakeSender records every delivery and can be told to fail per user.
type fakeSender struct {
	m        sync.Mutex
	calls    map[string]int
	failFor  map[string]bool
	lastSent map[string][]*model.Article
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		calls:    map[string]int{},
		failFor:  map[string]bool{},
		lastSent: map[string][]*model.Article{},
	}
}

func (s *fakeSender) Send(ctx context.Context, user *model.User, articles []*model.Article) error {
	s.m.Lock()
	defer s.m.Unlock()
	s.calls[user.Id]++
	if s.failFor[user.Id] {
		return assert.AnError
	}
	s.lastSent[user.Id] = articles
	return nil
}

func (s *fakeSender) callCount(userID string) int {
	s.m.Lock()
	defer s.m.Unlock()
	return s.calls[userID]
}

func newTestDispatcher(db *gorm.DB, sender Sender) *Dispatcher {
	selector := selection.NewSelector(scoring.NewScorer(preference.NewStore(db)), 0)
	return NewDispatcher(DispatcherConfig{
		Name:                    "dispatcher",
		WorkerPoolSize:          4,
		CandidateLookback:       48 * time.Hour,
		CandidatePoolMultiplier: 3,
		SendMaxRetries:          2,
		SendBackoffBase:         time.Millisecond,
	}, db, nil, selector, sender, nil)
}

func createTestUser(t *testing.T, db *gorm.DB, id string) *model.User {
	t.Helper()
	user := &model.User{
		Id:                  id,
		CreatedAt:           tickInstant.Add(-24 * time.Hour),
		Email:               id + "@example.com",
		Status:              model.UserStatusActive,
		DeliveryHour:        8,
		Timezone:            "America/New_York",
		DeliveryDays:        model.MarshalDeliveryDays([]int{1, 2, 3, 4, 5, 6, 7}),
		DigestFrequency:     model.DigestFrequencyDaily,
		ArticleCount:        3,
		SubscribedCompanies: "acme",
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func createCanonicalArticles(t *testing.T, db *gorm.DB, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		article := &model.Article{
			Id:          uuid.New().String(),
			CreatedAt:   tickInstant.Add(-2 * time.Hour),
			Title:       "article",
			Url:         "https://news.example/" + uuid.New().String(),
			PublishedAt: tickInstant.Add(-time.Duration(i+1) * time.Hour),
			Companies:   "acme",
			ContentHash: uuid.New().String(),
			IsCanonical: true,
		}
		require.NoError(t, db.Create(article).Error)
	}
}

func digestRowsFor(t *testing.T, db *gorm.DB, userID string) []model.Digest {
	t.Helper()
	var rows []model.Digest
	require.NoError(t, db.Where("user_id = ?", userID).Find(&rows).Error)
	return rows
}

func TestDispatchDueUser(t *testing.T) {
	db, _ := utils.CreateTempDB(t)
	sender := newFakeSender()
	dispatcher := newTestDispatcher(db, sender)

	user := createTestUser(t, db, "user-1")
	createCanonicalArticles(t, db, 9)

	report := dispatcher.RunBatch(context.Background(), tickInstant)
	assert.Equal(t, 1, report.Examined)
	assert.Equal(t, 1, report.Sent)

	rows := digestRowsFor(t, db, user.Id)
	require.Len(t, rows, 1)
	assert.Equal(t, model.DigestStatusSent, rows[0].DeliveryStatus)
	assert.Equal(t, "2021-01-15", rows[0].DigestDate)
	assert.Equal(t, 3, rows[0].ArticleCount)
	assert.NotNil(t, rows[0].SentAt)
	assert.Len(t, rows[0].ArticleIdList(), 3)
	assert.Equal(t, 1, sender.callCount(user.Id))
}

func TestDispatchTwiceSameHourSendsOnce(t *testing.T) {
	db, _ := utils.CreateTempDB(t)
	sender := newFakeSender()
	dispatcher := newTestDispatcher(db, sender)

	user := createTestUser(t, db, "user-1")
	createCanonicalArticles(t, db, 9)

	dispatcher.RunBatch(context.Background(), tickInstant)
	// The trigger is at-least-once; a second tick in the same hour must be a
	// no-op because the (user, date) row already exists.
	report := dispatcher.RunBatch(context.Background(), tickInstant.Add(5*time.Minute))
	assert.Equal(t, 0, report.Sent)

	assert.Len(t, digestRowsFor(t, db, user.Id), 1)
	assert.Equal(t, 1, sender.callCount(user.Id))
}

func TestDispatchNotDueOutsideDeliveryHour(t *testing.T) {
	db, _ := utils.CreateTempDB(t)
	sender := newFakeSender()
	dispatcher := newTestDispatcher(db, sender)

	user := createTestUser(t, db, "user-1")
	createCanonicalArticles(t, db, 9)

	// 14:00 UTC is 09:00 local, one hour past the user's window.
	report := dispatcher.RunBatch(context.Background(), tickInstant.Add(time.Hour))
	assert.Equal(t, 1, report.NotDue)
	assert.Empty(t, digestRowsFor(t, db, user.Id))
	assert.Equal(t, 0, sender.callCount(user.Id))
}

func TestDispatchSkipsNonDeliveryDay(t *testing.T) {
	db, _ := utils.CreateTempDB(t)
	sender := newFakeSender()
	dispatcher := newTestDispatcher(db, sender)

	user := createTestUser(t, db, "user-1")
	// 2021-01-15 is a Friday (ISO 5); user only wants Mondays.
	user.DeliveryDays = model.MarshalDeliveryDays([]int{1})
	require.NoError(t, db.Save(user).Error)
	createCanonicalArticles(t, db, 9)

	report := dispatcher.RunBatch(context.Background(), tickInstant)
	assert.Equal(t, 1, report.NotDue)
	assert.Empty(t, digestRowsFor(t, db, user.Id))
}

func TestDispatchIgnoresInactiveUsers(t *testing.T) {
	db, _ := utils.CreateTempDB(t)
	sender := newFakeSender()
	dispatcher := newTestDispatcher(db, sender)

	user := createTestUser(t, db, "user-1")
	user.Status = model.UserStatusPaused
	require.NoError(t, db.Save(user).Error)
	createCanonicalArticles(t, db, 9)

	report := dispatcher.RunBatch(context.Background(), tickInstant)
	assert.Equal(t, 0, report.Examined)
	assert.Empty(t, digestRowsFor(t, db, user.Id))
}

func TestSendFailureRecordsFailedAfterRetries(t *testing.T) {
	db, _ := utils.CreateTempDB(t)
	sender := newFakeSender()
	sender.failFor["user-1"] = true
	dispatcher := newTestDispatcher(db, sender)

	user := createTestUser(t, db, "user-1")
	createCanonicalArticles(t, db, 9)

	report := dispatcher.RunBatch(context.Background(), tickInstant)
	assert.Equal(t, 1, report.Failed)

	// First attempt plus two retries, then the row is kept as an auditable
	// record of the attempt.
	assert.Equal(t, 3, sender.callCount(user.Id))
	rows := digestRowsFor(t, db, user.Id)
	require.Len(t, rows, 1)
	assert.Equal(t, model.DigestStatusFailed, rows[0].DeliveryStatus)
	assert.NotEmpty(t, rows[0].FailureReason)
}

func TestOneUserFailureDoesNotAbortBatch(t *testing.T) {
	db, _ := utils.CreateTempDB(t)
	sender := newFakeSender()
	sender.failFor["user-1"] = true
	dispatcher := newTestDispatcher(db, sender)

	createTestUser(t, db, "user-1")
	healthy := createTestUser(t, db, "user-2")
	createCanonicalArticles(t, db, 9)

	report := dispatcher.RunBatch(context.Background(), tickInstant)
	assert.Equal(t, 2, report.Examined)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Sent)

	rows := digestRowsFor(t, db, healthy.Id)
	require.Len(t, rows, 1)
	assert.Equal(t, model.DigestStatusSent, rows[0].DeliveryStatus)
}

func TestBrokenTimezoneIsSkippedNotFatal(t *testing.T) {
	db, _ := utils.CreateTempDB(t)
	sender := newFakeSender()
	dispatcher := newTestDispatcher(db, sender)

	broken := createTestUser(t, db, "user-1")
	broken.Timezone = "Not/AZone"
	require.NoError(t, db.Save(broken).Error)
	healthy := createTestUser(t, db, "user-2")
	createCanonicalArticles(t, db, 9)

	report := dispatcher.RunBatch(context.Background(), tickInstant)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Sent)
	assert.Len(t, digestRowsFor(t, db, healthy.Id), 1)
}

func TestReconcileAbandonedPendingDigest(t *testing.T) {
	db, _ := utils.CreateTempDB(t)
	sender := newFakeSender()
	dispatcher := newTestDispatcher(db, sender)

	user := createTestUser(t, db, "user-1")
	createCanonicalArticles(t, db, 9)

	// A previous process claimed the row two hours ago and died before
	// recording an outcome.
	abandoned := model.Digest{
		Id:             uuid.New().String(),
		CreatedAt:      tickInstant.Add(-2 * time.Hour),
		UserID:         user.Id,
		DigestDate:     "2021-01-15",
		ScheduledFor:   tickInstant.Add(-2 * time.Hour),
		DeliveryStatus: model.DigestStatusPending,
	}
	require.NoError(t, db.Create(&abandoned).Error)

	report := dispatcher.RunBatch(context.Background(), tickInstant)
	assert.Equal(t, 1, report.Reconciled)

	// Same row, updated in place, never recreated.
	rows := digestRowsFor(t, db, user.Id)
	require.Len(t, rows, 1)
	assert.Equal(t, abandoned.Id, rows[0].Id)
	assert.Equal(t, model.DigestStatusSent, rows[0].DeliveryStatus)
	assert.Equal(t, 1, sender.callCount(user.Id))
}

func TestFreshPendingClaimIsLeftAlone(t *testing.T) {
	db, _ := utils.CreateTempDB(t)
	sender := newFakeSender()
	dispatcher := newTestDispatcher(db, sender)

	user := createTestUser(t, db, "user-1")
	createCanonicalArticles(t, db, 9)

	inflight := model.Digest{
		Id:             uuid.New().String(),
		CreatedAt:      tickInstant,
		UserID:         user.Id,
		DigestDate:     "2021-01-15",
		ScheduledFor:   tickInstant.Add(-time.Minute),
		DeliveryStatus: model.DigestStatusPending,
	}
	require.NoError(t, db.Create(&inflight).Error)

	report := dispatcher.RunBatch(context.Background(), tickInstant)
	assert.Equal(t, 1, report.NotDue)
	assert.Equal(t, 0, sender.callCount(user.Id))
}

func TestDigestOnlyContainsCanonicalArticles(t *testing.T) {
	db, _ := utils.CreateTempDB(t)
	sender := newFakeSender()
	dispatcher := newTestDispatcher(db, sender)

	user := createTestUser(t, db, "user-1")
	createCanonicalArticles(t, db, 3)

	canonicalID := ""
	require.NoError(t, db.Model(&model.Article{}).Select("id").Where("is_canonical = true").Limit(1).Scan(&canonicalID).Error)
	duplicate := &model.Article{
		Id:            uuid.New().String(),
		Title:         "republished",
		Url:           "https://mirror.example/a",
		PublishedAt:   tickInstant.Add(-time.Hour),
		Companies:     "acme",
		ContentHash:   uuid.New().String(),
		DuplicateOfID: &canonicalID,
		IsCanonical:   false,
	}
	require.NoError(t, db.Create(duplicate).Error)

	dispatcher.RunBatch(context.Background(), tickInstant)

	rows := digestRowsFor(t, db, user.Id)
	require.Len(t, rows, 1)
	assert.NotContains(t, rows[0].ArticleIdList(), duplicate.Id)
}
