package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/digestmux/digestmux/model"
	"github.com/digestmux/digestmux/selection"
	"github.com/digestmux/digestmux/utils"
	Logger "github.com/digestmux/digestmux/utils/log"
)

type DispatcherConfig struct {
	// Name of the dispatcher module.
	Name string

	// Number of users digested concurrently within one batch.
	WorkerPoolSize int

	// How far back the candidate pool reaches.
	CandidateLookback time.Duration

	// Candidate pool size as a multiple of the user's digest size.
	CandidatePoolMultiplier int

	// Additional send attempts after the first failure.
	SendMaxRetries int

	// Base of the exponential send backoff.
	SendBackoffBase time.Duration
}

// BatchReport summarizes one hourly enumeration for operational logging.
type BatchReport struct {
	Examined   int
	NotDue     int
	Sent       int
	Failed     int
	Reconciled int
	Skipped    int
}

// Dispatcher consumes tick events and runs the hourly batch: it enumerates
// every active user, decides per user whether a digest is due in the user's
// own timezone, and drives claim -> select -> send -> record for the due
// ones. Users are independent units of work processed by a bounded worker
// pool; one user's failure is recorded and never aborts another user's
// dispatch, the batch always completes its full enumeration.
type Dispatcher struct {
	Config DispatcherConfig

	DB       *gorm.DB
	EventBus *gochannel.GoChannel

	selector *selection.Selector
	sender   Sender

	// Optional redis mirror for the digest-status monitoring read path. A nil
	// store disables mirroring, the DB row is always written regardless.
	status *utils.RedisStatusStore
}

func NewDispatcher(
	config DispatcherConfig,
	db *gorm.DB,
	e *gochannel.GoChannel,
	selector *selection.Selector,
	sender Sender,
	status *utils.RedisStatusStore,
) *Dispatcher {
	return &Dispatcher{
		Config:   config,
		DB:       db,
		EventBus: e,
		selector: selector,
		sender:   sender,
		status:   status,
	}
}

func (d *Dispatcher) RunModule(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	messages, err := d.EventBus.Subscribe(ctx, TopicHourlyTick)
	if err != nil {
		return err
	}

	for msg := range messages {
		msg.Ack()

		now, err := time.Parse(time.RFC3339, string(msg.Payload))
		if err != nil {
			Logger.Log.Errorf("fail to parse tick payload %q, using wall clock: %v", string(msg.Payload), err)
			now = time.Now().UTC()
		}

		report := d.RunBatch(ctx, now)
		Logger.Log.Infof(
			"dispatch batch done: examined=%d not_due=%d sent=%d failed=%d reconciled=%d skipped=%d",
			report.Examined, report.NotDue, report.Sent, report.Failed, report.Reconciled, report.Skipped,
		)
	}

	return nil
}

func (d *Dispatcher) Name() string {
	return d.Config.Name
}

func (d *Dispatcher) Shutdown() {
	Logger.Log.Infoln("Module ", d.Config.Name, " gracefully shutdown")
}

// A pending digest row older than this is considered abandoned by a killed
// process and is re-attempted. Anything younger is assumed in flight.
const reconcileAfter = 30 * time.Minute

// Per-user outcome of one batch iteration.
type userOutcome int

const (
	outcomeNotDue userOutcome = iota
	outcomeSent
	outcomeFailed
	outcomeReconciled
	outcomeSkipped
)

// RunBatch enumerates every active user once, against the injected tick
// instant. Exported so the batch is testable without the event bus.
func (d *Dispatcher) RunBatch(ctx context.Context, now time.Time) BatchReport {
	report := BatchReport{}

	var users []model.User
	if err := d.DB.Where("status = ?", model.UserStatusActive).Find(&users).Error; err != nil {
		Logger.Log.Errorf("fail to enumerate active users: %v", err)
		return report
	}
	report.Examined = len(users)

	poolSize := d.Config.WorkerPoolSize
	if poolSize < 1 {
		poolSize = 1
	}

	var m sync.Mutex
	var wg sync.WaitGroup
	jobs := make(chan model.User)

	for i := 0; i < poolSize; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for user := range jobs {
				outcome := d.processUser(ctx, &user, now)
				m.Lock()
				switch outcome {
				case outcomeNotDue:
					report.NotDue++
				case outcomeSent:
					report.Sent++
				case outcomeFailed:
					report.Failed++
				case outcomeReconciled:
					report.Reconciled++
				case outcomeSkipped:
					report.Skipped++
				}
				m.Unlock()
			}
		}()
	}

	for _, user := range users {
		jobs <- user
	}
	close(jobs)
	wg.Wait()

	return report
}

// processUser runs the per-user state machine for one tick. Every error path
// is terminal for this user only.
func (d *Dispatcher) processUser(ctx context.Context, user *model.User, now time.Time) userOutcome {
	loc, err := time.LoadLocation(user.Timezone)
	if err != nil {
		Logger.Log.Errorf("fail to load timezone %q for user %s: %v", user.Timezone, user.Id, err)
		return outcomeSkipped
	}

	local := now.In(loc)
	localDate := local.Format(model.DigestDateLayout)

	var existing model.Digest
	res := d.DB.Where("user_id = ? AND digest_date = ?", user.Id, localDate).First(&existing)
	if res.Error == nil {
		if existing.DeliveryStatus != model.DigestStatusPending {
			// Already concluded today, the uniqueness row blocks a second send.
			return outcomeNotDue
		}
		if now.Sub(existing.ScheduledFor) < reconcileAfter {
			// Claimed by a near-simultaneous tick that is still in flight,
			// leave it alone rather than racing it to a double send.
			return outcomeNotDue
		}
		// A previous process died between claim and record. Re-attempt against
		// the same row; it is never recreated.
		if d.buildAndSend(ctx, user, &existing, now) != nil {
			return outcomeFailed
		}
		return outcomeReconciled
	}
	if !errors.Is(res.Error, gorm.ErrRecordNotFound) {
		Logger.Log.Errorf("fail to look up digest for user %s: %v", user.Id, res.Error)
		return outcomeSkipped
	}

	// Minute granularity is intentionally ignored: a user asking for 08:30 is
	// dispatched during local hour 8.
	if local.Hour() != user.DeliveryHour || !user.DeliversOn(local.Weekday()) {
		return outcomeNotDue
	}

	claim := model.Digest{
		Id:             uuid.New().String(),
		CreatedAt:      now,
		UserID:         user.Id,
		DigestDate:     localDate,
		ScheduledFor:   now.UTC(),
		DeliveryStatus: model.DigestStatusPending,
	}
	created := d.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&claim)
	if created.Error != nil {
		Logger.Log.Errorf("fail to claim digest for user %s: %v", user.Id, created.Error)
		return outcomeSkipped
	}
	if created.RowsAffected == 0 {
		// An at-least-once trigger fired twice within the hour; the unique
		// (user, date) row is the sole safety net and it held.
		return outcomeNotDue
	}

	if d.buildAndSend(ctx, user, &claim, now) != nil {
		return outcomeFailed
	}
	return outcomeSent
}

// buildAndSend selects the digest content, invokes the send collaborator
// with bounded retries, and records the terminal state on the claimed row.
func (d *Dispatcher) buildAndSend(ctx context.Context, user *model.User, digest *model.Digest, now time.Time) error {
	target := user.BoundedArticleCount()

	candidates, err := d.fetchCandidates(target, now)
	if err != nil {
		Logger.Log.Errorf("fail to fetch candidates for user %s: %v", user.Id, err)
		d.recordFailure(user, digest, "candidate fetch failed: "+err.Error())
		return err
	}

	articles := d.selector.Select(user, candidates, target, now)
	if len(articles) == 0 {
		err := errors.New("no candidates above score floor")
		d.recordFailure(user, digest, err.Error())
		return err
	}

	if err := d.sendWithRetries(ctx, user, articles); err != nil {
		Logger.Log.Errorf("fail to send digest to user %s after retries: %v", user.Id, err)
		d.recordFailure(user, digest, err.Error())
		return err
	}

	ids := make([]string, 0, len(articles))
	for _, article := range articles {
		ids = append(ids, article.Id)
	}
	sentAt := time.Now().UTC()
	if err := d.DB.Model(&model.Digest{}).Where("id = ?", digest.Id).Updates(map[string]interface{}{
		"delivery_status": model.DigestStatusSent,
		"sent_at":         sentAt,
		"article_count":   len(articles),
		"article_ids":     model.JoinTags(ids),
		"failure_reason":  "",
	}).Error; err != nil {
		// The send succeeded upstream; the row stays pending and the next tick
		// reconciles it under the same uniqueness guard.
		Logger.Log.Errorf("fail to record sent digest for user %s: %v", user.Id, err)
		return err
	}

	d.mirrorStatus(user.Id, digest.DigestDate, model.DigestStatusSent)
	return nil
}

// fetchCandidates pulls the freshest canonical articles within the lookback
// window, oversized relative to the digest so the diversity term can act.
// Non-canonical rows never enter a candidate pool.
func (d *Dispatcher) fetchCandidates(target int, now time.Time) ([]*model.Article, error) {
	limit := target * d.Config.CandidatePoolMultiplier
	if limit < target {
		limit = target
	}

	var rows []model.Article
	err := d.DB.Where(
		"is_canonical = true AND published_at > ?",
		now.Add(-d.Config.CandidateLookback),
	).Order("published_at DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, err
	}

	candidates := make([]*model.Article, 0, len(rows))
	for i := range rows {
		candidates = append(candidates, &rows[i])
	}
	return candidates, nil
}

// sendWithRetries invokes the send collaborator with exponential backoff.
// Only the send step is retried; scoring and selection are deterministic
// given fixed inputs and rerunning them can't change the outcome.
func (d *Dispatcher) sendWithRetries(ctx context.Context, user *model.User, articles []*model.Article) error {
	backoff := d.Config.SendBackoffBase
	attempts := d.Config.SendMaxRetries + 1

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if lastErr = d.sender.Send(ctx, user, articles); lastErr == nil {
			return nil
		}
		Logger.Log.Errorf("send attempt %d for user %s failed: %v", attempt+1, user.Id, lastErr)
	}
	return lastErr
}

func (d *Dispatcher) recordFailure(user *model.User, digest *model.Digest, reason string) {
	if err := d.DB.Model(&model.Digest{}).Where("id = ?", digest.Id).Updates(map[string]interface{}{
		"delivery_status": model.DigestStatusFailed,
		"failure_reason":  reason,
	}).Error; err != nil {
		Logger.Log.Errorf("fail to record failed digest for user %s: %v", user.Id, err)
		return
	}
	d.mirrorStatus(user.Id, digest.DigestDate, model.DigestStatusFailed)
}

func (d *Dispatcher) mirrorStatus(userID string, date string, status string) {
	if d.status == nil {
		return
	}
	if err := d.status.SetDigestStatus(userID, date, status); err != nil {
		Logger.Log.Errorf("fail to mirror digest status for user %s: %v", userID, err)
	}
}
