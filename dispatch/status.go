package dispatch

import (
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/digestmux/digestmux/model"
	"github.com/digestmux/digestmux/utils"
	Logger "github.com/digestmux/digestmux/utils/log"
)

// ErrNoDigest is returned when no digest exists for the queried (user, date).
var ErrNoDigest = errors.New("no digest for user and date")

// StatusReader answers the operational "what happened to this user's digest
// on this date" query. It reads the redis mirror first and falls back to the
// DB row, which is the source of truth; a DB hit backfills the mirror.
type StatusReader struct {
	DB     *gorm.DB
	status *utils.RedisStatusStore
}

func NewStatusReader(db *gorm.DB, status *utils.RedisStatusStore) *StatusReader {
	return &StatusReader{DB: db, status: status}
}

// Get returns pending, sent or failed, or ErrNoDigest.
func (r *StatusReader) Get(userID string, date string) (string, error) {
	if r.status != nil {
		status, found, err := r.status.GetDigestStatus(userID, date)
		if err != nil {
			Logger.Log.Errorf("fail to read digest status mirror for user %s: %v", userID, err)
		} else if found {
			return status, nil
		}
	}

	var digest model.Digest
	res := r.DB.Where("user_id = ? AND digest_date = ?", userID, date).First(&digest)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return "", ErrNoDigest
		}
		return "", errors.Wrap(res.Error, "fail to read digest status")
	}

	if r.status != nil {
		if err := r.status.SetDigestStatus(userID, date, digest.DeliveryStatus); err != nil {
			Logger.Log.Errorf("fail to backfill digest status mirror for user %s: %v", userID, err)
		}
	}
	return digest.DeliveryStatus, nil
}
