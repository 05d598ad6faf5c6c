package dispatch

import (
	"context"

	"github.com/digestmux/digestmux/model"
	Logger "github.com/digestmux/digestmux/utils/log"
)

// Sender is the external send collaborator: it delivers an ordered article
// list to one user, or errors. Opaque beyond this contract; the dispatcher
// retries it with backoff and records the terminal outcome.
type Sender interface {
	Send(ctx context.Context, user *model.User, articles []*model.Article) error
}

// LogSender writes the digest to the log instead of delivering it. Used in
// development and as a mock collaborator.
type LogSender struct{}

func NewLogSender() *LogSender {
	return &LogSender{}
}

func (s *LogSender) Send(ctx context.Context, user *model.User, articles []*model.Article) error {
	Logger.Log.Infof("=== mock digest send to %s with %d articles ===", user.Email, len(articles))
	for i, article := range articles {
		Logger.Log.Infof("%d. %s (%s)", i+1, article.Title, article.Url)
	}
	return nil
}
