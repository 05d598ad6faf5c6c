package dispatch

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	Logger "github.com/digestmux/digestmux/utils/log"
)

type TickerConfig struct {
	// Name of the ticker module.
	Name string

	// Interval between ticks. One hour in production.
	TickEvery time.Duration
}

// Ticker is the external-trigger stand-in: it publishes a tick event on the
// bus every interval, carrying the UTC instant of the tick. Delivery to the
// dispatcher is at-least-once; firing twice within the same hour is safe
// because the digest uniqueness row is the sole dispatch gate, not this
// module.
type Ticker struct {
	Config TickerConfig

	EventBus *gochannel.GoChannel
}

// Return a new instance of Ticker.
func NewTicker(config TickerConfig, e *gochannel.GoChannel) *Ticker {
	return &Ticker{
		Config:   config,
		EventBus: e,
	}
}

func (t *Ticker) RunModule(ctx context.Context) error {
	// Fire immediately on startup so a restarted process doesn't wait a full
	// interval to reconcile pending digests.
	if err := t.publishTick(time.Now().UTC()); err != nil {
		return err
	}

	ticker := time.NewTicker(t.Config.TickEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if err := t.publishTick(now.UTC()); err != nil {
				return err
			}
		}
	}
}

func (t *Ticker) publishTick(now time.Time) error {
	Logger.Log.Infof("Ticker: %s publishing tick at %s", t.Name(), now.Format(time.RFC3339))
	msg := message.NewMessage(watermill.NewUUID(), []byte(now.Format(time.RFC3339)))
	return t.EventBus.Publish(TopicHourlyTick, msg)
}

func (t *Ticker) Name() string {
	return t.Config.Name
}

func (t *Ticker) Shutdown() {
	Logger.Log.Infoln("Module ", t.Config.Name, " gracefully shutdown")
}
