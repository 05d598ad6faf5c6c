package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/digestmux/digestmux/app_config"
	"github.com/digestmux/digestmux/dispatch"
	"github.com/digestmux/digestmux/preference"
	"github.com/digestmux/digestmux/scoring"
	"github.com/digestmux/digestmux/selection"
	"github.com/digestmux/digestmux/utils"
	"github.com/digestmux/digestmux/utils/dotenv"
	Logger "github.com/digestmux/digestmux/utils/log"
)

var (
	AppConfigPath *string
	// Configuration to customize binary startup.
	AppConfig app_config.DispatcherAppConfig
)

// init() will always be called on before the execution of main function.
func init() {
	AppConfigPath = flag.String("app_config_path", "cmd/dispatcher/config.yaml", "path to dispatcher app config")
	if err := dotenv.LoadDotEnvs(); err != nil {
		panic(err)
	}
}

func main() {
	flag.Parse()

	AppConfig = app_config.ParseDispatcherAppConfig(*AppConfigPath)

	db, err := utils.GetDBConnection()
	if err != nil {
		panic(err)
	}
	utils.DatabaseSetupAndMigration(db)

	status, err := utils.GetRedisStatusStore()
	if err != nil {
		Logger.Log.Errorf("redis unavailable, digest status mirroring disabled: %v", err)
		status = nil
	}

	eventbus := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            100,
			BlockPublishUntilSubscriberAck: false,
		},
		watermill.NewStdLogger(false, false),
	)
	ctx, cancel := context.WithCancel(context.Background())

	prefs := preference.NewStore(db)
	selector := selection.NewSelector(scoring.NewScorer(prefs), AppConfig.SCORE_FLOOR)

	// Initialize all engine modules here.
	modules := []dispatch.Module{
		// Ticker stands in for the external hourly trigger and publishes tick
		// events onto the EventBus.
		dispatch.NewTicker(dispatch.TickerConfig{
			Name:      "ticker",
			TickEvery: time.Duration(AppConfig.TICK_EVERY_MS) * time.Millisecond,
		}, eventbus),
		// Dispatcher listens for ticks on the EventBus and runs the per-user
		// due/claim/select/send/record batch.
		dispatch.NewDispatcher(
			dispatch.DispatcherConfig{
				Name:                    "dispatcher",
				WorkerPoolSize:          AppConfig.WORKER_POOL_SIZE,
				CandidateLookback:       time.Duration(AppConfig.CANDIDATE_LOOKBACK_HOURS) * time.Hour,
				CandidatePoolMultiplier: AppConfig.CANDIDATE_POOL_MULTIPLIER,
				SendMaxRetries:          AppConfig.SEND_MAX_RETRIES,
				SendBackoffBase:         time.Duration(AppConfig.SEND_BACKOFF_BASE_MS) * time.Millisecond,
			},
			db,
			eventbus,
			selector,
			dispatch.NewLogSender(),
			status,
		),
	}

	engine := dispatch.NewEngine(modules, ctx, cancel, eventbus)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		engine.Shutdown()
	}()

	// blocking call.
	engine.Run()

	log.Println("engine stopped execution.")
}
