package app_config

import (
	"io/ioutil"
	"log"

	"gopkg.in/yaml.v2"
)

// This is the app config for the digest dispatcher daemon.
type DispatcherAppConfig struct {
	// Number of users digested concurrently within one hourly batch.
	WORKER_POOL_SIZE int `yaml:"WORKER_POOL_SIZE"`
	// How far back the candidate pool reaches, in hours.
	CANDIDATE_LOOKBACK_HOURS int `yaml:"CANDIDATE_LOOKBACK_HOURS"`
	// Candidate pool size as a multiple of the user's digest size. Should be
	// at least 3 to give the diversity term room to act.
	CANDIDATE_POOL_MULTIPLIER int `yaml:"CANDIDATE_POOL_MULTIPLIER"`
	// Minimum composite score an article must reach to be selected when the
	// pool is smaller than the digest size. Better to send fewer articles
	// than irrelevant filler.
	SCORE_FLOOR float64 `yaml:"SCORE_FLOOR"`
	// Additional send attempts after the first failure.
	SEND_MAX_RETRIES int `yaml:"SEND_MAX_RETRIES"`
	// Base of the exponential send backoff, in milliseconds.
	SEND_BACKOFF_BASE_MS int64 `yaml:"SEND_BACKOFF_BASE_MS"`
	// Interval between dispatch ticks, in milliseconds. One hour in
	// production, shrunk in development for fast iteration.
	TICK_EVERY_MS int64 `yaml:"TICK_EVERY_MS"`
}

func ParseDispatcherAppConfig(path string) DispatcherAppConfig {
	c := DispatcherAppConfig{}
	yamlFile, err := ioutil.ReadFile(path)
	if err != nil {
		log.Fatal("yamlFile. get err: ", err.Error())
	}
	err = yaml.Unmarshal(yamlFile, &c)
	if err != nil {
		log.Fatal("Unmarshal: ", err)
	}
	return c
}

// DefaultDispatcherAppConfig returns the production defaults, also used as
// the baseline in tests.
func DefaultDispatcherAppConfig() DispatcherAppConfig {
	return DispatcherAppConfig{
		WORKER_POOL_SIZE:          8,
		CANDIDATE_LOOKBACK_HOURS:  48,
		CANDIDATE_POOL_MULTIPLIER: 3,
		SCORE_FLOOR:               35.0,
		SEND_MAX_RETRIES:          2,
		SEND_BACKOFF_BASE_MS:      500,
		TICK_EVERY_MS:             3600000,
	}
}
