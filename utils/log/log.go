package log

import (
	"os"

	"github.com/digestmux/digestmux/utils"
	"github.com/digestmux/digestmux/utils/flag"
	"github.com/sirupsen/logrus"
)

// global accessible logger
var (
	logger *logrus.Logger
	Log    *logrus.Entry
)

// This init function is only for testing cases, where the entry point is not
// main function. Unit test will fail with nil pointer dereference if we don't
// init here.
func init() {
	InitLogger()
}

func InitLogger() {
	logger = logrus.New()

	isDevelopment := !utils.IsProdEnv()
	if !isDevelopment {
		// Structured output for log aggregation in production.
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	// Also send log to stderr, without json formatter for better readability
	logger.SetOutput(os.Stderr)

	Log = logger.WithFields(
		logrus.Fields{"service": flag.ServiceName, "is_development": isDevelopment},
	)
}
