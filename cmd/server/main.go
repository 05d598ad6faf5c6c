package main

import (
	"flag"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/digestmux/digestmux/dispatch"
	"github.com/digestmux/digestmux/ingest"
	"github.com/digestmux/digestmux/preference"
	"github.com/digestmux/digestmux/server"
	"github.com/digestmux/digestmux/utils"
	"github.com/digestmux/digestmux/utils/dotenv"
	Logger "github.com/digestmux/digestmux/utils/log"
)

func main() {
	// Parses the shared service flags registered in utils/flag.
	flag.Parse()

	if err := dotenv.LoadDotEnvs(); err != nil {
		panic(err)
	}

	db, err := utils.GetDBConnection()
	if err != nil {
		panic(err)
	}
	utils.DatabaseSetupAndMigration(db)

	// The redis mirror is a read-path optimization, the server still works
	// without it.
	status, err := utils.GetRedisStatusStore()
	if err != nil {
		Logger.Log.Errorf("redis unavailable, digest status reads fall back to DB: %v", err)
		status = nil
	}

	// Default With the Logger and Recovery middleware already attached
	router := gin.Default()
	router.Use(cors.Default())

	handler := server.NewAPIHandler(
		db,
		ingest.NewDeduplicator(db),
		preference.NewStore(db),
		dispatch.NewStatusReader(db, status),
	)
	handler.RegisterRoutes(router)

	Logger.Log.Info("api server starts up")
	router.Run(":8080")
}
