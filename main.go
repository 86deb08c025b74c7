package main

import (
	"net/http"
	"os"
	"strings"

	"draftkeep/config/database"
	"draftkeep/pkg/logger"
	"draftkeep/router"
	"draftkeep/socket"

	"github.com/joho/godotenv"
)

func main() {
	logger.Init()
	defer logger.Log.Sync()

	if err := godotenv.Load(); err != nil {
		logger.Sugar.Info("No .env file found, using environment variables from OS")
	}

	db := database.Connect()
	defer db.Close()

	if err := database.EnsureSchema(db); err != nil {
		logger.Sugar.Fatalf("Failed to ensure database schema: %v", err)
	}

	hub := socket.NewHub()
	go hub.Run()

	addr := strings.TrimSpace(os.Getenv("LISTEN_ADDR"))
	if addr == "" {
		addr = ":8080"
	}

	logger.Sugar.Infof("draftkeep listening on %s", addr)
	if err := http.ListenAndServe(addr, router.Setup(db, hub)); err != nil {
		logger.Sugar.Fatalf("Server exited: %v", err)
	}
}
