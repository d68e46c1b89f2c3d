package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"xonbot/internal/app"
	"xonbot/internal/config"
	"xonbot/internal/logger"
)

func main() {
	// Secrets (RCON_PASSWORD_N, IRC_PASSWORD) may live in a .env file
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("warning: could not load .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logg, err := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		FilePath:    cfg.Logging.File,
		FileMaxSize: cfg.Logging.FileMaxSize,
	})
	if err != nil {
		log.Fatalf("Failed to setup logger: %v", err)
	}
	defer logg.Close()

	application, err := app.New(cfg, logg.Logger)
	if err != nil {
		log.Fatalf("Failed to initialize app: %v", err)
	}

	if err := application.Start(); err != nil {
		log.Fatalf("Failed to start app: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	application.Stop()
}
