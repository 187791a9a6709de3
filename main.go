package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	// A missing .env is fine in production where systemd provides the
	// environment.
	_ = godotenv.Load()

	initLoggers()

	config, err := loadBotConfig()
	if err != nil {
		ErrorLogger.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := initDB(config.DBPath)
	if err != nil {
		ErrorLogger.Fatalf("Failed to initialize database: %v", err)
	}

	b, err := NewBot(db, config, RealClock{}, nil)
	if err != nil {
		ErrorLogger.Fatalf("Failed to initialize bot: %v", err)
	}

	tgClient, err := initTelegramBot(config.TelegramToken, b.handleUpdate)
	if err != nil {
		ErrorLogger.Fatalf("Failed to initialize Telegram client: %v", err)
	}
	b.attachTelegramClient(tgClient)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	InfoLogger.Println("Bot is starting")
	b.Start(ctx)
	InfoLogger.Println("Bot stopped")
}
