package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

type Bot struct {
	tgBot  TelegramClient
	vault  *CredentialVault
	erp    *ERPNextClient
	auth   *RoleAuthorizer
	engine *ConversationEngine
	config BotConfig
	clock  Clock

	routes map[string]commandRoute

	orderLimiters   map[int64]*rate.Limiter
	orderLimitersMu sync.Mutex
}

// NewBot wires the vault, the ERPNext gateway and the conversation engine.
// tgClient may be nil at construction time; main attaches the real client
// once the token is known, tests attach a mock.
func NewBot(db *gorm.DB, config BotConfig, clock Clock, tgClient TelegramClient) (*Bot, error) {
	cipher, err := NewCredentialCipher(config.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential cipher: %w", err)
	}

	vault := NewCredentialVault(db, cipher, clock)
	erp := NewERPNextClient(config)

	b := &Bot{
		vault:         vault,
		erp:           erp,
		auth:          NewRoleAuthorizer(config, vault),
		config:        config,
		clock:         clock,
		orderLimiters: make(map[int64]*rate.Limiter),
	}
	b.routes = b.buildRoutes()
	b.attachTelegramClient(tgClient)
	return b, nil
}

// attachTelegramClient sets the transport for both the bot and the
// conversation engine.
func (b *Bot) attachTelegramClient(tgClient TelegramClient) {
	b.tgBot = tgClient
	b.engine = NewConversationEngine(b.vault, b.erp, tgClient, b.config)
}

func (b *Bot) Start(ctx context.Context) {
	b.tgBot.Start(ctx)
}

func initTelegramBot(token string, handleUpdate func(ctx context.Context, tgBot *bot.Bot, update *models.Update)) (TelegramClient, error) {
	opts := []bot.Option{
		bot.WithDefaultHandler(handleUpdate),
	}

	tgBot, err := bot.New(token, opts...)
	if err != nil {
		return nil, err
	}

	return tgBot, nil
}

func (b *Bot) sendResponse(ctx context.Context, chatID int64, text string) error {
	params := &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	}
	_, err := b.tgBot.SendMessage(ctx, params)
	if err != nil {
		ErrorLogger.Printf("Error sending message to chat %d: %v", chatID, err)
		return err
	}
	return nil
}

// sendDM delivers a private message and reports whether it went through.
// Telegram forbids DMs to users who never started the bot.
func (b *Bot) sendDM(ctx context.Context, userID int64, text string) bool {
	_, err := b.tgBot.SendMessage(ctx, &bot.SendMessageParams{ChatID: userID, Text: text})
	if err != nil {
		InfoLogger.Printf("Could not DM user %d: %v", userID, err)
		return false
	}
	return true
}

// downloadTelegramFile fetches the raw bytes of a file hosted by Telegram.
func (b *Bot) downloadTelegramFile(ctx context.Context, fileID string) ([]byte, error) {
	file, err := b.tgBot.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve file %s: %w", fileID, err)
	}
	link := b.tgBot.FileDownloadLink(file)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file %s: %w", fileID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("file download returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// displayName mirrors Telegram's "full name, else @username, else id" rule
// used everywhere the bot refers to a person.
func displayName(user *models.User) string {
	if user == nil {
		return ""
	}
	name := user.FirstName
	if user.LastName != "" {
		if name != "" {
			name += " "
		}
		name += user.LastName
	}
	if name != "" {
		return name
	}
	if user.Username != "" {
		return "@" + user.Username
	}
	return fmt.Sprintf("%d", user.ID)
}
