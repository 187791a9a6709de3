// telegram_client_mock.go
package main

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/mock"
)

// MockTelegramClient is a mock implementation of TelegramClient for testing.
type MockTelegramClient struct {
	mock.Mock
	SendMessageFunc         func(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	EditMessageTextFunc     func(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error)
	AnswerCallbackQueryFunc func(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
	GetFileFunc             func(ctx context.Context, params *bot.GetFileParams) (*models.File, error)
	FileDownloadLinkFunc    func(f *models.File) string
	StartFunc               func(ctx context.Context)
}

// SendMessage mocks sending a message.
func (m *MockTelegramClient) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	if m.SendMessageFunc != nil {
		return m.SendMessageFunc(ctx, params)
	}
	args := m.Called(ctx, params)
	if msg, ok := args.Get(0).(*models.Message); ok {
		return msg, args.Error(1)
	}
	return nil, args.Error(1)
}

// EditMessageText mocks editing a previously sent message.
func (m *MockTelegramClient) EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error) {
	if m.EditMessageTextFunc != nil {
		return m.EditMessageTextFunc(ctx, params)
	}
	args := m.Called(ctx, params)
	if msg, ok := args.Get(0).(*models.Message); ok {
		return msg, args.Error(1)
	}
	return nil, args.Error(1)
}

// AnswerCallbackQuery mocks acknowledging an inline keyboard press.
func (m *MockTelegramClient) AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error) {
	if m.AnswerCallbackQueryFunc != nil {
		return m.AnswerCallbackQueryFunc(ctx, params)
	}
	args := m.Called(ctx, params)
	return args.Bool(0), args.Error(1)
}

// GetFile mocks resolving a Telegram file id.
func (m *MockTelegramClient) GetFile(ctx context.Context, params *bot.GetFileParams) (*models.File, error) {
	if m.GetFileFunc != nil {
		return m.GetFileFunc(ctx, params)
	}
	args := m.Called(ctx, params)
	if f, ok := args.Get(0).(*models.File); ok {
		return f, args.Error(1)
	}
	return nil, args.Error(1)
}

// FileDownloadLink mocks building the download URL for a resolved file.
func (m *MockTelegramClient) FileDownloadLink(f *models.File) string {
	if m.FileDownloadLinkFunc != nil {
		return m.FileDownloadLinkFunc(f)
	}
	args := m.Called(f)
	return args.String(0)
}

// Start mocks starting the Telegram client.
func (m *MockTelegramClient) Start(ctx context.Context) {
	if m.StartFunc != nil {
		m.StartFunc(ctx)
		return
	}
	m.Called(ctx)
}
