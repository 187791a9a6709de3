package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/google/uuid"
)

// OrderState is the position of one (chat, operator) session in the order
// intake flow.
type OrderState int

const (
	StateIdle OrderState = iota
	StateAwaitingPhoto
	StateAwaitingPhone
	StateAwaitingNotes
	StateAwaitingQuantity
	StateAwaitingUnit
)

// OrderDraft is the in-progress order being assembled. It lives only in the
// engine's session map and is destroyed, staged photo included, on every
// exit path.
type OrderDraft struct {
	ChatID        int64
	RequesterID   int64
	RequesterName string
	PhotoPath     string
	PhotoCaption  string
	Phone         string
	Notes         string
	Quantity      string
	Unit          string
}

type sessionKey struct {
	ChatID int64
	UserID int64
}

type orderSession struct {
	state OrderState
	draft *OrderDraft
}

// ConversationEngine drives the per-(chat, operator) order intake state
// machine. Drafts are owned exclusively by their session; concurrent sessions
// for different keys never observe each other's state.
type ConversationEngine struct {
	vault *CredentialVault
	erp   *ERPNextClient
	tg    TelegramClient
	cfg   BotConfig

	mu       sync.Mutex
	sessions map[sessionKey]*orderSession
}

func NewConversationEngine(vault *CredentialVault, erp *ERPNextClient, tg TelegramClient, cfg BotConfig) *ConversationEngine {
	return &ConversationEngine{
		vault:    vault,
		erp:      erp,
		tg:       tg,
		cfg:      cfg,
		sessions: make(map[sessionKey]*orderSession),
	}
}

func (e *ConversationEngine) send(ctx context.Context, chatID int64, text string) {
	if _, err := e.tg.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		ErrorLogger.Printf("Failed to send message to chat %d: %v", chatID, err)
	}
}

// State reports the session's current state; Idle when none exists.
func (e *ConversationEngine) State(chatID, userID int64) OrderState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if sess, ok := e.sessions[sessionKey{chatID, userID}]; ok {
		return sess.state
	}
	return StateIdle
}

// pop removes and returns the session, or nil. The caller takes ownership of
// the draft and must release it.
func (e *ConversationEngine) pop(key sessionKey) *orderSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	sess := e.sessions[key]
	delete(e.sessions, key)
	return sess
}

// releaseDraft deletes the staged photo file. The delete is idempotent: a
// missing file is not an error.
func releaseDraft(draft *OrderDraft) {
	if draft == nil || draft.PhotoPath == "" {
		return
	}
	if err := os.Remove(draft.PhotoPath); err != nil && !os.IsNotExist(err) {
		ErrorLogger.Printf("Failed to remove staged photo %s: %v", draft.PhotoPath, err)
	}
	draft.PhotoPath = ""
}

// Start begins a new order flow. The group must have a bound sales manager
// with validated credentials; otherwise the flow refuses to start and no
// state is created. An unfinished draft for the same session is superseded
// and its resources released first.
func (e *ConversationEngine) Start(ctx context.Context, chatID, userID int64, requesterName string) {
	creds, err := e.vault.GetGroupCredentials(chatID)
	if err != nil {
		ErrorLogger.Printf("Failed to resolve group credentials for chat %d: %v", chatID, err)
		e.send(ctx, chatID, "Botda kutilmagan xatolik yuz berdi.")
		return
	}
	if creds == nil {
		e.send(ctx, chatID, "Bu guruh uchun sales manager tayinlanmagan.")
		return
	}
	if creds.Status != StatusActive {
		e.send(ctx, chatID, "Sales manager API kalitlarini hali tasdiqlamagan.")
		return
	}

	key := sessionKey{chatID, userID}
	if old := e.pop(key); old != nil {
		releaseDraft(old.draft)
	}

	e.mu.Lock()
	e.sessions[key] = &orderSession{
		state: StateAwaitingPhoto,
		draft: &OrderDraft{ChatID: chatID, RequesterID: userID, RequesterName: requesterName},
	}
	e.mu.Unlock()

	e.send(ctx, chatID, "📥 Buyurtma qabul qilindi. Iltimos tovar rasmini yuboring yoki /skip deb yozing.")
}

// Abort discards the session without messaging anyone. Used by the dispatch
// recovery path where the chat already got an error notice.
func (e *ConversationEngine) Abort(chatID, userID int64) {
	if sess := e.pop(sessionKey{chatID, userID}); sess != nil {
		releaseDraft(sess.draft)
	}
}

// Cancel aborts the session from any state, releasing the draft. Valid (and
// silent) when no session exists.
func (e *ConversationEngine) Cancel(ctx context.Context, chatID, userID int64) {
	sess := e.pop(sessionKey{chatID, userID})
	if sess == nil {
		return
	}
	releaseDraft(sess.draft)
	e.send(ctx, chatID, "Buyurtma bekor qilindi.")
}

// HandlePhoto stages the image to a scoped temp file and advances to the
// phone step. Ignored outside AwaitingPhoto.
func (e *ConversationEngine) HandlePhoto(ctx context.Context, chatID, userID int64, data []byte, caption string) {
	key := sessionKey{chatID, userID}

	e.mu.Lock()
	sess, ok := e.sessions[key]
	if !ok || sess.state != StateAwaitingPhoto {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	path := filepath.Join(os.TempDir(), fmt.Sprintf("order_%d_%d_%s.jpg", chatID, userID, uuid.NewString()))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		ErrorLogger.Printf("Failed to stage order photo for chat %d: %v", chatID, err)
		e.send(ctx, chatID, "Rasmni saqlab bo'lmadi, qaytadan urinib ko'ring yoki /skip deb yozing.")
		return
	}

	e.mu.Lock()
	// Re-check: the session may have been cancelled while the file was
	// being written.
	sess, ok = e.sessions[key]
	if !ok || sess.state != StateAwaitingPhoto {
		e.mu.Unlock()
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			ErrorLogger.Printf("Failed to remove orphaned photo %s: %v", path, err)
		}
		return
	}
	sess.draft.PhotoPath = path
	sess.draft.PhotoCaption = caption
	sess.state = StateAwaitingPhone
	e.mu.Unlock()

	e.send(ctx, chatID, "📞 Telefon raqamini kiriting:")
}

// SkipPhoto advances past the photo step without an attachment.
func (e *ConversationEngine) SkipPhoto(ctx context.Context, chatID, userID int64) {
	e.mu.Lock()
	sess, ok := e.sessions[sessionKey{chatID, userID}]
	if !ok || sess.state != StateAwaitingPhoto {
		e.mu.Unlock()
		return
	}
	sess.state = StateAwaitingPhone
	e.mu.Unlock()

	e.send(ctx, chatID, "📞 Telefon raqamini kiriting:")
}

// HandleText consumes one free-text reply for an in-flight session. Returns
// false when the session is idle so the caller can treat the message as
// ordinary group activity.
func (e *ConversationEngine) HandleText(ctx context.Context, chatID, userID int64, text string) bool {
	key := sessionKey{chatID, userID}
	text = strings.TrimSpace(text)

	e.mu.Lock()
	sess, ok := e.sessions[key]
	if !ok || sess.state == StateIdle || sess.state == StateAwaitingPhoto {
		e.mu.Unlock()
		return false
	}

	var prompt string
	var submit bool
	switch sess.state {
	case StateAwaitingPhone:
		sess.draft.Phone = text
		sess.state = StateAwaitingNotes
		prompt = "ℹ️ Qo'shimcha ma'lumot yoki talabni kiriting (masalan, mahsulot turi):"
	case StateAwaitingNotes:
		sess.draft.Notes = text
		sess.state = StateAwaitingQuantity
		prompt = "🔢 Miqdorini kiriting:"
	case StateAwaitingQuantity:
		sess.draft.Quantity = text
		sess.state = StateAwaitingUnit
		prompt = "📏 O'lchov birligini kiriting (kg, dona va hokazo):"
	case StateAwaitingUnit:
		sess.draft.Unit = text
		submit = true
	}
	e.mu.Unlock()

	if submit {
		e.submit(ctx, key)
		return true
	}
	e.send(ctx, chatID, prompt)
	return true
}

// submit finishes the flow: re-resolves the group's active manager, creates
// the ERPNext record, uploads the staged photo when configured, logs the
// order and notifies the manager. The draft is destroyed exactly once on
// every path out of here.
func (e *ConversationEngine) submit(ctx context.Context, key sessionKey) {
	sess := e.pop(key)
	if sess == nil {
		return
	}
	draft := sess.draft
	defer releaseDraft(draft)

	summary := fmt.Sprintf(
		"✅ Buyurtma ma'lumotlari:\n- Telefon: %s\n- Tavsif: %s\n- Miqdor: %s %s\n\nERPNext ga yuborilmoqda...",
		draft.Phone, draft.Notes, draft.Quantity, draft.Unit,
	)
	e.send(ctx, draft.ChatID, summary)

	// The binding may have changed mid-flow; re-resolve before submitting.
	creds, err := e.vault.GetGroupCredentials(draft.ChatID)
	if err != nil {
		ErrorLogger.Printf("Failed to resolve credentials for chat %d: %v", draft.ChatID, err)
		e.send(ctx, draft.ChatID, "Botda kutilmagan xatolik yuz berdi.")
		return
	}
	if creds == nil {
		e.send(ctx, draft.ChatID, "Sales manager ma'lumotlari topilmadi.")
		return
	}
	if creds.Status != StatusActive {
		e.send(ctx, draft.ChatID, "Sales manager API kalitlari tasdiqlanmagan.")
		return
	}

	notes := fmt.Sprintf(
		"Telegram foydalanuvchisi: %s (%d)\nGuruh: %d\nTelefon: %s\nTavsif: %s\nMiqdor: %s %s",
		draft.RequesterName, draft.RequesterID, draft.ChatID, draft.Phone, draft.Notes, draft.Quantity, draft.Unit,
	)
	lead, err := e.erp.CreateLead(ctx, creds.APIKey, creds.APISecret, e.cfg.Order, draft.RequesterName, draft.Phone, notes)
	if err != nil {
		e.send(ctx, draft.ChatID, fmt.Sprintf("ERPNext ga saqlashda xatolik: %v", err))
		return
	}

	var attachmentLink string
	if draft.PhotoPath != "" && e.cfg.Order.AttachOrderPhoto {
		attachmentLink = e.uploadOrderPhoto(ctx, creds, draft, lead)
	}

	payload := map[string]interface{}{
		"lead":       lead,
		"phone":      draft.Phone,
		"notes":      draft.Notes,
		"quantity":   draft.Quantity,
		"unit":       draft.Unit,
		"attachment": attachmentLink,
	}
	orderID, err := e.vault.LogOrderRequest(draft.ChatID, draft.RequesterID, payload, creds.ManagerID, "created")
	if err != nil {
		ErrorLogger.Printf("Failed to log order for chat %d: %v", draft.ChatID, err)
		e.send(ctx, draft.ChatID, "Buyurtma ERPNext ga yuborildi, lekin jurnalga yozilmadi.")
		return
	}

	e.send(ctx, draft.ChatID, fmt.Sprintf("✅ Buyurtma ERPNext ga yuborildi. ID: %d", orderID))
	e.send(ctx, creds.ManagerID, fmt.Sprintf(
		"Yangi buyurtma kelib tushdi.\nFoydalanuvchi: %s\nTelefon: %s\nMiqdor: %s %s",
		draft.RequesterName, draft.Phone, draft.Quantity, draft.Unit,
	))
}

// uploadOrderPhoto attaches the staged photo to the created record. Failure
// is reported to the operator but never rolls the record back.
func (e *ConversationEngine) uploadOrderPhoto(ctx context.Context, creds *GroupCredentials, draft *OrderDraft, lead map[string]interface{}) string {
	data, err := os.ReadFile(draft.PhotoPath)
	if err != nil {
		ErrorLogger.Printf("Failed to read staged photo %s: %v", draft.PhotoPath, err)
		e.send(ctx, draft.ChatID, fmt.Sprintf("Rasmni yuklashning imkoni bo'lmadi: %v", err))
		return ""
	}

	var attachToName string
	if leadData, ok := lead["data"].(map[string]interface{}); ok {
		attachToName, _ = leadData["name"].(string)
	}
	upload, err := e.erp.UploadFile(ctx, creds.APIKey, creds.APISecret, filepath.Base(draft.PhotoPath), data, e.cfg.Order.TargetDoctype, attachToName)
	if err != nil {
		e.send(ctx, draft.ChatID, fmt.Sprintf("Rasmni yuklashning imkoni bo'lmadi: %v", err))
		return ""
	}
	if message, ok := upload["message"].(map[string]interface{}); ok {
		if link, ok := message["file_url"].(string); ok {
			return link
		}
	}
	return ""
}
