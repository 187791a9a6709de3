package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const (
	assignCallbackPrefix = "assign_sm:"
	memberKeyboardLimit  = 20
	activityPreviewLimit = 120
)

type routeScope int

const (
	scopeAny routeScope = iota
	scopeGroup
	scopePrivate
)

// commandRoute declares where a command may run and who may run it. The
// dispatcher enforces scope and role before the handler sees the message.
type commandRoute struct {
	minRole  Role
	scope    routeScope
	denyText string
	handler  func(ctx context.Context, msg *models.Message, args []string)
}

func (b *Bot) buildRoutes() map[string]commandRoute {
	return map[string]commandRoute{
		"/start":  {minRole: RoleMember, scope: scopeAny, handler: b.cmdStart},
		"/help":   {minRole: RoleMember, scope: scopeAny, handler: b.cmdHelp},
		"/whoami": {minRole: RoleMember, scope: scopeAny, handler: b.cmdWhoami},

		"/add_master_manager":    {minRole: RoleAdmin, scope: scopeAny, denyText: "Bu buyruq faqat adminlar uchun.", handler: b.cmdAddMasterManager},
		"/remove_master_manager": {minRole: RoleAdmin, scope: scopeAny, denyText: "Bu buyruq faqat adminlar uchun.", handler: b.cmdRemoveMasterManager},
		"/list_master_managers":  {minRole: RoleAdmin, scope: scopeAny, denyText: "Bu buyruq faqat adminlar uchun.", handler: b.cmdListMasterManagers},
		"/orders":                {minRole: RoleAdmin, scope: scopeAny, denyText: "Bu buyruq faqat adminlar uchun.", handler: b.cmdOrders},

		"/users": {minRole: RoleMasterManager, scope: scopeGroup, denyText: "Siz sales master manager ro'yxatida emassiz.", handler: b.cmdUsers},
		// Reports are gated by the group's active credentials, not by role.
		"/report": {minRole: RoleMember, scope: scopeGroup, handler: b.cmdReport},

		"/set_api": {minRole: RoleSalesManager, scope: scopePrivate, denyText: "Siz sales manager sifatida tayinlanmagansiz.", handler: b.cmdSetAPI},

		"/order":  {minRole: RoleMember, scope: scopeGroup, handler: b.cmdOrder},
		"/skip":   {minRole: RoleMember, scope: scopeGroup, handler: b.cmdSkip},
		"/cancel": {minRole: RoleMember, scope: scopeGroup, handler: b.cmdCancel},
	}
}

func isGroupChat(chat models.Chat) bool {
	return chat.Type == "group" || chat.Type == "supergroup"
}

// handleUpdate is the single entry point for every Telegram update. A panic
// in any handler is contained here so one bad update cannot take the bot
// down with it.
func (b *Bot) handleUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	var chatID, userID int64
	if update.Message != nil {
		chatID = update.Message.Chat.ID
		if update.Message.From != nil {
			userID = update.Message.From.ID
		}
	}
	defer func() {
		if r := recover(); r != nil {
			ErrorLogger.Printf("Recovered from panic while handling update: %v", r)
			if chatID != 0 {
				// An in-flight draft may be mid-mutation; discard it.
				b.engine.Abort(chatID, userID)
				b.sendResponse(ctx, chatID, "Botda kutilmagan xatolik yuz berdi.")
			}
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *models.Message) {
	if msg.From == nil || msg.From.IsBot {
		return
	}

	if isGroupChat(msg.Chat) {
		b.trackGroupActivity(msg)
	}

	if len(msg.Photo) > 0 && b.engine.State(msg.Chat.ID, msg.From.ID) == StateAwaitingPhoto {
		b.handleOrderPhoto(ctx, msg)
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	if strings.HasPrefix(text, "/") {
		b.dispatchCommand(ctx, msg, text)
		return
	}
	b.engine.HandleText(ctx, msg.Chat.ID, msg.From.ID, text)
}

// trackGroupActivity keeps the member roster current. The stored preview is
// capped so the roster never accumulates full message bodies.
func (b *Bot) trackGroupActivity(msg *models.Message) {
	if err := b.vault.TouchGroup(msg.Chat.ID, msg.Chat.Title); err != nil {
		ErrorLogger.Printf("Failed to track group %d: %v", msg.Chat.ID, err)
	}

	preview := msg.Text
	if preview == "" {
		preview = msg.Caption
	}
	if runes := []rune(preview); len(runes) > activityPreviewLimit {
		preview = string(runes[:activityPreviewLimit])
	}
	err := b.vault.UpsertGroupMember(msg.Chat.ID, msg.From.ID, msg.From.Username, displayName(msg.From), preview)
	if err != nil {
		ErrorLogger.Printf("Failed to track member %d in group %d: %v", msg.From.ID, msg.Chat.ID, err)
	}
}

func (b *Bot) dispatchCommand(ctx context.Context, msg *models.Message, text string) {
	fields := strings.Fields(text)
	command := strings.ToLower(fields[0])
	// Commands in groups arrive as /cmd@botname.
	if at := strings.Index(command, "@"); at != -1 {
		command = command[:at]
	}

	route, ok := b.routes[command]
	if !ok {
		return
	}

	switch route.scope {
	case scopeGroup:
		if !isGroupChat(msg.Chat) {
			b.sendResponse(ctx, msg.Chat.ID, "Bu buyruq faqat guruhlarda ishlaydi.")
			return
		}
	case scopePrivate:
		if msg.Chat.Type != "private" {
			b.sendResponse(ctx, msg.Chat.ID, "Bu buyruqni botga shaxsiy xabarda yuboring.")
			return
		}
	}

	role, err := b.auth.Classify(msg.From.ID)
	if err != nil {
		ErrorLogger.Printf("Failed to classify user %d: %v", msg.From.ID, err)
		b.sendResponse(ctx, msg.Chat.ID, "Botda kutilmagan xatolik yuz berdi.")
		return
	}
	if role < route.minRole {
		deny := route.denyText
		if deny == "" {
			deny = "Sizda bu buyruq uchun ruxsat yo'q."
		}
		b.sendResponse(ctx, msg.Chat.ID, deny)
		return
	}

	route.handler(ctx, msg, fields[1:])
}

// --- Callback queries ---

// handleCallback processes inline keyboard presses. Only the sales manager
// assignment keyboard exists today.
func (b *Bot) handleCallback(ctx context.Context, query *models.CallbackQuery) {
	if _, err := b.tgBot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: query.ID}); err != nil {
		ErrorLogger.Printf("Failed to answer callback query %s: %v", query.ID, err)
	}

	if !strings.HasPrefix(query.Data, assignCallbackPrefix) {
		return
	}
	keyboardMsg := query.Message.Message
	if keyboardMsg == nil {
		return
	}
	chatID, memberID, err := parseAssignCallback(query.Data)
	if err != nil {
		ErrorLogger.Printf("Malformed callback data %q: %v", query.Data, err)
		return
	}

	role, err := b.auth.Classify(query.From.ID)
	if err != nil {
		ErrorLogger.Printf("Failed to classify user %d: %v", query.From.ID, err)
		return
	}
	if role < RoleMasterManager {
		b.sendResponse(ctx, keyboardMsg.Chat.ID, "Siz sales master manager ro'yxatida emassiz.")
		return
	}

	member, err := b.vault.GetGroupMember(chatID, memberID)
	if err != nil {
		ErrorLogger.Printf("Failed to load member %d of group %d: %v", memberID, chatID, err)
		b.sendResponse(ctx, keyboardMsg.Chat.ID, "Botda kutilmagan xatolik yuz berdi.")
		return
	}
	if member == nil {
		b.editKeyboardMessage(ctx, keyboardMsg, "Bu a'zo haqida ma'lumot topilmadi. /users buyrug'ini qayta yuboring.")
		return
	}

	err = b.vault.AssignSalesManager(member.TelegramID, chatID, member.Username, member.FullName)
	if errors.Is(err, ErrAlreadyAssigned) {
		b.editKeyboardMessage(ctx, keyboardMsg, fmt.Sprintf("%s allaqachon boshqa guruhda sales manager.", member.FullName))
		return
	}
	if err != nil {
		ErrorLogger.Printf("Failed to assign sales manager %d to group %d: %v", member.TelegramID, chatID, err)
		b.sendResponse(ctx, keyboardMsg.Chat.ID, "Botda kutilmagan xatolik yuz berdi.")
		return
	}

	b.editKeyboardMessage(ctx, keyboardMsg, fmt.Sprintf("✅ %s sales manager etib tayinlandi.", member.FullName))

	instructions := "Siz sales manager etib tayinlandingiz.\n" +
		"ERPNext API kalitlaringizni quyidagi ko'rinishda yuboring:\n" +
		"/set_api <api_key> <api_secret>"
	if !b.sendDM(ctx, member.TelegramID, instructions) {
		b.sendResponse(ctx, keyboardMsg.Chat.ID, fmt.Sprintf(
			"%s botga shaxsiy xabar yozmagan. U botga /start yuborib, /set_api orqali kalitlarini kiritishi kerak.",
			member.FullName,
		))
	}
}

func parseAssignCallback(data string) (chatID, memberID int64, err error) {
	parts := strings.Split(strings.TrimPrefix(data, assignCallbackPrefix), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected 2 fields, got %d", len(parts))
	}
	chatID, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad chat id: %w", err)
	}
	memberID, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad member id: %w", err)
	}
	return chatID, memberID, nil
}

func (b *Bot) editKeyboardMessage(ctx context.Context, msg *models.Message, text string) {
	_, err := b.tgBot.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:    msg.Chat.ID,
		MessageID: msg.ID,
		Text:      text,
	})
	if err != nil {
		ErrorLogger.Printf("Failed to edit message %d in chat %d: %v", msg.ID, msg.Chat.ID, err)
	}
}

// --- Commands ---

func (b *Bot) cmdStart(ctx context.Context, msg *models.Message, _ []string) {
	if isGroupChat(msg.Chat) {
		b.sendResponse(ctx, msg.Chat.ID,
			"Salom! Men guruhdagi buyurtmalarni ERPNext ga uzataman.\n"+
				"/order - yangi buyurtma\n"+
				"/report - savdo hisoboti\n"+
				"/cancel - buyurtmani bekor qilish")
		return
	}

	role, err := b.auth.Classify(msg.From.ID)
	if err != nil {
		ErrorLogger.Printf("Failed to classify user %d: %v", msg.From.ID, err)
		role = RoleMember
	}

	var greeting string
	switch role {
	case RoleAdmin:
		greeting = "Salom, admin! /add_master_manager buyrug'i bilan master managerlar qo'shishingiz mumkin. To'liq ro'yxat uchun /help."
	case RoleMasterManager:
		greeting = "Salom! Siz sales master manager sifatida ro'yxatdan o'tgansiz. Guruhda /users buyrug'i bilan sales manager tayinlang."
	case RoleSalesManager:
		greeting = "Salom! Siz sales manager sifatida tayinlangansiz. ERPNext API kalitlaringizni /set_api buyrug'i bilan yuboring."
		if manager, err := b.vault.GetSalesManager(msg.From.ID); err == nil && manager != nil && manager.Status == StatusActive {
			greeting = "Salom! API kalitlaringiz tasdiqlangan, guruhingizdagi buyurtmalar ERPNext ga yuborilmoqda."
		}
	default:
		greeting = "Salom! Bu bot guruhdagi buyurtmalarni ERPNext ga uzatadi. Guruhda /order buyrug'i bilan buyurtma berishingiz mumkin."
	}
	b.sendResponse(ctx, msg.Chat.ID, greeting)
}

func (b *Bot) cmdHelp(ctx context.Context, msg *models.Message, _ []string) {
	help := "Mavjud buyruqlar:\n" +
		"/order - yangi buyurtma boshlash (guruhda)\n" +
		"/skip - buyurtma rasmini o'tkazib yuborish\n" +
		"/cancel - buyurtmani bekor qilish\n" +
		"/report - ERPNext hisobotini ko'rish (guruhda)\n" +
		"/users - sales manager tayinlash (master manager)\n" +
		"/set_api - API kalitlarini yuborish (shaxsiy xabarda)\n" +
		"/whoami - rolingizni ko'rish"
	b.sendResponse(ctx, msg.Chat.ID, help)
}

func (b *Bot) cmdWhoami(ctx context.Context, msg *models.Message, _ []string) {
	role, err := b.auth.Classify(msg.From.ID)
	if err != nil {
		ErrorLogger.Printf("Failed to classify user %d: %v", msg.From.ID, err)
		b.sendResponse(ctx, msg.Chat.ID, "Botda kutilmagan xatolik yuz berdi.")
		return
	}
	info := fmt.Sprintf("ID: %d\nRol: %s", msg.From.ID, role)
	if role == RoleSalesManager {
		if manager, err := b.vault.GetSalesManager(msg.From.ID); err == nil && manager != nil {
			info += fmt.Sprintf("\nGuruh: %d\nHolat: %s", manager.GroupChatID, manager.Status)
		}
	}
	info += fmt.Sprintf("\nChat ID: %d\nChat turi: %s", msg.Chat.ID, msg.Chat.Type)
	if msg.Chat.Title != "" {
		info += fmt.Sprintf("\nChat nomi: %s", msg.Chat.Title)
	}
	b.sendResponse(ctx, msg.Chat.ID, info)
}

func (b *Bot) cmdAddMasterManager(ctx context.Context, msg *models.Message, args []string) {
	if len(args) < 1 {
		b.sendResponse(ctx, msg.Chat.ID, "Foydalanish: /add_master_manager <telegram_id> [ism]")
		return
	}
	targetID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		b.sendResponse(ctx, msg.Chat.ID, "Telegram ID raqam bo'lishi kerak.")
		return
	}
	fullName := strings.Join(args[1:], " ")

	created, err := b.vault.AddMasterManager(targetID, fullName, "", msg.From.ID)
	if err != nil {
		ErrorLogger.Printf("Failed to add master manager %d: %v", targetID, err)
		b.sendResponse(ctx, msg.Chat.ID, "Botda kutilmagan xatolik yuz berdi.")
		return
	}
	if !created {
		b.sendResponse(ctx, msg.Chat.ID, fmt.Sprintf("%d allaqachon ro'yxatdan o'tgan, ma'lumot yangilandi.", targetID))
		return
	}

	b.sendResponse(ctx, msg.Chat.ID, fmt.Sprintf("%d Sales Master Manager sifatida qo'shildi.", targetID))
	notified := b.sendDM(ctx, targetID,
		"Siz sales master manager etib tayinlandingiz. Botni guruhga qo'shing va /users buyrug'i bilan sales manager tanlang.")
	if !notified {
		b.sendResponse(ctx, msg.Chat.ID, "Diqqat: foydalanuvchiga xabar yuborib bo'lmadi. U avval botga /start yuborishi kerak.")
	}
}

func (b *Bot) cmdRemoveMasterManager(ctx context.Context, msg *models.Message, args []string) {
	if len(args) < 1 {
		b.sendResponse(ctx, msg.Chat.ID, "Foydalanish: /remove_master_manager <telegram_id>")
		return
	}
	targetID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		b.sendResponse(ctx, msg.Chat.ID, "Telegram ID raqam bo'lishi kerak.")
		return
	}
	if err := b.vault.RemoveMasterManager(targetID); err != nil {
		ErrorLogger.Printf("Failed to remove master manager %d: %v", targetID, err)
		b.sendResponse(ctx, msg.Chat.ID, "Botda kutilmagan xatolik yuz berdi.")
		return
	}
	b.sendResponse(ctx, msg.Chat.ID, fmt.Sprintf("%d master managerlar ro'yxatidan o'chirildi.", targetID))
}

func (b *Bot) cmdListMasterManagers(ctx context.Context, msg *models.Message, _ []string) {
	managers, err := b.vault.ListMasterManagers()
	if err != nil {
		ErrorLogger.Printf("Failed to list master managers: %v", err)
		b.sendResponse(ctx, msg.Chat.ID, "Botda kutilmagan xatolik yuz berdi.")
		return
	}
	if len(managers) == 0 {
		b.sendResponse(ctx, msg.Chat.ID, "Master managerlar ro'yxati bo'sh.")
		return
	}

	var sb strings.Builder
	sb.WriteString("Master managerlar:\n")
	for _, m := range managers {
		name := m.FullName
		if name == "" {
			name = "(ism kiritilmagan)"
		}
		fmt.Fprintf(&sb, "• %s (%d)\n", name, m.TelegramID)
	}
	b.sendResponse(ctx, msg.Chat.ID, strings.TrimRight(sb.String(), "\n"))
}

func (b *Bot) cmdOrders(ctx context.Context, msg *models.Message, args []string) {
	status := ""
	if len(args) > 0 {
		status = args[0]
	}
	orders, err := b.vault.ListOrders(status, 10)
	if err != nil {
		ErrorLogger.Printf("Failed to list orders: %v", err)
		b.sendResponse(ctx, msg.Chat.ID, "Botda kutilmagan xatolik yuz berdi.")
		return
	}
	if len(orders) == 0 {
		b.sendResponse(ctx, msg.Chat.ID, "Buyurtmalar topilmadi.")
		return
	}

	var sb strings.Builder
	sb.WriteString("Oxirgi buyurtmalar:\n")
	for _, o := range orders {
		fmt.Fprintf(&sb, "#%d [%s] guruh %d, foydalanuvchi %d, %s\n",
			o.ID, o.Status, o.ChatID, o.RequesterID, o.CreatedAt.Format("2006-01-02 15:04"))
	}
	b.sendResponse(ctx, msg.Chat.ID, strings.TrimRight(sb.String(), "\n"))
}

// cmdUsers binds the group to the calling master manager and offers the
// known member roster as an assignment keyboard.
func (b *Bot) cmdUsers(ctx context.Context, msg *models.Message, _ []string) {
	if err := b.vault.AssignGroupToMaster(msg.Chat.ID, msg.From.ID); err != nil {
		ErrorLogger.Printf("Failed to bind group %d: %v", msg.Chat.ID, err)
		b.sendResponse(ctx, msg.Chat.ID, "Botda kutilmagan xatolik yuz berdi.")
		return
	}

	members, err := b.vault.ListGroupMembers(msg.Chat.ID)
	if err != nil {
		ErrorLogger.Printf("Failed to list members of group %d: %v", msg.Chat.ID, err)
		b.sendResponse(ctx, msg.Chat.ID, "Botda kutilmagan xatolik yuz berdi.")
		return
	}
	if len(members) == 0 {
		b.sendResponse(ctx, msg.Chat.ID, "Hozircha guruh a'zolari haqida ma'lumot yo'q. A'zolar yozishganidan keyin qayta urinib ko'ring.")
		return
	}
	if len(members) > memberKeyboardLimit {
		members = members[:memberKeyboardLimit]
	}

	keyboard := make([][]models.InlineKeyboardButton, 0, len(members))
	for _, m := range members {
		label := m.FullName
		if label == "" {
			label = fmt.Sprintf("%d", m.TelegramID)
		}
		keyboard = append(keyboard, []models.InlineKeyboardButton{{
			Text:         label,
			CallbackData: fmt.Sprintf("%s%d:%d", assignCallbackPrefix, msg.Chat.ID, m.TelegramID),
		}})
	}

	_, err = b.tgBot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      msg.Chat.ID,
		Text:        "Sales manager etib tayinlash uchun a'zoni tanlang:",
		ReplyMarkup: &models.InlineKeyboardMarkup{InlineKeyboard: keyboard},
	})
	if err != nil {
		ErrorLogger.Printf("Failed to send member keyboard to chat %d: %v", msg.Chat.ID, err)
	}
}

func (b *Bot) cmdReport(ctx context.Context, msg *models.Message, _ []string) {
	creds, err := b.vault.GetGroupCredentials(msg.Chat.ID)
	if err != nil {
		ErrorLogger.Printf("Failed to resolve credentials for chat %d: %v", msg.Chat.ID, err)
		b.sendResponse(ctx, msg.Chat.ID, "Botda kutilmagan xatolik yuz berdi.")
		return
	}
	if creds == nil {
		b.sendResponse(ctx, msg.Chat.ID, "Bu guruh uchun sales manager tayinlanmagan.")
		return
	}
	if creds.Status != StatusActive {
		b.sendResponse(ctx, msg.Chat.ID, "Sales manager API kalitlarini hali tasdiqlamagan.")
		return
	}

	rows, err := b.erp.FetchReport(ctx, creds.APIKey, creds.APISecret, b.config.Report)
	if err != nil {
		b.sendResponse(ctx, msg.Chat.ID, fmt.Sprintf("Hisobotni olishda xatolik: %v", err))
		return
	}
	if len(rows) == 0 {
		b.sendResponse(ctx, msg.Chat.ID, "Hisobot uchun ma'lumot topilmadi.")
		return
	}
	b.sendResponse(ctx, msg.Chat.ID, renderReport(b.config.Report, rows))
}

// renderReport formats rows field by field in configured order, the record
// name first. Absent fields are skipped rather than rendered as null.
func renderReport(settings ReportSettings, rows []map[string]interface{}) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 %s (%d ta yozuv):\n", settings.Resource, len(rows))
	for _, row := range rows {
		sb.WriteString("\n")
		if name, ok := row["name"]; ok && name != nil {
			fmt.Fprintf(&sb, "📄 %v\n", name)
		}
		for _, field := range settings.Fields {
			if field == "name" {
				continue
			}
			value, ok := row[field]
			if !ok || value == nil {
				continue
			}
			fmt.Fprintf(&sb, "  %s: %v\n", field, value)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// cmdSetAPI validates and stores a manager's ERPNext key pair. The pair is
// persisted either way; only the status records whether validation passed.
func (b *Bot) cmdSetAPI(ctx context.Context, msg *models.Message, args []string) {
	if len(args) != 2 {
		b.sendResponse(ctx, msg.Chat.ID, "Foydalanish: /set_api <api_key> <api_secret>")
		return
	}
	manager, err := b.vault.GetSalesManager(msg.From.ID)
	if err != nil {
		ErrorLogger.Printf("Failed to load sales manager %d: %v", msg.From.ID, err)
		b.sendResponse(ctx, msg.Chat.ID, "Botda kutilmagan xatolik yuz berdi.")
		return
	}
	if manager == nil {
		b.sendResponse(ctx, msg.Chat.ID, "Siz sales manager sifatida tayinlanmagansiz.")
		return
	}
	apiKey, apiSecret := args[0], args[1]

	ok, reason := b.erp.ValidateCredentials(ctx, apiKey, apiSecret)
	status := StatusAwaitingAPI
	if ok {
		status = StatusActive
	}
	if err := b.vault.StoreCredentials(msg.From.ID, apiKey, apiSecret, status); err != nil {
		ErrorLogger.Printf("Failed to store credentials for manager %d: %v", msg.From.ID, err)
		b.sendResponse(ctx, msg.Chat.ID, "Botda kutilmagan xatolik yuz berdi.")
		return
	}

	if !ok {
		b.sendResponse(ctx, msg.Chat.ID, fmt.Sprintf("❌ Kalitlar tekshiruvdan o'tmadi: %s\nKalitlar saqlandi, tasdiqlangach qayta yuboring.", reason))
		return
	}
	b.sendResponse(ctx, msg.Chat.ID, fmt.Sprintf("✅ %s", reason))
	b.sendResponse(ctx, manager.GroupChatID, "✅ Sales manager API kalitlari tasdiqlandi. Endi /order buyrug'i ishlaydi.")
}

func (b *Bot) cmdOrder(ctx context.Context, msg *models.Message, _ []string) {
	if !b.checkOrderRate(msg.From.ID) {
		b.sendResponse(ctx, msg.Chat.ID, "Juda ko'p so'rov. Birozdan keyin qayta urinib ko'ring.")
		return
	}
	b.engine.Start(ctx, msg.Chat.ID, msg.From.ID, displayName(msg.From))
}

func (b *Bot) cmdSkip(ctx context.Context, msg *models.Message, _ []string) {
	b.engine.SkipPhoto(ctx, msg.Chat.ID, msg.From.ID)
}

func (b *Bot) cmdCancel(ctx context.Context, msg *models.Message, _ []string) {
	b.engine.Cancel(ctx, msg.Chat.ID, msg.From.ID)
}

// handleOrderPhoto downloads the largest rendition of the photo and hands it
// to the order flow.
func (b *Bot) handleOrderPhoto(ctx context.Context, msg *models.Message) {
	largest := msg.Photo[len(msg.Photo)-1]
	data, err := b.downloadTelegramFile(ctx, largest.FileID)
	if err != nil {
		ErrorLogger.Printf("Failed to download photo for chat %d: %v", msg.Chat.ID, err)
		b.sendResponse(ctx, msg.Chat.ID, "Rasmni yuklab olib bo'lmadi, qaytadan urinib ko'ring yoki /skip deb yozing.")
		return
	}
	b.engine.HandlePhoto(ctx, msg.Chat.ID, msg.From.ID, data, msg.Caption)
}
