package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ReportSettings controls which ERPNext resource the /report command reads
// and how the result page is shaped.
type ReportSettings struct {
	Resource string
	Fields   []string
	Limit    int
	OrderBy  string
}

// OrderSettings controls the record created by a finished order flow.
type OrderSettings struct {
	TargetDoctype    string
	LeadSource       string
	Territory        string
	Status           string
	AttachOrderPhoto bool
}

// BotConfig carries everything the bot needs at startup. All values come from
// the environment; loadBotConfig validates the required ones.
type BotConfig struct {
	TelegramToken        string
	AdminIDs             map[int64]struct{}
	FrappeBaseURL        string
	VerificationEndpoint string
	RequestTimeout       time.Duration
	DBPath               string
	// EncryptionKey is the AES-256 key for credentials at rest. When
	// BOT_ENCRYPTION_KEY is unset it is derived from the bot token, which
	// means rotating the token invalidates every stored credential. The
	// upstream deployment relies on this fallback, so it stays.
	EncryptionKey   []byte
	Report          ReportSettings
	Order           OrderSettings
	OrdersPerMinute int
}

func (c BotConfig) IsAdmin(userID int64) bool {
	_, ok := c.AdminIDs[userID]
	return ok
}

func parseAdminIDs(value string) map[int64]struct{} {
	ids := make(map[int64]struct{})
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			InfoLogger.Printf("Ignoring malformed admin id %q", part)
			continue
		}
		ids[id] = struct{}{}
	}
	return ids
}

// parseReportFields accepts either a JSON array or a comma separated list.
func parseReportFields(value string) []string {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return nil
	}
	if strings.HasPrefix(cleaned, "[") {
		var fields []string
		if err := json.Unmarshal([]byte(cleaned), &fields); err != nil {
			return nil
		}
		return fields
	}
	var fields []string
	for _, f := range strings.Split(cleaned, ",") {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	return fields
}

// deriveEncryptionKey turns arbitrary key material into a 32-byte AES key.
func deriveEncryptionKey(source string) []byte {
	digest := sha256.Sum256([]byte(source))
	return digest[:]
}

func resolveEncryptionKey(explicit, token string) []byte {
	if explicit == "" {
		return deriveEncryptionKey(token)
	}
	decoded, err := hex.DecodeString(strings.TrimSpace(explicit))
	if err == nil && len(decoded) == 32 {
		return decoded
	}
	// Not a 64-char hex key; treat the value as a passphrase.
	return deriveEncryptionKey(explicit)
}

func loadBotConfig() (BotConfig, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return BotConfig{}, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	baseURL := strings.TrimRight(os.Getenv("FRAPPE_BASE_URL"), "/")
	if baseURL == "" {
		return BotConfig{}, fmt.Errorf("FRAPPE_BASE_URL must point to your ERPNext site (e.g., https://example.com)")
	}

	timeout := 10 * time.Second
	if raw := os.Getenv("ERP_REQUEST_TIMEOUT"); raw != "" {
		if secs, err := strconv.ParseFloat(raw, 64); err == nil && secs > 0 {
			timeout = time.Duration(secs * float64(time.Second))
		}
	}

	dbPath := os.Getenv("BOT_DB_PATH")
	if dbPath == "" {
		dbPath = "telegram_bot.sqlite3"
	}

	cfg := BotConfig{
		TelegramToken:        token,
		AdminIDs:             parseAdminIDs(os.Getenv("TELEGRAM_ADMIN_IDS")),
		FrappeBaseURL:        baseURL,
		VerificationEndpoint: "/api/method/frappe.auth.get_logged_user",
		RequestTimeout:       timeout,
		DBPath:               dbPath,
		EncryptionKey:        resolveEncryptionKey(os.Getenv("BOT_ENCRYPTION_KEY"), token),
		Report: ReportSettings{
			Resource: "Sales Order",
			Fields:   []string{"name", "customer_name", "transaction_date", "grand_total", "per_delivered"},
			Limit:    5,
			OrderBy:  "transaction_date desc",
		},
		Order: OrderSettings{
			TargetDoctype:    "Lead",
			LeadSource:       "Telegram Bot",
			Status:           "Lead",
			AttachOrderPhoto: true,
		},
		OrdersPerMinute: 3,
	}

	if v := os.Getenv("FRAPPE_VERIFICATION_ENDPOINT"); v != "" {
		cfg.VerificationEndpoint = v
	}
	if v := os.Getenv("TELEGRAM_REPORT_RESOURCE"); v != "" {
		cfg.Report.Resource = strings.TrimSpace(v)
	}
	if fields := parseReportFields(os.Getenv("TELEGRAM_REPORT_FIELDS")); fields != nil {
		cfg.Report.Fields = fields
	}
	if v := os.Getenv("TELEGRAM_REPORT_LIMIT"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil && limit > 0 {
			cfg.Report.Limit = limit
		}
	}
	if v := os.Getenv("TELEGRAM_REPORT_ORDER_BY"); v != "" {
		cfg.Report.OrderBy = strings.TrimSpace(v)
	}
	if v := os.Getenv("TELEGRAM_ORDER_TARGET_DOCTYPE"); v != "" {
		cfg.Order.TargetDoctype = strings.TrimSpace(v)
	}
	if v := os.Getenv("TELEGRAM_ORDER_SOURCE"); v != "" {
		cfg.Order.LeadSource = strings.TrimSpace(v)
	}
	if v := os.Getenv("TELEGRAM_ORDER_TERRITORY"); v != "" {
		cfg.Order.Territory = strings.TrimSpace(v)
	}
	if v := os.Getenv("TELEGRAM_ORDER_STATUS"); v != "" {
		cfg.Order.Status = strings.TrimSpace(v)
	}
	if v := os.Getenv("TELEGRAM_ORDER_ATTACH_PHOTO"); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes":
			cfg.Order.AttachOrderPhoto = true
		default:
			cfg.Order.AttachOrderPhoto = false
		}
	}
	if v := os.Getenv("ORDERS_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.OrdersPerMinute = n
		}
	}

	return cfg, nil
}
