package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"
)

// ErrAlreadyAssigned is returned when an assignment would bind a sales
// manager who is already bound to a different group.
var ErrAlreadyAssigned = errors.New("user is already a sales manager in a different group")

// CredentialVault is the durable store for roles, group bindings, member
// presence and the order audit trail. API credentials are encrypted before
// they are written. Every mutating operation runs under one mutex so the
// uniqueness invariants hold under concurrent sessions; reads share it too
// because sqlite serializes writers anyway and the operations are short.
type CredentialVault struct {
	db     *gorm.DB
	cipher *CredentialCipher
	clock  Clock
	mu     sync.Mutex
}

func NewCredentialVault(db *gorm.DB, cipher *CredentialCipher, clock Clock) *CredentialVault {
	return &CredentialVault{db: db, cipher: cipher, clock: clock}
}

// --- Master managers ---

// AddMasterManager upserts a master manager. It reports true when a new row
// was created and false when an existing one was refreshed, so callers can
// word their confirmation accordingly.
func (v *CredentialVault) AddMasterManager(telegramID int64, fullName, username string, addedBy int64) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var existing MasterManager
	err := v.db.Where("telegram_id = ?", telegramID).First(&existing).Error
	if err == nil {
		updates := map[string]interface{}{"full_name": fullName, "username": username}
		if err := v.db.Model(&MasterManager{}).Where("telegram_id = ?", telegramID).UpdateColumns(updates).Error; err != nil {
			return false, fmt.Errorf("failed to refresh master manager: %w", err)
		}
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("failed to look up master manager: %w", err)
	}

	record := MasterManager{
		TelegramID: telegramID,
		FullName:   fullName,
		Username:   username,
		AddedBy:    addedBy,
		CreatedAt:  v.clock.Now(),
	}
	if err := v.db.Create(&record).Error; err != nil {
		return false, fmt.Errorf("failed to create master manager: %w", err)
	}
	return true, nil
}

// RemoveMasterManager deletes the record and clears any group binding that
// pointed at it, in one transaction.
func (v *CredentialVault) RemoveMasterManager(telegramID int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("telegram_id = ?", telegramID).Delete(&MasterManager{}).Error; err != nil {
			return fmt.Errorf("failed to delete master manager: %w", err)
		}
		err := tx.Model(&Group{}).
			Where("master_manager_id = ?", telegramID).
			UpdateColumns(map[string]interface{}{"master_manager_id": nil, "updated_at": v.clock.Now()}).Error
		if err != nil {
			return fmt.Errorf("failed to clear group bindings: %w", err)
		}
		return nil
	})
}

func (v *CredentialVault) IsMasterManager(telegramID int64) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var count int64
	if err := v.db.Model(&MasterManager{}).Where("telegram_id = ?", telegramID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check master manager: %w", err)
	}
	return count > 0, nil
}

func (v *CredentialVault) ListMasterManagers() ([]MasterManager, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var managers []MasterManager
	if err := v.db.Order("created_at").Find(&managers).Error; err != nil {
		return nil, fmt.Errorf("failed to list master managers: %w", err)
	}
	return managers, nil
}

// --- Groups ---

// TouchGroup records the group on first observed activity and refreshes its
// title afterwards. An empty title never overwrites a known one.
func (v *CredentialVault) TouchGroup(chatID int64, title string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.clock.Now()
	var existing Group
	err := v.db.Where("chat_id = ?", chatID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		group := Group{ChatID: chatID, Title: title, CreatedAt: now, UpdatedAt: now}
		if err := v.db.Create(&group).Error; err != nil {
			return fmt.Errorf("failed to create group: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up group: %w", err)
	}

	updates := map[string]interface{}{"updated_at": now}
	if title != "" {
		updates["title"] = title
	}
	if err := v.db.Model(&Group{}).Where("chat_id = ?", chatID).UpdateColumns(updates).Error; err != nil {
		return fmt.Errorf("failed to touch group: %w", err)
	}
	return nil
}

// AssignGroupToMaster binds a group to the master manager operating in it.
func (v *CredentialVault) AssignGroupToMaster(chatID, masterManagerID int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	err := v.db.Model(&Group{}).
		Where("chat_id = ?", chatID).
		UpdateColumns(map[string]interface{}{"master_manager_id": masterManagerID, "updated_at": v.clock.Now()}).Error
	if err != nil {
		return fmt.Errorf("failed to bind group to master manager: %w", err)
	}
	return nil
}

func (v *CredentialVault) GetGroup(chatID int64) (*Group, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var group Group
	err := v.db.Where("chat_id = ?", chatID).First(&group).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load group: %w", err)
	}
	return &group, nil
}

// --- Group members ---

func (v *CredentialVault) UpsertGroupMember(chatID, telegramID int64, username, fullName, messagePreview string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.clock.Now()
	var existing GroupMember
	err := v.db.Where("chat_id = ? AND telegram_id = ?", chatID, telegramID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		member := GroupMember{
			ChatID:      chatID,
			TelegramID:  telegramID,
			Username:    username,
			FullName:    fullName,
			FirstSeen:   now,
			LastSeen:    now,
			LastMessage: messagePreview,
		}
		if err := v.db.Create(&member).Error; err != nil {
			return fmt.Errorf("failed to create group member: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up group member: %w", err)
	}

	updates := map[string]interface{}{
		"username":     username,
		"full_name":    fullName,
		"last_seen":    now,
		"last_message": messagePreview,
	}
	err = v.db.Model(&GroupMember{}).
		Where("chat_id = ? AND telegram_id = ?", chatID, telegramID).
		UpdateColumns(updates).Error
	if err != nil {
		return fmt.Errorf("failed to update group member: %w", err)
	}
	return nil
}

func (v *CredentialVault) ListGroupMembers(chatID int64) ([]GroupMember, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var members []GroupMember
	err := v.db.Where("chat_id = ?", chatID).Order("full_name COLLATE NOCASE").Find(&members).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list group members: %w", err)
	}
	return members, nil
}

func (v *CredentialVault) GetGroupMember(chatID, telegramID int64) (*GroupMember, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var member GroupMember
	err := v.db.Where("chat_id = ? AND telegram_id = ?", chatID, telegramID).First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load group member: %w", err)
	}
	return &member, nil
}

// --- Sales managers ---

// AssignSalesManager binds a group member as the group's sales manager at
// awaiting_api status. The conflict check and both writes run inside one
// transaction so two concurrent assignments cannot both pass the check.
func (v *CredentialVault) AssignSalesManager(telegramID, groupChatID int64, username, fullName string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.clock.Now()
	return v.db.Transaction(func(tx *gorm.DB) error {
		var existing SalesManager
		err := tx.Where("telegram_id = ?", telegramID).First(&existing).Error
		switch {
		case err == nil:
			if existing.GroupChatID != groupChatID {
				return ErrAlreadyAssigned
			}
			updates := map[string]interface{}{
				"username":   username,
				"full_name":  fullName,
				"status":     StatusAwaitingAPI,
				"updated_at": now,
			}
			if err := tx.Model(&SalesManager{}).Where("telegram_id = ?", telegramID).UpdateColumns(updates).Error; err != nil {
				return fmt.Errorf("failed to refresh sales manager: %w", err)
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			manager := SalesManager{
				TelegramID:  telegramID,
				GroupChatID: groupChatID,
				Username:    username,
				FullName:    fullName,
				Status:      StatusAwaitingAPI,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := tx.Create(&manager).Error; err != nil {
				return fmt.Errorf("failed to create sales manager: %w", err)
			}
		default:
			return fmt.Errorf("failed to look up sales manager: %w", err)
		}

		err = tx.Model(&Group{}).
			Where("chat_id = ?", groupChatID).
			UpdateColumns(map[string]interface{}{"sales_manager_id": telegramID, "updated_at": now}).Error
		if err != nil {
			return fmt.Errorf("failed to bind sales manager to group: %w", err)
		}
		return nil
	})
}

// ClearSalesManager removes a manager and unbinds their group.
func (v *CredentialVault) ClearSalesManager(telegramID int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&Group{}).
			Where("sales_manager_id = ?", telegramID).
			UpdateColumns(map[string]interface{}{"sales_manager_id": nil, "updated_at": v.clock.Now()}).Error
		if err != nil {
			return fmt.Errorf("failed to unbind group: %w", err)
		}
		if err := tx.Where("telegram_id = ?", telegramID).Delete(&SalesManager{}).Error; err != nil {
			return fmt.Errorf("failed to delete sales manager: %w", err)
		}
		return nil
	})
}

func (v *CredentialVault) GetSalesManager(telegramID int64) (*SalesManager, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var manager SalesManager
	err := v.db.Where("telegram_id = ?", telegramID).First(&manager).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sales manager: %w", err)
	}
	return &manager, nil
}

// StoreCredentials encrypts the key pair and persists ciphertext plus the
// new status. Plaintext never reaches the database.
func (v *CredentialVault) StoreCredentials(telegramID int64, apiKey, apiSecret, status string) error {
	encryptedKey, err := v.cipher.Encrypt(apiKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt api key: %w", err)
	}
	encryptedSecret, err := v.cipher.Encrypt(apiSecret)
	if err != nil {
		return fmt.Errorf("failed to encrypt api secret: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	updates := map[string]interface{}{
		"encrypted_api_key":    encryptedKey,
		"encrypted_api_secret": encryptedSecret,
		"status":               status,
		"updated_at":           v.clock.Now(),
	}
	err = v.db.Model(&SalesManager{}).Where("telegram_id = ?", telegramID).UpdateColumns(updates).Error
	if err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}
	return nil
}

// GroupCredentials is the decrypted credential view for a group's bound
// sales manager. It exists only in memory, on the way into an ERPNext call.
type GroupCredentials struct {
	ManagerID int64
	APIKey    string
	APISecret string
	Status    string
}

// GetGroupCredentials resolves the group's bound sales manager and decrypts
// their credentials. Returns nil when the group is unbound or the manager
// has not submitted credentials yet.
func (v *CredentialVault) GetGroupCredentials(chatID int64) (*GroupCredentials, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var group Group
	err := v.db.Where("chat_id = ?", chatID).First(&group).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load group: %w", err)
	}
	if group.SalesManagerID == nil {
		return nil, nil
	}

	var manager SalesManager
	err = v.db.Where("telegram_id = ?", *group.SalesManagerID).First(&manager).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sales manager: %w", err)
	}
	if manager.EncryptedAPIKey == "" || manager.EncryptedAPISecret == "" {
		return nil, nil
	}

	apiKey, err := v.cipher.Decrypt(manager.EncryptedAPIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt api key: %w", err)
	}
	apiSecret, err := v.cipher.Decrypt(manager.EncryptedAPISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt api secret: %w", err)
	}
	return &GroupCredentials{
		ManagerID: manager.TelegramID,
		APIKey:    apiKey,
		APISecret: apiSecret,
		Status:    manager.Status,
	}, nil
}

// --- Order audit trail ---

func (v *CredentialVault) LogOrderRequest(chatID, requesterID int64, payload map[string]interface{}, salesManagerID int64, status string) (uint, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to encode order payload: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.clock.Now()
	order := OrderRequest{
		ChatID:         chatID,
		RequesterID:    requesterID,
		Payload:        string(encoded),
		SalesManagerID: salesManagerID,
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := v.db.Create(&order).Error; err != nil {
		return 0, fmt.Errorf("failed to log order request: %w", err)
	}
	return order.ID, nil
}

func (v *CredentialVault) UpdateOrderStatus(orderID uint, status string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	err := v.db.Model(&OrderRequest{}).
		Where("id = ?", orderID).
		UpdateColumns(map[string]interface{}{"status": status, "updated_at": v.clock.Now()}).Error
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	return nil
}

// ListOrders returns the newest orders first, optionally filtered by status.
func (v *CredentialVault) ListOrders(status string, limit int) ([]OrderRequest, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	query := v.db.Order("created_at DESC").Limit(limit)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var orders []OrderRequest
	if err := query.Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}
