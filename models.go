package main

import (
	"time"
)

// Sales-manager lifecycle. A manager is created awaiting_api and becomes
// active only after ERPNext confirms the submitted credentials.
const (
	StatusAwaitingAPI = "awaiting_api"
	StatusActive      = "active"
)

// MasterManager is an operator allowed to assign sales managers inside the
// groups they oversee. Created by an admin command, never implicitly.
type MasterManager struct {
	TelegramID int64 `gorm:"primaryKey;autoIncrement:false"`
	FullName   string
	Username   string
	AddedBy    int64
	CreatedAt  time.Time
}

// Group is a chat-scoped tenant context. Both bindings are weak references:
// removing the bound manager clears the pointer but keeps the group row.
type Group struct {
	ChatID          int64 `gorm:"primaryKey;autoIncrement:false"`
	Title           string
	MasterManagerID *int64
	SalesManagerID  *int64 `gorm:"uniqueIndex"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// GroupMember is presence tracking only; rows are upserted on every observed
// message from a non-bot user and carry no authority.
type GroupMember struct {
	ChatID      int64 `gorm:"primaryKey;autoIncrement:false"`
	TelegramID  int64 `gorm:"primaryKey;autoIncrement:false"`
	Username    string
	FullName    string
	FirstSeen   time.Time
	LastSeen    time.Time
	LastMessage string
}

// SalesManager holds the group's ERPNext credentials, encrypted at rest.
// GroupChatID is unique: one manager per group and one group per manager.
type SalesManager struct {
	TelegramID         int64 `gorm:"primaryKey;autoIncrement:false"`
	GroupChatID        int64 `gorm:"uniqueIndex"`
	Username           string
	FullName           string
	Status             string `gorm:"not null"`
	EncryptedAPIKey    string
	EncryptedAPISecret string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// OrderRequest is the append-only audit trail of submitted orders. Payload is
// a JSON document (lead response, phone, notes, quantity, unit, attachment);
// only Status is ever updated after insert.
type OrderRequest struct {
	ID             uint  `gorm:"primaryKey"`
	ChatID         int64 `gorm:"index"`
	RequesterID    int64 `gorm:"index"`
	Payload        string `gorm:"type:text;not null"`
	SalesManagerID int64
	Status         string `gorm:"not null;default:pending"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
