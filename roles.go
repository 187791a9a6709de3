package main

import "fmt"

// Role is the operator capability level. Ordering matters: routes declare a
// minimum role and the dispatcher compares with >=.
type Role int

const (
	RoleMember Role = iota
	RoleSalesManager
	RoleMasterManager
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleMasterManager:
		return "master_manager"
	case RoleSalesManager:
		return "sales_manager"
	default:
		return "member"
	}
}

// RoleAuthorizer classifies operators. The admin allow-list is static
// configuration and takes precedence over persisted roles.
type RoleAuthorizer struct {
	config BotConfig
	vault  *CredentialVault
}

func NewRoleAuthorizer(config BotConfig, vault *CredentialVault) *RoleAuthorizer {
	return &RoleAuthorizer{config: config, vault: vault}
}

func (a *RoleAuthorizer) Classify(userID int64) (Role, error) {
	if a.config.IsAdmin(userID) {
		return RoleAdmin, nil
	}
	isMaster, err := a.vault.IsMasterManager(userID)
	if err != nil {
		return RoleMember, fmt.Errorf("failed to classify user %d: %w", userID, err)
	}
	if isMaster {
		return RoleMasterManager, nil
	}
	manager, err := a.vault.GetSalesManager(userID)
	if err != nil {
		return RoleMember, fmt.Errorf("failed to classify user %d: %w", userID, err)
	}
	if manager != nil {
		return RoleSalesManager, nil
	}
	return RoleMember, nil
}
