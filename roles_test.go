package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyPrecedence(t *testing.T) {
	vault, _ := setupTestVault(t)
	cfg := testConfig("http://unused")
	auth := NewRoleAuthorizer(cfg, vault)

	// Admin id 1 comes from the static allow-list.
	role, err := auth.Classify(1)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, role)

	role, err = auth.Classify(50)
	require.NoError(t, err)
	assert.Equal(t, RoleMember, role)

	_, err = vault.AddMasterManager(50, "Aziz", "aziz", 1)
	require.NoError(t, err)
	role, err = auth.Classify(50)
	require.NoError(t, err)
	assert.Equal(t, RoleMasterManager, role)

	require.NoError(t, vault.TouchGroup(-500, "A"))
	require.NoError(t, vault.AssignSalesManager(60, -500, "bek", "Bekzod"))
	role, err = auth.Classify(60)
	require.NoError(t, err)
	assert.Equal(t, RoleSalesManager, role)
}

func TestAdminListWinsOverPersistedRoles(t *testing.T) {
	vault, _ := setupTestVault(t)
	cfg := testConfig("http://unused")
	auth := NewRoleAuthorizer(cfg, vault)

	_, err := vault.AddMasterManager(1, "Admin Ham Master", "", 1)
	require.NoError(t, err)

	role, err := auth.Classify(1)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, role)
}

func TestRoleOrdering(t *testing.T) {
	assert.True(t, RoleAdmin > RoleMasterManager)
	assert.True(t, RoleMasterManager > RoleSalesManager)
	assert.True(t, RoleSalesManager > RoleMember)

	assert.Equal(t, "admin", RoleAdmin.String())
	assert.Equal(t, "master_manager", RoleMasterManager.String())
	assert.Equal(t, "sales_manager", RoleSalesManager.String())
	assert.Equal(t, "member", RoleMember.String())
}
