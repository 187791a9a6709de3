package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestVault(t *testing.T) (*CredentialVault, *MockClock) {
	t.Helper()
	cipher, err := NewCredentialCipher(deriveEncryptionKey("vault-test"))
	require.NoError(t, err)
	clock := testClock()
	return NewCredentialVault(setupTestDB(t), cipher, clock), clock
}

func TestAddMasterManagerReportsCreatedThenExisting(t *testing.T) {
	vault, _ := setupTestVault(t)

	created, err := vault.AddMasterManager(100, "Aziz Karimov", "aziz", 1)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = vault.AddMasterManager(100, "Aziz K.", "aziz", 1)
	require.NoError(t, err)
	assert.False(t, created)

	managers, err := vault.ListMasterManagers()
	require.NoError(t, err)
	require.Len(t, managers, 1)
	assert.Equal(t, "Aziz K.", managers[0].FullName)

	isMaster, err := vault.IsMasterManager(100)
	require.NoError(t, err)
	assert.True(t, isMaster)
}

func TestRemoveMasterManagerClearsGroupBinding(t *testing.T) {
	vault, _ := setupTestVault(t)

	_, err := vault.AddMasterManager(100, "Aziz", "aziz", 1)
	require.NoError(t, err)
	require.NoError(t, vault.TouchGroup(-500, "Savdo guruhi"))
	require.NoError(t, vault.AssignGroupToMaster(-500, 100))

	group, err := vault.GetGroup(-500)
	require.NoError(t, err)
	require.NotNil(t, group.MasterManagerID)
	assert.Equal(t, int64(100), *group.MasterManagerID)

	require.NoError(t, vault.RemoveMasterManager(100))

	isMaster, err := vault.IsMasterManager(100)
	require.NoError(t, err)
	assert.False(t, isMaster)

	group, err = vault.GetGroup(-500)
	require.NoError(t, err)
	assert.Nil(t, group.MasterManagerID)
}

func TestTouchGroupKeepsTitleWhenEmpty(t *testing.T) {
	vault, clock := setupTestVault(t)

	require.NoError(t, vault.TouchGroup(-500, "Savdo guruhi"))
	clock.Advance(time.Minute)
	require.NoError(t, vault.TouchGroup(-500, ""))

	group, err := vault.GetGroup(-500)
	require.NoError(t, err)
	assert.Equal(t, "Savdo guruhi", group.Title)
	assert.True(t, group.UpdatedAt.After(group.CreatedAt))

	require.NoError(t, vault.TouchGroup(-500, "Yangi nom"))
	group, err = vault.GetGroup(-500)
	require.NoError(t, err)
	assert.Equal(t, "Yangi nom", group.Title)
}

func TestUpsertGroupMemberTracksPresence(t *testing.T) {
	vault, clock := setupTestVault(t)

	require.NoError(t, vault.UpsertGroupMember(-500, 200, "bek", "Bekzod", "salom"))
	clock.Advance(time.Hour)
	require.NoError(t, vault.UpsertGroupMember(-500, 200, "bek", "Bekzod T.", "buyurtma bor"))

	member, err := vault.GetGroupMember(-500, 200)
	require.NoError(t, err)
	require.NotNil(t, member)
	assert.Equal(t, "Bekzod T.", member.FullName)
	assert.Equal(t, "buyurtma bor", member.LastMessage)
	assert.True(t, member.LastSeen.After(member.FirstSeen))

	missing, err := vault.GetGroupMember(-500, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestListGroupMembersSortsByName(t *testing.T) {
	vault, _ := setupTestVault(t)

	require.NoError(t, vault.UpsertGroupMember(-500, 1, "", "zulfiya", ""))
	require.NoError(t, vault.UpsertGroupMember(-500, 2, "", "Aziz", ""))
	require.NoError(t, vault.UpsertGroupMember(-500, 3, "", "bekzod", ""))
	require.NoError(t, vault.UpsertGroupMember(-600, 4, "", "Other Group", ""))

	members, err := vault.ListGroupMembers(-500)
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, "Aziz", members[0].FullName)
	assert.Equal(t, "bekzod", members[1].FullName)
	assert.Equal(t, "zulfiya", members[2].FullName)
}

func TestAssignSalesManagerConflict(t *testing.T) {
	vault, _ := setupTestVault(t)

	require.NoError(t, vault.TouchGroup(-500, "A"))
	require.NoError(t, vault.TouchGroup(-600, "B"))
	require.NoError(t, vault.AssignSalesManager(200, -500, "bek", "Bekzod"))

	// Same group again is a refresh, not a conflict.
	require.NoError(t, vault.AssignSalesManager(200, -500, "bek", "Bekzod T."))

	err := vault.AssignSalesManager(200, -600, "bek", "Bekzod")
	assert.ErrorIs(t, err, ErrAlreadyAssigned)

	// The failed assignment must not disturb the original binding.
	manager, err := vault.GetSalesManager(200)
	require.NoError(t, err)
	require.NotNil(t, manager)
	assert.Equal(t, int64(-500), manager.GroupChatID)
	assert.Equal(t, "Bekzod T.", manager.FullName)
	assert.Equal(t, StatusAwaitingAPI, manager.Status)

	groupB, err := vault.GetGroup(-600)
	require.NoError(t, err)
	assert.Nil(t, groupB.SalesManagerID)
}

func TestClearSalesManagerUnbindsGroup(t *testing.T) {
	vault, _ := setupTestVault(t)

	require.NoError(t, vault.TouchGroup(-500, "A"))
	require.NoError(t, vault.AssignSalesManager(200, -500, "bek", "Bekzod"))
	require.NoError(t, vault.ClearSalesManager(200))

	manager, err := vault.GetSalesManager(200)
	require.NoError(t, err)
	assert.Nil(t, manager)

	group, err := vault.GetGroup(-500)
	require.NoError(t, err)
	assert.Nil(t, group.SalesManagerID)
}

func TestCredentialsRoundtripThroughVault(t *testing.T) {
	vault, _ := setupTestVault(t)

	require.NoError(t, vault.TouchGroup(-500, "A"))
	require.NoError(t, vault.AssignSalesManager(200, -500, "bek", "Bekzod"))

	// No credentials submitted yet.
	creds, err := vault.GetGroupCredentials(-500)
	require.NoError(t, err)
	assert.Nil(t, creds)

	require.NoError(t, vault.StoreCredentials(200, "my-key", "my-secret", StatusActive))

	creds, err = vault.GetGroupCredentials(-500)
	require.NoError(t, err)
	require.NotNil(t, creds)
	assert.Equal(t, int64(200), creds.ManagerID)
	assert.Equal(t, "my-key", creds.APIKey)
	assert.Equal(t, "my-secret", creds.APISecret)
	assert.Equal(t, StatusActive, creds.Status)

	// Ciphertext in the row must not contain the plaintext.
	manager, err := vault.GetSalesManager(200)
	require.NoError(t, err)
	assert.NotContains(t, manager.EncryptedAPIKey, "my-key")
	assert.NotContains(t, manager.EncryptedAPISecret, "my-secret")
}

func TestGetGroupCredentialsForUnboundGroup(t *testing.T) {
	vault, _ := setupTestVault(t)

	creds, err := vault.GetGroupCredentials(-999)
	require.NoError(t, err)
	assert.Nil(t, creds)

	require.NoError(t, vault.TouchGroup(-500, "A"))
	creds, err = vault.GetGroupCredentials(-500)
	require.NoError(t, err)
	assert.Nil(t, creds)
}

func TestOrderAuditTrail(t *testing.T) {
	vault, clock := setupTestVault(t)

	first, err := vault.LogOrderRequest(-500, 300, map[string]interface{}{"phone": "998901234567"}, 200, "created")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	second, err := vault.LogOrderRequest(-500, 301, map[string]interface{}{"phone": "998907654321"}, 200, "created")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	orders, err := vault.ListOrders("", 10)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, second, orders[0].ID, "newest first")
	assert.Contains(t, orders[0].Payload, "998907654321")

	require.NoError(t, vault.UpdateOrderStatus(first, "delivered"))
	delivered, err := vault.ListOrders("delivered", 10)
	require.NoError(t, err)
	require.Len(t, delivered, 1)
	assert.Equal(t, first, delivered[0].ID)
}
