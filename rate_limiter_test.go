package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckOrderRateAllowsBurstThenDenies(t *testing.T) {
	b, _ := newTestBot(t, "http://unused")

	for i := 0; i < b.config.OrdersPerMinute; i++ {
		assert.True(t, b.checkOrderRate(300), "request %d within the burst must pass", i+1)
	}
	assert.False(t, b.checkOrderRate(300))
}

func TestCheckOrderRateIsPerUser(t *testing.T) {
	b, _ := newTestBot(t, "http://unused")

	for i := 0; i < b.config.OrdersPerMinute; i++ {
		require.True(t, b.checkOrderRate(300))
	}
	assert.False(t, b.checkOrderRate(300))
	assert.True(t, b.checkOrderRate(301), "another user has an independent limiter")
}

func TestOrderCommandRateLimited(t *testing.T) {
	b, rec := newTestBot(t, "http://unused")
	require.NoError(t, b.vault.TouchGroup(testGroupID, "A"))

	for i := 0; i < b.config.OrdersPerMinute+1; i++ {
		dispatch(b, messageUpdate(groupMessage(testGroupID, 300, "Olim", "/order")))
	}
	assert.Contains(t, rec.LastTextFor(t, testGroupID), "Juda ko'p so'rov")
}
