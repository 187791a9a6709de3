package main

import (
	"time"

	"golang.org/x/time/rate"
)

// checkOrderRate limits how often one operator may start an order flow.
// Flood control only; it gates /order, not mid-flow replies.
func (b *Bot) checkOrderRate(userID int64) bool {
	b.orderLimitersMu.Lock()
	defer b.orderLimitersMu.Unlock()

	limiter, exists := b.orderLimiters[userID]
	if !exists {
		perMinute := b.config.OrdersPerMinute
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
		b.orderLimiters[userID] = limiter
	}
	return limiter.Allow()
}
