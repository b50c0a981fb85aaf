package handlers

import (
	"context"

	"certinv/internal/cache"
	"certinv/internal/inventory"
)

const listingCacheKey = "certificates:list"

// ListingInvalidator drops the cached certificate listing whenever the
// inventory changes. Team changes count too since listings embed the team.
func ListingInvalidator(listings *cache.Cache) inventory.Notifier {
	return inventory.NotifierFunc(func(context.Context, inventory.Change) {
		listings.Invalidate(listingCacheKey)
	})
}
