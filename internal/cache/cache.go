// Package cache holds the latest monitoring status per server.
package cache

import (
	"time"

	"github.com/fgeck/gorestart-homelab/internal/models"
	gocache "github.com/patrickmn/go-cache"
)

// StatusCache defines the interface for server status caching
type StatusCache interface {
	Get(serverID string) (models.ServerHealth, bool)
	Set(health models.ServerHealth)
	All() map[string]models.ServerHealth
	Delete(serverID string)
	Clear()
}

// TTLCache implements StatusCache with time-to-live support. Entries that are
// not refreshed within the TTL disappear, so a stalled monitor reads as unknown.
type TTLCache struct {
	data *gocache.Cache
}

// New creates a new TTL cache with default cleanup interval
func New(ttl time.Duration) *TTLCache {
	return &TTLCache{
		data: gocache.New(ttl, ttl*2),
	}
}

// Get retrieves the status of a server
func (c *TTLCache) Get(serverID string) (models.ServerHealth, bool) {
	v, ok := c.data.Get(serverID)
	if !ok {
		return models.ServerHealth{}, false
	}
	h, ok := v.(models.ServerHealth)
	return h, ok
}

// Set stores the status of a server with the default TTL
func (c *TTLCache) Set(health models.ServerHealth) {
	c.data.SetDefault(health.ServerID, health)
}

// All returns every unexpired status keyed by server ID
func (c *TTLCache) All() map[string]models.ServerHealth {
	items := c.data.Items()
	out := make(map[string]models.ServerHealth, len(items))
	for id, item := range items {
		if h, ok := item.Object.(models.ServerHealth); ok {
			out[id] = h
		}
	}
	return out
}

// Delete removes a server from the cache
func (c *TTLCache) Delete(serverID string) {
	c.data.Delete(serverID)
}

// Clear removes all values from the cache
func (c *TTLCache) Clear() {
	c.data.Flush()
}
