package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/blockjoy/controlplane/internal/ids"
)

// PermissionCache memoizes RBAC permissions_for(user, org) lookups in Redis,
// keyed per (user, org) and invalidated per-user on grant/revoke.
type PermissionCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPermissionCache wraps an existing redis client. A zero ttl defaults to
// five minutes.
func NewPermissionCache(client *redis.Client, ttl time.Duration) *PermissionCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PermissionCache{client: client, ttl: ttl}
}

func permissionKey(userID, orgID string) string {
	return fmt.Sprintf("rbac:perms:%s:%s", userID, orgID)
}

func permissionUserIndexKey(userID string) string {
	return fmt.Sprintf("rbac:perms:user:%s", userID)
}

// Get returns a cached permission list, if present and unexpired.
func (c *PermissionCache) Get(ctx context.Context, userID ids.UserID, orgID ids.OrgID) ([]string, bool) {
	raw, err := c.client.Get(ctx, permissionKey(userID.String(), orgID.String())).Bytes()
	if err != nil {
		return nil, false
	}
	var perms []string
	if err := json.Unmarshal(raw, &perms); err != nil {
		return nil, false
	}
	return perms, true
}

// Set stores a permission list and records the key in a per-user index set
// so Invalidate can drop every org entry for that user in one pass.
func (c *PermissionCache) Set(ctx context.Context, userID ids.UserID, orgID ids.OrgID, perms []string) {
	raw, err := json.Marshal(perms)
	if err != nil {
		return
	}
	key := permissionKey(userID.String(), orgID.String())
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, key, raw, c.ttl)
	pipe.SAdd(ctx, permissionUserIndexKey(userID.String()), key)
	pipe.Expire(ctx, permissionUserIndexKey(userID.String()), c.ttl)
	_, _ = pipe.Exec(ctx)
}

// Invalidate drops every cached permission entry for a user across all
// their orgs.
func (c *PermissionCache) Invalidate(ctx context.Context, userID ids.UserID) {
	indexKey := permissionUserIndexKey(userID.String())
	keys, err := c.client.SMembers(ctx, indexKey).Result()
	if err != nil || len(keys) == 0 {
		c.client.Del(ctx, indexKey)
		return
	}
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.Del(ctx, indexKey)
	_, _ = pipe.Exec(ctx)
}
