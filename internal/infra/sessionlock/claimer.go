// Package sessionlock keeps two requests from verifying the same checkout
// session at the same time.
package sessionlock

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "donation:verify:"

// releaseScript deletes the claim only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisClaimer struct {
	db     *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisClaimer(db *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisClaimer {
	return &RedisClaimer{db: db, ttl: ttl, logger: logger}
}

// Claim reports whether the caller now owns the session and returns the token
// that releases it. Redis failures fail open with an empty token: registry id
// uniqueness still rejects duplicate records.
func (c *RedisClaimer) Claim(ctx context.Context, sessionID string) (string, bool, error) {
	token := uuid.NewString()
	set, err := c.db.SetNX(ctx, keyPrefix+sessionID, token, c.ttl).Result()
	if err != nil {
		c.logger.Warn("redis claim failed, continuing without claim", "sessionId", sessionID, "err", err)
		return "", true, nil
	}
	if !set {
		c.logger.Debug("session already claimed", "sessionId", sessionID)
		return "", false, nil
	}
	return token, true, nil
}

func (c *RedisClaimer) Release(ctx context.Context, sessionID, token string) {
	if token == "" {
		return
	}
	if err := releaseScript.Run(ctx, c.db, []string{keyPrefix + sessionID}, token).Err(); err != nil {
		c.logger.Warn("redis release failed", "sessionId", sessionID, "err", err)
	}
}

func (c *RedisClaimer) Ping(ctx context.Context) error {
	return c.db.Ping(ctx).Err()
}

type memoryClaim struct {
	token   string
	expires time.Time
}

type MemoryClaimer struct {
	mu      sync.Mutex
	ttl     time.Duration
	claimed map[string]memoryClaim
	now     func() time.Time
}

func NewMemoryClaimer(ttl time.Duration) *MemoryClaimer {
	return &MemoryClaimer{
		ttl:     ttl,
		claimed: make(map[string]memoryClaim),
		now:     time.Now,
	}
}

func (m *MemoryClaimer) Claim(_ context.Context, sessionID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if c, ok := m.claimed[sessionID]; ok && now.Before(c.expires) {
		return "", false, nil
	}

	for id, c := range m.claimed {
		if !now.Before(c.expires) {
			delete(m.claimed, id)
		}
	}

	token := uuid.NewString()
	m.claimed[sessionID] = memoryClaim{token: token, expires: now.Add(m.ttl)}
	return token, true, nil
}

func (m *MemoryClaimer) Release(_ context.Context, sessionID, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.claimed[sessionID]; ok && c.token == token {
		delete(m.claimed, sessionID)
	}
}
