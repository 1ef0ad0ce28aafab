package coordination

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ResumeStore maps a resumeToken to the agentID it reclaims. Whether tokens
// survive a server restart is unspecified by spec.md §4.11 — we resolve
// that Open Question (see DESIGN.md) with two implementations: an
// in-memory store (tokens do not survive restart) and an optional
// Redis-backed store (tokens persist with a bounded TTL).
type ResumeStore interface {
	// Put associates token with agentID, refreshing its TTL if backed by one.
	Put(ctx context.Context, token, agentID string) error
	// Resolve returns the agentID for token, or "" if unknown/expired.
	Resolve(ctx context.Context, token string) (string, error)
}

// memoryResumeStore is the default: a process-local map, cleared on
// restart.
type memoryResumeStore struct {
	tokens map[string]string
}

// NewMemoryResumeStore returns the in-memory ResumeStore.
func NewMemoryResumeStore() ResumeStore {
	return &memoryResumeStore{tokens: make(map[string]string)}
}

func (m *memoryResumeStore) Put(ctx context.Context, token, agentID string) error {
	m.tokens[token] = agentID
	return nil
}

func (m *memoryResumeStore) Resolve(ctx context.Context, token string) (string, error) {
	return m.tokens[token], nil
}

// redisResumeStore persists tokens in Redis with a bounded TTL so an
// agent's identity survives a coordination-server restart, grounded on the
// teacher's go-redis client usage pattern elsewhere in the corpus for
// simple key/value caches.
type redisResumeStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisResumeStore returns a ResumeStore backed by rdb. ttl<=0 uses a
// 24h default, matching config.RedisConfig's default.
func NewRedisResumeStore(rdb *redis.Client, ttl time.Duration) ResumeStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &redisResumeStore{client: rdb, ttl: ttl, prefix: "cogmem:resume:"}
}

func (r *redisResumeStore) Put(ctx context.Context, token, agentID string) error {
	if err := r.client.Set(ctx, r.prefix+token, agentID, r.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("token", token).Msg("coordination: redis resume token store failed")
		return err
	}
	return nil
}

func (r *redisResumeStore) Resolve(ctx context.Context, token string) (string, error) {
	agentID, err := r.client.Get(ctx, r.prefix+token).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		log.Warn().Err(err).Str("token", token).Msg("coordination: redis resume token lookup failed")
		return "", err
	}
	return agentID, nil
}
