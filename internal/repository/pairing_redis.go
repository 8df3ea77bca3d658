package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openclaw/pairing-relay-go/internal/model"
	redisclient "github.com/openclaw/pairing-relay-go/internal/redis"
)

// KEYS[1] session key
// ARGV: code, created_at ms, expires_at ms, initiator_ref, key ttl ms
var insertSessionScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
    return 0
end
redis.call('HSET', KEYS[1],
    'code', ARGV[1],
    'status', 'pending',
    'created_at', ARGV[2],
    'expires_at', ARGV[3],
    'initiator_ref', ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return 1
`)

// KEYS[1] session key
// ARGV: now ms, responder_ref
var claimSessionScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if status ~= 'pending' then
    return 0
end
local expiresAt = tonumber(redis.call('HGET', KEYS[1], 'expires_at'))
local now = tonumber(ARGV[1])
if expiresAt == nil or expiresAt <= now then
    return 0
end
redis.call('HSET', KEYS[1],
    'status', 'claimed',
    'claimed_at', ARGV[1],
    'responder_ref', ARGV[2])
return 1
`)

type redisPairingRepo struct {
	client *redis.Client
	grace  time.Duration
}

// NewRedisPairingSessionRepository stores each session as a hash whose key
// outlives the session TTL by grace, so expired codes still read as expired
// rather than unknown until the key is evicted.
func NewRedisPairingSessionRepository(client *redis.Client, grace time.Duration) PairingSessionRepository {
	return &redisPairingRepo{client: client, grace: grace}
}

func (r *redisPairingRepo) Insert(ctx context.Context, session *model.PairingSession) error {
	keyTTL := session.ExpiresAt.Sub(session.CreatedAt) + r.grace
	if keyTTL < time.Millisecond {
		keyTTL = time.Millisecond
	}

	initiatorRef := ""
	if session.InitiatorRef != nil {
		initiatorRef = *session.InitiatorRef
	}

	inserted, err := insertSessionScript.Run(ctx, r.client,
		[]string{redisclient.PairingSessionKey(session.Code)},
		session.Code,
		toMillis(session.CreatedAt),
		toMillis(session.ExpiresAt),
		initiatorRef,
		keyTTL.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("insert pairing session: %w", err)
	}
	if inserted != 1 {
		return ErrCodeCollision
	}
	return nil
}

func (r *redisPairingRepo) Get(ctx context.Context, code string) (*model.PairingSession, error) {
	fields, err := r.client.HGetAll(ctx, redisclient.PairingSessionKey(code)).Result()
	if err != nil {
		return nil, fmt.Errorf("get pairing session: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return sessionFromHash(fields)
}

func (r *redisPairingRepo) CompareAndSetClaimed(ctx context.Context, code string, now time.Time, responderRef *string) error {
	ref := ""
	if responderRef != nil {
		ref = *responderRef
	}

	claimed, err := claimSessionScript.Run(ctx, r.client,
		[]string{redisclient.PairingSessionKey(code)},
		toMillis(now),
		ref,
	).Int()
	if err != nil {
		return fmt.Errorf("claim pairing session: %w", err)
	}
	if claimed != 1 {
		return ErrPreconditionFailed
	}
	return nil
}

// DeleteExpired is a no-op: key TTLs already evict sessions after the grace period.
func (r *redisPairingRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func sessionFromHash(fields map[string]string) (*model.PairingSession, error) {
	createdAt, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	expiresAt, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}

	s := &model.PairingSession{
		Code:      fields["code"],
		Status:    model.PairingStatus(fields["status"]),
		CreatedAt: fromMillis(createdAt),
		ExpiresAt: fromMillis(expiresAt),
	}
	if v := fields["initiator_ref"]; v != "" {
		s.InitiatorRef = &v
	}
	if v := fields["responder_ref"]; v != "" {
		s.ResponderRef = &v
	}
	if v, ok := fields["claimed_at"]; ok {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse claimed_at: %w", err)
		}
		t := fromMillis(ms)
		s.ClaimedAt = &t
	}
	return s, nil
}
