package refresh

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	consumeStatusNotFound int64 = 0
	consumeStatusRevoked  int64 = 1
	consumeStatusExpired  int64 = 2
	consumeStatusConsumed int64 = 3
)

// Defunct records stay readable for this long past expiry so replay of a
// recently-rotated token is still classified as revoked, not unknown.
const defunctRetention = 24 * time.Hour

const consumeScript = `
local vals = redis.call("HMGET", KEYS[1], "id", "owner", "ip", "ua", "created_at", "expires_at", "revoked")
if not vals[1] then
  return {0}
end
if vals[7] == "1" then
  return {1, vals[1], vals[2], vals[3], vals[4], vals[5], vals[6]}
end
if tonumber(vals[6]) <= tonumber(ARGV[1]) then
  return {2}
end
redis.call("HSET", KEYS[1], "revoked", "1")
return {3, vals[1], vals[2], vals[3], vals[4], vals[5], vals[6]}
`

var consumeLua = redis.NewScript(consumeScript)

const revokeScript = `
local revoked = redis.call("HGET", KEYS[1], "revoked")
if revoked == false or revoked == "1" then
  return 0
end
redis.call("HSET", KEYS[1], "revoked", "1")
return 1
`

var revokeLua = redis.NewScript(revokeScript)

// RedisStorage keeps one hash per token plus a per-owner index set. The
// consume path is a single Lua round trip, so concurrent rotations of
// the same token resolve to exactly one winner.
type RedisStorage struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStorage creates a [RedisStorage]. prefix namespaces all keys.
func NewRedisStorage(client redis.UniversalClient, prefix string) *RedisStorage {
	if prefix == "" {
		prefix = "rt"
	}
	return &RedisStorage{redis: client, prefix: prefix}
}

func (r *RedisStorage) tokenKey(raw string) string { return r.prefix + ":t:" + raw }
func (r *RedisStorage) ownerKey(owner string) string { return r.prefix + ":o:" + owner }

// Insert implements [Storage].
func (r *RedisStorage) Insert(ctx context.Context, tok *Token) error {
	key := r.tokenKey(tok.Token)
	retainUntil := tok.ExpiresAt.Add(defunctRetention)

	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"id", tok.ID,
			"owner", tok.OwnerID,
			"ip", tok.IP,
			"ua", tok.UserAgent,
			"created_at", strconv.FormatInt(tok.CreatedAt.UnixMilli(), 10),
			"expires_at", strconv.FormatInt(tok.ExpiresAt.UnixMilli(), 10),
			"revoked", "0",
		)
		pipe.PExpireAt(ctx, key, retainUntil)
		pipe.SAdd(ctx, r.ownerKey(tok.OwnerID), tok.Token)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get implements [Storage].
func (r *RedisStorage) Get(ctx context.Context, token string) (*Token, error) {
	fields, err := r.redis.HGetAll(ctx, r.tokenKey(token)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return tokenFromFields(token, fields)
}

// Consume implements [Storage]. The revoked classification returns the
// record alongside the error so the caller can revoke the owner family.
func (r *RedisStorage) Consume(ctx context.Context, token string, now time.Time) (*Token, error) {
	result, err := consumeLua.Run(ctx, r.redis,
		[]string{r.tokenKey(token)},
		now.UnixMilli(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("%w: invalid consume script response", ErrUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid consume script status", ErrUnavailable)
	}

	switch code {
	case consumeStatusNotFound:
		return nil, ErrNotFound
	case consumeStatusExpired:
		return nil, ErrExpired
	case consumeStatusRevoked:
		tok, parseErr := tokenFromParts(token, parts[1:])
		if parseErr != nil {
			return nil, parseErr
		}
		tok.Revoked = true
		return tok, ErrRevoked
	case consumeStatusConsumed:
		tok, parseErr := tokenFromParts(token, parts[1:])
		if parseErr != nil {
			return nil, parseErr
		}
		return tok, nil
	default:
		return nil, fmt.Errorf("%w: unknown consume script status", ErrUnavailable)
	}
}

// Revoke implements [Storage]. Unknown and already-revoked tokens are no-ops.
func (r *RedisStorage) Revoke(ctx context.Context, token string) error {
	if err := revokeLua.Run(ctx, r.redis, []string{r.tokenKey(token)}).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// RevokeAllForOwner implements [Storage].
func (r *RedisStorage) RevokeAllForOwner(ctx context.Context, ownerID string) (int, error) {
	members, err := r.redis.SMembers(ctx, r.ownerKey(ownerID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	flipped := 0
	for _, raw := range members {
		n, runErr := revokeLua.Run(ctx, r.redis, []string{r.tokenKey(raw)}).Int()
		if runErr != nil {
			return flipped, fmt.Errorf("%w: %v", ErrUnavailable, runErr)
		}
		flipped += n
	}
	return flipped, nil
}

// ActiveForOwner implements [Storage]. Index members whose records have
// already fallen out of Redis are pruned from the set as a side effect.
func (r *RedisStorage) ActiveForOwner(ctx context.Context, ownerID string, now time.Time) ([]*Token, error) {
	ownerKey := r.ownerKey(ownerID)
	members, err := r.redis.SMembers(ctx, ownerKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	pipe := r.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(members))
	for i, raw := range members {
		cmds[i] = pipe.HGetAll(ctx, r.tokenKey(raw))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var (
		active []*Token
		stale  []interface{}
	)
	for i, cmd := range cmds {
		fields, cmdErr := cmd.Result()
		if cmdErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, cmdErr)
		}
		if len(fields) == 0 {
			stale = append(stale, members[i])
			continue
		}
		tok, parseErr := tokenFromFields(members[i], fields)
		if parseErr != nil {
			return nil, parseErr
		}
		if tok.Alive(now) {
			active = append(active, tok)
		}
	}

	if len(stale) > 0 {
		if err := r.redis.SRem(ctx, ownerKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})
	return active, nil
}

// PurgeDefunct implements [Storage] by scanning token hashes and
// deleting revoked or expired ones together with their index entries.
func (r *RedisStorage) PurgeDefunct(ctx context.Context, now time.Time) (int, error) {
	var (
		cursor uint64
		purged int
	)
	pattern := r.prefix + ":t:*"
	nowMilli := now.UnixMilli()

	for {
		keys, next, err := r.redis.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return purged, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		for _, key := range keys {
			vals, err := r.redis.HMGet(ctx, key, "owner", "expires_at", "revoked").Result()
			if err != nil {
				return purged, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			owner, _ := vals[0].(string)
			expiresRaw, _ := vals[1].(string)
			revoked, _ := vals[2].(string)
			if owner == "" {
				continue
			}
			expires, _ := strconv.ParseInt(expiresRaw, 10, 64)

			if revoked != "1" && expires > nowMilli {
				continue
			}

			raw := key[len(r.prefix)+len(":t:"):]
			_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.SRem(ctx, r.ownerKey(owner), raw)
				return nil
			})
			if err != nil {
				return purged, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			purged++
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}
	return purged, nil
}

func tokenFromFields(raw string, fields map[string]string) (*Token, error) {
	createdAt, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt created_at", ErrUnavailable)
	}
	expiresAt, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt expires_at", ErrUnavailable)
	}
	return &Token{
		ID:        fields["id"],
		Token:     raw,
		OwnerID:   fields["owner"],
		IP:        fields["ip"],
		UserAgent: fields["ua"],
		CreatedAt: time.UnixMilli(createdAt),
		ExpiresAt: time.UnixMilli(expiresAt),
		Revoked:   fields["revoked"] == "1",
	}, nil
}

func tokenFromParts(raw string, parts []interface{}) (*Token, error) {
	if len(parts) < 6 {
		return nil, fmt.Errorf("%w: truncated consume script payload", ErrUnavailable)
	}
	fields := map[string]string{"revoked": "0"}
	names := []string{"id", "owner", "ip", "ua", "created_at", "expires_at"}
	for i, name := range names {
		s, ok := parts[i].(string)
		if !ok {
			if b, isBytes := parts[i].([]byte); isBytes {
				s = string(b)
			} else if parts[i] != nil {
				return nil, fmt.Errorf("%w: invalid consume script payload", ErrUnavailable)
			}
		}
		fields[name] = s
	}
	return tokenFromFields(raw, fields)
}
