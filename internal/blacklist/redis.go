package blacklist

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the revocation set in Redis. Layout:
//
//	<prefix>tok:<digest>  value = userID, TTL = token expiry  (primary entry)
//	<prefix>usr:<userID>  set of digests                       (logout-all index)
//	<prefix>exp           zset "<userID>:<digest>" -> expiry   (sweep index)
//
// Entries are keyed by the SHA-256 digest of the token value so key length
// stays bounded; the plaintext token never reaches Redis. SET NX on the
// primary entry is the rotation serialization point.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

const sweepBatch = 512

func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "bl:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) tokenKey(digest string) string { return s.prefix + "tok:" + digest }
func (s *RedisStore) userKey(userID int64) string {
	return s.prefix + "usr:" + strconv.FormatInt(userID, 10)
}
func (s *RedisStore) expiryKey() string { return s.prefix + "exp" }

func digestOf(tokenValue string) string {
	sum := sha256.Sum256([]byte(tokenValue))
	return hex.EncodeToString(sum[:])
}

func (s *RedisStore) Insert(ctx context.Context, entry Entry) error {
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		// Expiry already passed; keep the entry around briefly so a racing
		// rotation still loses deterministically.
		ttl = time.Minute
	}

	digest := digestOf(entry.Token)
	set, err := s.rdb.SetNX(ctx, s.tokenKey(digest), strconv.FormatInt(entry.UserID, 10), ttl).Result()
	if err != nil {
		return storeErr("insert", err)
	}
	if !set {
		return ErrDuplicate
	}

	member := fmt.Sprintf("%d:%s", entry.UserID, digest)
	pipe := s.rdb.Pipeline()
	pipe.SAdd(ctx, s.userKey(entry.UserID), digest)
	pipe.ZAdd(ctx, s.expiryKey(), redis.Z{Score: float64(entry.ExpiresAt.Unix()), Member: member})
	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("insert index", err)
	}
	return nil
}

func (s *RedisStore) Exists(ctx context.Context, tokenValue string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.tokenKey(digestOf(tokenValue))).Result()
	if err != nil {
		return false, storeErr("exists", err)
	}
	return n > 0, nil
}

// DeleteExpired purges index members whose expiry has passed. The primary
// entries self-expire through their TTLs, so the count reported here is the
// number of swept index members. Work proceeds in bounded batches so live
// Insert/Exists traffic is never blocked for long.
func (s *RedisStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var removed int64
	maxScore := strconv.FormatInt(now.Unix()-1, 10)

	for {
		members, err := s.rdb.ZRangeByScore(ctx, s.expiryKey(), &redis.ZRangeBy{
			Min:   "-inf",
			Max:   maxScore,
			Count: sweepBatch,
		}).Result()
		if err != nil {
			return removed, storeErr("sweep scan", err)
		}
		if len(members) == 0 {
			return removed, nil
		}

		pipe := s.rdb.Pipeline()
		zrem := make([]interface{}, 0, len(members))
		for _, member := range members {
			userPart, digest, ok := strings.Cut(member, ":")
			if ok {
				pipe.Del(ctx, s.tokenKey(digest))
				if userID, perr := strconv.ParseInt(userPart, 10, 64); perr == nil {
					pipe.SRem(ctx, s.userKey(userID), digest)
				}
			}
			zrem = append(zrem, member)
		}
		pipe.ZRem(ctx, s.expiryKey(), zrem...)
		if _, err := pipe.Exec(ctx); err != nil {
			return removed, storeErr("sweep delete", err)
		}
		removed += int64(len(members))
	}
}

func (s *RedisStore) DeleteByUser(ctx context.Context, userID int64) (int64, error) {
	digests, err := s.rdb.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return 0, storeErr("user scan", err)
	}
	if len(digests) == 0 {
		return 0, nil
	}

	pipe := s.rdb.Pipeline()
	delCmds := make([]*redis.IntCmd, 0, len(digests))
	zrem := make([]interface{}, 0, len(digests))
	for _, digest := range digests {
		delCmds = append(delCmds, pipe.Del(ctx, s.tokenKey(digest)))
		zrem = append(zrem, fmt.Sprintf("%d:%s", userID, digest))
	}
	pipe.ZRem(ctx, s.expiryKey(), zrem...)
	pipe.Del(ctx, s.userKey(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, storeErr("user delete", err)
	}

	var removed int64
	for _, cmd := range delCmds {
		removed += cmd.Val()
	}
	return removed, nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
