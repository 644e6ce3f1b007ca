package ledger

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

const redisKeyPrefix = "cryptobay:ledger:"

// RedisStore keeps one hash per user, field = symbol, value = amount. Keys
// are independent per user, so updates for different users never clobber
// each other; the engine's per-user lock serializes same-user updates.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(user string) string {
	return redisKeyPrefix + user
}

func (s *RedisStore) Load(ctx context.Context) (Book, error) {
	book := Book{}
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		fields, err := s.client.HGetAll(ctx, key).Result()
		if err != nil {
			log.Error().Err(err).Str("key", key).Msg("redis ledger read failed")
			return nil, fmt.Errorf("load ledger: %w", ErrPersistence)
		}
		book[key[len(redisKeyPrefix):]] = accountFromFields(fields)
	}
	if err := iter.Err(); err != nil {
		log.Error().Err(err).Msg("redis ledger scan failed")
		return nil, fmt.Errorf("load ledger: %w", ErrPersistence)
	}
	return book, nil
}

func (s *RedisStore) Update(ctx context.Context, user string, fn func(*Account) error) error {
	key := redisKey(user)

	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		log.Error().Err(err).Str("user", user).Msg("redis ledger read failed")
		return fmt.Errorf("load account: %w", ErrPersistence)
	}
	acct := accountFromFields(fields)

	before := make([]string, 0, len(acct.Balances))
	for sym := range acct.Balances {
		before = append(before, sym)
	}

	if err := fn(acct); err != nil {
		return err
	}

	if len(acct.Balances) == 0 {
		if err := s.client.Del(ctx, key).Err(); err != nil {
			log.Error().Err(err).Str("user", user).Msg("redis ledger write failed")
			return fmt.Errorf("save account: %w", ErrPersistence)
		}
		return nil
	}

	syms := make([]string, 0, len(acct.Balances))
	for sym := range acct.Balances {
		syms = append(syms, sym)
	}
	sort.Strings(syms)

	args := make([]interface{}, 0, len(syms)*2)
	for _, sym := range syms {
		args = append(args, sym, strconv.FormatFloat(acct.Balances[sym], 'g', -1, 64))
	}
	if err := s.client.HSet(ctx, key, args...).Err(); err != nil {
		log.Error().Err(err).Str("user", user).Msg("redis ledger write failed")
		return fmt.Errorf("save account: %w", ErrPersistence)
	}

	// Symbols the update drove below epsilon must not survive in the hash.
	sort.Strings(before)
	var removed []string
	for _, sym := range before {
		if _, ok := acct.Balances[sym]; !ok {
			removed = append(removed, sym)
		}
	}
	if len(removed) > 0 {
		if err := s.client.HDel(ctx, key, removed...).Err(); err != nil {
			log.Error().Err(err).Str("user", user).Msg("redis ledger cleanup failed")
			return fmt.Errorf("save account: %w", ErrPersistence)
		}
	}
	return nil
}

func accountFromFields(fields map[string]string) *Account {
	acct := NewAccount()
	for sym, raw := range fields {
		amt, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			log.Warn().Str("symbol", sym).Str("value", raw).Msg("skipping unparsable ledger field")
			continue
		}
		acct.Balances[sym] = amt
	}
	return acct
}
