package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/digitaldna/pkg/dna"
	"github.com/Mindburn-Labs/digitaldna/pkg/federation"
	"github.com/Mindburn-Labs/digitaldna/pkg/policy"
)

// saveLatestScript replaces the latest DNA only when the incoming one is not older.
// KEYS[1] = latest hash key
// ARGV[1] = generation stamp (fixed width)
// ARGV[2] = document
var saveLatestScript = redis.NewScript(`
local current = redis.call("HGET", KEYS[1], "at")
if current and current > ARGV[1] then
    return 0
end
redis.call("HSET", KEYS[1], "at", ARGV[1], "doc", ARGV[2])
return 1
`)

// saveDecisionScript upserts a decision and indexes new ids under the entity.
// KEYS[1] = decision key
// KEYS[2] = entity index list
// ARGV[1] = document
// ARGV[2] = decision id
var saveDecisionScript = redis.NewScript(`
local existed = redis.call("EXISTS", KEYS[1])
redis.call("SET", KEYS[1], ARGV[1])
if existed == 0 then
    redis.call("RPUSH", KEYS[2], ARGV[2])
end
return existed
`)

// RedisStore implements Store on Redis strings, hashes and lists.
type RedisStore struct {
	client *redis.Client
	prefix string
	schema string
}

// NewRedisStore creates a store backed by Redis. Keys are namespaced by prefix.
func NewRedisStore(addr, password string, db int, prefix string) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStore{client: rdb, prefix: prefix, schema: dna.DefaultSchemaVersion}
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) key(parts ...any) string {
	return s.prefix + fmt.Sprint(parts...)
}

func (s *RedisStore) SaveDNA(ctx context.Context, d dna.DigitalDNA) error {
	doc, err := encode(d)
	if err != nil {
		return err
	}
	key := s.key("dna:", d.EntityID, ":latest")
	if err := saveLatestScript.Run(ctx, s.client, []string{key}, stamp(d.GenerationTimestamp), doc).Err(); err != nil {
		return fmt.Errorf("store: redis save dna: %w", err)
	}
	return nil
}

func (s *RedisStore) LatestDNA(ctx context.Context, entityID string) (dna.DigitalDNA, error) {
	doc, err := s.client.HGet(ctx, s.key("dna:", entityID, ":latest"), "doc").Result()
	if errors.Is(err, redis.Nil) {
		return dna.DigitalDNA{}, fmt.Errorf("%w: dna for %s", ErrNotFound, entityID)
	}
	if err != nil {
		return dna.DigitalDNA{}, fmt.Errorf("store: redis latest dna: %w", err)
	}
	d, err := decode[dna.DigitalDNA](doc)
	if err != nil {
		return dna.DigitalDNA{}, err
	}
	return checkSchema(s.schema, d)
}

func (s *RedisStore) SaveConsensus(ctx context.Context, r federation.ConsensusResult) error {
	doc, err := encode(r)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key("consensus:", r.ConsensusID), doc, 0).Err(); err != nil {
		return fmt.Errorf("store: redis save consensus: %w", err)
	}
	return nil
}

func (s *RedisStore) GetConsensus(ctx context.Context, id string) (federation.ConsensusResult, error) {
	doc, err := s.get(ctx, s.key("consensus:", id))
	if err != nil {
		return federation.ConsensusResult{}, fmt.Errorf("consensus %s: %w", id, err)
	}
	return decode[federation.ConsensusResult](doc)
}

func (s *RedisStore) SaveDecision(ctx context.Context, d policy.AccessDecision) error {
	doc, err := encode(d)
	if err != nil {
		return err
	}
	keys := []string{s.key("decision:", d.DecisionID), s.key("decisions:", d.EntityID)}
	if err := saveDecisionScript.Run(ctx, s.client, keys, doc, d.DecisionID).Err(); err != nil {
		return fmt.Errorf("store: redis save decision: %w", err)
	}
	return nil
}

func (s *RedisStore) GetDecision(ctx context.Context, id string) (policy.AccessDecision, error) {
	doc, err := s.get(ctx, s.key("decision:", id))
	if err != nil {
		return policy.AccessDecision{}, fmt.Errorf("decision %s: %w", id, err)
	}
	return decode[policy.AccessDecision](doc)
}

func (s *RedisStore) ListDecisions(ctx context.Context, entityID string) ([]policy.AccessDecision, error) {
	ids, err := s.client.LRange(ctx, s.key("decisions:", entityID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("store: redis list decisions: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key("decision:", id)
	}
	docs, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("store: redis load decisions: %w", err)
	}
	out := make([]policy.AccessDecision, 0, len(docs))
	for _, raw := range docs {
		doc, ok := raw.(string)
		if !ok {
			continue
		}
		d, err := decode[policy.AccessDecision](doc)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *RedisStore) get(ctx context.Context, key string) (string, error) {
	doc, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: redis get: %w", err)
	}
	return doc, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }
