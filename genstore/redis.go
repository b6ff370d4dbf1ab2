package genstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// bumpScript assigns each hash the next number of the store-wide sequence.
//
// KEYS[1] = sequence, KEYS[2..] = generation hashes
// ARGV[1] = profile, ARGV[2] = bump time (unix ns), ARGV[3] = ttl in ms, 0 = none
var bumpScript = redis.NewScript(`
local n = 0
for i = 2, #KEYS do
    n = redis.call("INCR", KEYS[1])
    redis.call("HSET", KEYS[i], "n", n, "profile", ARGV[1], "at", ARGV[2])
    if tonumber(ARGV[3]) > 0 then
        redis.call("PEXPIRE", KEYS[i], ARGV[3])
    end
end
return n
`)

// Redis shares generations across replicas and survives restarts. Each key
// is a hash {n, profile, at}. With ttl > 0 the hash expires ttl after the
// last bump; an expired generation reads as 0. Numbers come from the
// never-expiring gen:<ns>:seq counter, so an expired generation is never
// reissued. The bump script spans several keys and needs a single-node (or
// single-slot) deployment.
type Redis struct {
	rdb redis.UniversalClient
	ns  string
	ttl time.Duration
}

var _ GenStore = (*Redis)(nil)

func NewRedis(client redis.UniversalClient, namespace string, ttl time.Duration) *Redis {
	return &Redis{rdb: client, ns: namespace, ttl: ttl}
}

func (s *Redis) key(k string) string { return "gen:" + s.ns + ":" + k }

// seqKey cannot clash with key(): storage keys carry an "entry:" prefix.
func (s *Redis) seqKey() string { return "gen:" + s.ns + ":seq" }

func (s *Redis) Snapshot(ctx context.Context, storageKey string) (Gen, error) {
	m, err := s.rdb.HGetAll(ctx, s.key(storageKey)).Result()
	if err != nil {
		return Gen{}, err
	}
	return parseGen(m)
}

func parseGen(m map[string]string) (Gen, error) {
	var g Gen
	if len(m) == 0 {
		return g, nil
	}
	if v, ok := m["n"]; ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return Gen{}, fmt.Errorf("redis gen parse: %w", err)
		}
		g.N = n
	}
	g.Profile = m["profile"]
	if v, ok := m["at"]; ok {
		ns, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Gen{}, fmt.Errorf("redis gen time parse: %w", err)
		}
		g.BumpedAt = time.Unix(0, ns)
	}
	return g, nil
}

func (s *Redis) Bump(ctx context.Context, storageKey, profile string) (Gen, error) {
	now := time.Now()
	n, err := s.bump(ctx, []string{storageKey}, profile, now)
	if err != nil {
		return Gen{}, err
	}
	return Gen{N: n, Profile: profile, BumpedAt: now}, nil
}

// BumpMany bumps all keys in one script call.
func (s *Redis) BumpMany(ctx context.Context, storageKeys []string, profile string) error {
	if len(storageKeys) == 0 {
		return nil
	}
	_, err := s.bump(ctx, storageKeys, profile, time.Now())
	return err
}

func (s *Redis) bump(ctx context.Context, storageKeys []string, profile string, at time.Time) (uint64, error) {
	keys := make([]string, 0, len(storageKeys)+1)
	keys = append(keys, s.seqKey())
	for _, sk := range storageKeys {
		keys = append(keys, s.key(sk))
	}
	n, err := bumpScript.Run(ctx, s.rdb, keys,
		profile, strconv.FormatInt(at.UnixNano(), 10), s.ttl.Milliseconds()).Uint64()
	if err != nil {
		return 0, fmt.Errorf("redis gen bump: %w", err)
	}
	return n, nil
}

// Cleanup is not applicable; Redis expires keys when ttl is set.
func (s *Redis) Cleanup(time.Duration) {}

// Close does not close the client; it is shared with other components.
func (s *Redis) Close(context.Context) error { return nil }
