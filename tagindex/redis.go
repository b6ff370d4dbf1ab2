package tagindex

import (
	"context"
	"sort"

	"github.com/redis/go-redis/v9"
)

// retagScript replaces the tag set of one key and the matching reverse
// entries in one server-side step.
//
// KEYS[1] = keytags set of the cache key
// ARGV[1] = tag set prefix, ARGV[2] = cache key, ARGV[3..] = new tags
var retagScript = redis.NewScript(`
local old = redis.call("SMEMBERS", KEYS[1])
for _, t in ipairs(old) do
    redis.call("SREM", ARGV[1] .. t, ARGV[2])
end
redis.call("DEL", KEYS[1])
for i = 3, #ARGV do
    redis.call("SADD", ARGV[1] .. ARGV[i], ARGV[2])
    redis.call("SADD", KEYS[1], ARGV[i])
end
return #old
`)

// Redis stores the index as Redis sets so every replica sees the same
// associations:
//
//	tag:<ns>:<tag>     -> set of cache keys
//	keytags:<ns>:<key> -> set of tags
//
// The retag script touches keys it does not declare, so it needs a
// single-node (or single-slot) deployment.
type Redis struct {
	rdb redis.UniversalClient
	ns  string
}

var _ Index = (*Redis)(nil)

func NewRedis(client redis.UniversalClient, namespace string) *Redis {
	return &Redis{rdb: client, ns: namespace}
}

func (r *Redis) tagPrefix() string        { return "tag:" + r.ns + ":" }
func (r *Redis) keyTags(key string) string { return "keytags:" + r.ns + ":" + key }

func (r *Redis) TagsFor(ctx context.Context, key string) ([]string, error) {
	return r.members(ctx, r.keyTags(key))
}

func (r *Redis) KeysFor(ctx context.Context, tag string) ([]string, error) {
	return r.members(ctx, r.tagPrefix()+tag)
}

func (r *Redis) members(ctx context.Context, setKey string) ([]string, error) {
	m, err := r.rdb.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, nil
	}
	sort.Strings(m)
	return m, nil
}

func (r *Redis) Retag(ctx context.Context, key string, tags []string) error {
	tags = dedupe(tags)
	args := make([]any, 0, 2+len(tags))
	args = append(args, r.tagPrefix(), key)
	for _, t := range tags {
		args = append(args, t)
	}
	return retagScript.Run(ctx, r.rdb, []string{r.keyTags(key)}, args...).Err()
}

func (r *Redis) Remove(ctx context.Context, key string) error {
	return r.Retag(ctx, key, nil)
}

// Close does not close the client; it is shared with other components.
func (r *Redis) Close(context.Context) error { return nil }
