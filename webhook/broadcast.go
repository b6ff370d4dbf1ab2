package webhook

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/tidwall/gjson"

	"github.com/unkn0wn-root/tagcache"
)

// BroadcastChannel is the Redis Pub/Sub channel carrying tag invalidations
// between replicas whose index and generations are process-local.
const BroadcastChannel = "tagcache:invalidate"

type broadcastMsg struct {
	Tag     string `json:"tag"`
	Profile string `json:"profile,omitempty"`
	Origin  string `json:"origin"`
}

// Broadcaster applies invalidations locally and publishes them so other
// replicas apply them too. It is itself an Invalidator.
type Broadcaster struct {
	local   Invalidator
	client  redis.UniversalClient
	channel string
	origin  string
	log     tagcache.Logger
}

var _ Invalidator = (*Broadcaster)(nil)

func NewBroadcaster(local Invalidator, client redis.UniversalClient, log tagcache.Logger) *Broadcaster {
	if log == nil {
		log = tagcache.NopLogger{}
	}
	var id [8]byte
	_, _ = rand.Read(id[:])
	return &Broadcaster{
		local:   local,
		client:  client,
		channel: BroadcastChannel,
		origin:  hex.EncodeToString(id[:]),
		log:     log,
	}
}

// InvalidateTag invalidates locally, then publishes. A publish failure is
// returned so the sender retries; reapplying an invalidation is harmless.
func (b *Broadcaster) InvalidateTag(ctx context.Context, tag, profile string) ([]string, error) {
	keys, err := b.local.InvalidateTag(ctx, tag, profile)
	if err != nil {
		return keys, err
	}
	payload, err := json.Marshal(broadcastMsg{Tag: tag, Profile: profile, Origin: b.origin})
	if err != nil {
		return keys, err
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return keys, fmt.Errorf("webhook: broadcast %q: %w", tag, err)
	}
	return keys, nil
}

// Listen applies invalidations published by other replicas until ctx is
// done. ready, if non-nil, is closed once the subscription is live.
func (b *Broadcaster) Listen(ctx context.Context, ready chan<- struct{}) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("webhook: subscribe %s: %w", b.channel, err)
	}
	if ready != nil {
		close(ready)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.apply(ctx, msg.Payload)
		}
	}
}

func (b *Broadcaster) apply(ctx context.Context, payload string) {
	if !gjson.Valid(payload) {
		b.log.Warn("dropping malformed broadcast", tagcache.Fields{"payload_len": len(payload)})
		return
	}
	res := gjson.GetMany(payload, "tag", "profile", "origin")
	tag, profile, origin := res[0].String(), res[1].String(), res[2].String()
	if origin == b.origin || tag == "" {
		return
	}
	if _, err := b.local.InvalidateTag(ctx, tag, profile); err != nil {
		b.log.Error("applying broadcast invalidation failed", tagcache.Fields{"tag": tag, "err": err})
	}
}
