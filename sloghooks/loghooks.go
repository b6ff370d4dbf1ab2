// Package sloghooks reports cache events through log/slog.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/tagcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery      uint64
	RefreshFailedEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr      atomic.Uint64
	refreshFailedCtr atomic.Uint64
}

var _ tagcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

// Lookup is too hot to log; use promhooks for hit ratios.
func (h *Hooks) Lookup(tagcache.State, bool) {}

func (h *Hooks) SelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("tagcache.self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) RefreshFailed(key string, err error) {
	if h.l == nil || !sample(h.opts.RefreshFailedEvery, &h.refreshFailedCtr) {
		return
	}
	h.l.Warn("tagcache.refresh_failed",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) RefreshDropped(key string) {
	if h.l == nil {
		return
	}
	h.l.Info("tagcache.refresh_dropped", "key", h.redact(key))
}

func (h *Hooks) ProviderSetRejected(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Warn("tagcache.provider_set_rejected", "key", h.redact(storageKey))
}

func (h *Hooks) GenSnapshotError(storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("tagcache.gen_snapshot_error",
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) GenBumpError(count int, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("tagcache.gen_bump_error",
		"count", count,
		"err", err)
}

func (h *Hooks) IndexError(op string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("tagcache.index_error",
		"op", op,
		"err", err)
}

func (h *Hooks) TagInvalidated(tag, profile string, keys int) {
	if h.l == nil {
		return
	}
	h.l.Info("tagcache.tag_invalidated",
		"tag", tag,
		"profile", profile,
		"keys", keys)
}
