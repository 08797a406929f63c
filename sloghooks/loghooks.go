// Package sloghooks logs assetproxy hook events through log/slog.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/assetproxy"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	HitEvery      uint64
	MissEvery     uint64
	SelfHealEvery uint64
	// Optional storage key redactor. Defaults to a SHA-256 prefix.
	// Request identities (URLs) are logged as is.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	hitCtr      atomic.Uint64
	missCtr     atomic.Uint64
	selfHealCtr atomic.Uint64
}

var _ assetproxy.Hooks = (*Hooks)(nil)

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

func (h *Hooks) CacheHit(store, identity string) {
	if h.l == nil || !sample(h.opts.HitEvery, &h.hitCtr) {
		return
	}
	h.l.Debug("assetproxy.cache_hit",
		"store", store,
		"url", identity)
}

func (h *Hooks) CacheMiss(identity string) {
	if h.l == nil || !sample(h.opts.MissEvery, &h.missCtr) {
		return
	}
	h.l.Debug("assetproxy.cache_miss",
		"url", identity)
}

func (h *Hooks) SelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Info("assetproxy.self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) ProviderSetRejected(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Warn("assetproxy.provider_set_rejected",
		"key", h.redact(storageKey))
}

func (h *Hooks) SeedFailed(url string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("assetproxy.seed_failed",
		"url", url,
		"err", err)
}

func (h *Hooks) GenError(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("assetproxy.gen_error",
		"key", h.redact(key),
		"err", err)
}
