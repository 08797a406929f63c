// Package app assembles an assetproxy deployment from a config.Config: the
// logger, the storage provider and codec, the proxy, and the host runtime it
// is registered with.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/unkn0wn-root/assetproxy"
	"github.com/unkn0wn-root/assetproxy/genstore"
	asynchook "github.com/unkn0wn-root/assetproxy/hooks/async"
	"github.com/unkn0wn-root/assetproxy/host"
	"github.com/unkn0wn-root/assetproxy/internal/config"
	"github.com/unkn0wn-root/assetproxy/sloghooks"
)

type App struct {
	Config  config.Config
	Log     assetproxy.Logger
	Storage *assetproxy.Storage
	Proxy   *assetproxy.Proxy
	Runtime *host.Runtime

	hooks *asynchook.Hooks
}

// Options override parts of the assembly. The zero value is production.
type Options struct {
	Out     io.Writer         // log destination; nil => io.Discard
	Network http.RoundTripper // nil => http.DefaultTransport
	BackOff backoff.BackOff   // nil => exponential
}

func New(cfg config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	network := opts.Network
	if network == nil {
		network = http.DefaultTransport
	}

	log, err := NewLogger(cfg.LogFormat, cfg.LogLevel, out)
	if err != nil {
		return nil, err
	}
	level, _ := slogLevel(cfg.LogLevel)
	hooks := asynchook.New(sloghooks.New(
		slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})),
		sloghooks.Options{HitEvery: 100, MissEvery: 100},
	), 1, 1024)

	p, rdb, err := NewProvider(cfg)
	if err != nil {
		hooks.Close()
		return nil, err
	}
	cd, err := NewCodec(cfg.Codec, cfg.MaxEntryBytes)
	if err != nil {
		hooks.Close()
		_ = p.Close(context.Background())
		return nil, err
	}

	sopts := assetproxy.StorageOptions{
		Namespace: cfg.Namespace,
		Provider:  p,
		Codec:     cd,
		Logger:    log,
		Hooks:     hooks,
	}
	if rdb != nil {
		// generations must be shared by every replica using the same redis
		sopts.GenStore = genstore.NewRedisGenStore(rdb, cfg.Namespace)
	}
	storage, err := assetproxy.NewStorage(sopts)
	if err != nil {
		hooks.Close()
		_ = p.Close(context.Background())
		return nil, err
	}

	origin, _ := cfg.OriginURL()
	proxy, err := assetproxy.New(assetproxy.Options{
		Storage:   storage,
		CacheName: cfg.CacheName,
		Seed:      cfg.Seed,
		Origin:    origin,
		Network:   network,
		Logger:    log,
		Hooks:     hooks,
		Disabled:  cfg.Disabled,
	})
	if err != nil {
		hooks.Close()
		_ = storage.Close(context.Background())
		return nil, err
	}

	rt := host.New(host.Options{
		Network:     network,
		MaxAttempts: cfg.InstallAttempts,
		BackOff:     opts.BackOff,
		OnInstallRetry: func(err error, wait time.Duration) {
			log.Warn("install attempt failed; retrying", assetproxy.Fields{"err": err, "wait": wait.String()})
		},
		ErrorLog: func(req *http.Request, err error) {
			log.Error("proxy request failed", assetproxy.Fields{"url": req.URL.String(), "err": err})
		},
	})
	proxy.Register(rt)

	return &App{
		Config:  cfg,
		Log:     log,
		Storage: storage,
		Proxy:   proxy,
		Runtime: rt,
		hooks:   hooks,
	}, nil
}

// Install runs the runtime install, bounded by Config.InstallTimeout.
func (a *App) Install(ctx context.Context) error {
	if a.Config.InstallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Config.InstallTimeout)
		defer cancel()
	}
	return a.Runtime.Install(ctx)
}

// Close flushes queued hook events and closes the storage.
func (a *App) Close(ctx context.Context) error {
	a.hooks.Close()
	return a.Storage.Close(ctx)
}
