package app

import (
	"fmt"
	"io"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/assetproxy"
	"github.com/unkn0wn-root/assetproxy/codec"
	"github.com/unkn0wn-root/assetproxy/internal/config"
	logruslog "github.com/unkn0wn-root/assetproxy/log/logrus"
	sloglog "github.com/unkn0wn-root/assetproxy/log/slog"
	zaplog "github.com/unkn0wn-root/assetproxy/log/zap"
	"github.com/unkn0wn-root/assetproxy/provider"
	bcp "github.com/unkn0wn-root/assetproxy/provider/bigcache"
	redisp "github.com/unkn0wn-root/assetproxy/provider/redis"
	rp "github.com/unkn0wn-root/assetproxy/provider/ristretto"
)

// NewLogger returns a JSON logger of the given format writing to out.
func NewLogger(format, level string, out io.Writer) (assetproxy.Logger, error) {
	switch format {
	case "zap":
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		core := zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(out),
			lvl,
		)
		return zaplog.New(zap.New(core)), nil
	case "logrus":
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		l := logrus.New()
		l.SetOutput(out)
		l.SetLevel(lvl)
		l.SetFormatter(&logrus.JSONFormatter{})
		return logruslog.New(l), nil
	case "slog":
		lvl, err := slogLevel(level)
		if err != nil {
			return nil, err
		}
		return sloglog.New(slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: lvl}))), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func slogLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, err
	}
	return lvl, nil
}

// NewProvider builds the configured provider. For redis it also returns the
// client, which the provider owns.
func NewProvider(cfg config.Config) (provider.Provider, goredis.UniversalClient, error) {
	switch cfg.Store {
	case "ristretto":
		rc := rp.DefaultConfig()
		if cfg.Ristretto.NumCounters > 0 {
			rc.NumCounters = cfg.Ristretto.NumCounters
		}
		if cfg.Ristretto.MaxCost > 0 {
			rc.MaxCost = cfg.Ristretto.MaxCost
		}
		p, err := rp.New(rc)
		return p, nil, err
	case "bigcache":
		p, err := bcp.New(bcp.Config{
			Shards:             cfg.BigCache.Shards,
			MaxEntriesInWindow: cfg.BigCache.MaxEntries,
			MaxEntrySize:       cfg.BigCache.MaxEntrySize,
			HardMaxCacheSizeMB: cfg.BigCache.HardMaxCacheSizeMB,
		})
		return p, nil, err
	case "redis":
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		p, err := redisp.New(redisp.Config{Client: rdb, CloseClient: true})
		if err != nil {
			_ = rdb.Close()
			return nil, nil, err
		}
		return p, rdb, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// NewCodec returns the named entry codec, limited to maxBytes per entry.
func NewCodec(name string, maxBytes int) (codec.Codec[assetproxy.Entry], error) {
	var inner codec.Codec[assetproxy.Entry]
	switch name {
	case "cbor":
		cb, err := codec.NewCBOR[assetproxy.Entry](true)
		if err != nil {
			return nil, err
		}
		inner = cb
	case "msgpack":
		inner = codec.Msgpack[assetproxy.Entry]{}
	case "json":
		inner = codec.JSON[assetproxy.Entry]{}
	case "proto":
		inner = assetproxy.ProtoCodec{}
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
	return codec.Limit[assetproxy.Entry]{Inner: inner, Max: maxBytes}, nil
}
