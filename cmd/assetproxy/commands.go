package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/unkn0wn-root/assetproxy"
	"github.com/unkn0wn-root/assetproxy/internal/app"
	"github.com/unkn0wn-root/assetproxy/internal/config"
)

// newRootCommand builds the CLI. Flag defaults come from cfg, so flags
// override ASSETPROXY_* variables.
func newRootCommand(cfg config.Config) *cli.Command {
	return &cli.Command{
		Name:  "assetproxy",
		Usage: "offline asset proxy: serve seeded responses, fetch everything else live",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "origin", Usage: "origin the proxy fronts and resolves seeds against", Value: cfg.Origin},
			&cli.StringFlag{Name: "cache-name", Usage: "name of the cache store", Value: cfg.CacheName},
			&cli.StringSliceFlag{Name: "seed", Usage: "path or URL to seed at install (repeatable)", Value: cfg.Seed},
			&cli.StringFlag{Name: "namespace", Usage: "storage namespace", Value: cfg.Namespace},
			&cli.StringFlag{Name: "store", Usage: "ristretto, bigcache or redis", Value: cfg.Store},
			&cli.StringFlag{Name: "codec", Usage: "cbor, msgpack, json or proto", Value: cfg.Codec},
			&cli.StringFlag{Name: "redis-addr", Usage: "redis address when --store=redis", Value: cfg.Redis.Addr},
			&cli.StringFlag{Name: "log-format", Usage: "slog, zap or logrus", Value: cfg.LogFormat},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error", Value: cfg.LogLevel},
			&cli.IntFlag{Name: "install-attempts", Usage: "install attempts before giving up", Value: int(cfg.InstallAttempts)},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "install, then serve the origin through the proxy",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "listen", Usage: "address to listen on", Value: cfg.Listen},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					c := fromFlags(cfg, cmd)
					c.Listen = cmd.String("listen")
					return serve(ctx, cmd, c)
				},
			},
			{
				Name:  "install",
				Usage: "seed the cache store once and exit",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withApp(ctx, cmd, fromFlags(cfg, cmd), func(a *app.App) error {
						if err := a.Install(ctx); err != nil {
							return err
						}
						fmt.Fprintf(writer(cmd), "installed %d seeds into %q\n", len(a.Proxy.Seed()), a.Proxy.CacheName())
						return nil
					})
				},
			},
			{
				Name:  "inspect",
				Usage: "list cache stores and the entries of --cache-name",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "install", Usage: "install first (for in-memory stores)"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withApp(ctx, cmd, fromFlags(cfg, cmd), func(a *app.App) error {
						if cmd.Bool("install") {
							if err := a.Install(ctx); err != nil {
								return err
							}
						}
						return inspect(ctx, writer(cmd), a)
					})
				},
			},
			{
				Name:  "delete",
				Usage: "delete the --cache-name store",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withApp(ctx, cmd, fromFlags(cfg, cmd), func(a *app.App) error {
						deleted, err := a.Storage.Delete(ctx, a.Proxy.CacheName())
						if err != nil {
							return err
						}
						if !deleted {
							fmt.Fprintf(writer(cmd), "no store %q\n", a.Proxy.CacheName())
							return nil
						}
						fmt.Fprintf(writer(cmd), "deleted %q\n", a.Proxy.CacheName())
						return nil
					})
				},
			},
		},
	}
}

func fromFlags(cfg config.Config, cmd *cli.Command) config.Config {
	cfg.Origin = cmd.String("origin")
	cfg.CacheName = cmd.String("cache-name")
	cfg.Seed = cmd.StringSlice("seed")
	cfg.Namespace = cmd.String("namespace")
	cfg.Store = cmd.String("store")
	cfg.Codec = cmd.String("codec")
	cfg.Redis.Addr = cmd.String("redis-addr")
	cfg.LogFormat = cmd.String("log-format")
	cfg.LogLevel = cmd.String("log-level")
	cfg.InstallAttempts = uint(max(cmd.Int("install-attempts"), 1))
	return cfg
}

func writer(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func errWriter(cmd *cli.Command) io.Writer {
	if w := cmd.Root().ErrWriter; w != nil {
		return w
	}
	return os.Stderr
}

func withApp(ctx context.Context, cmd *cli.Command, cfg config.Config, f func(*app.App) error) error {
	a, err := app.New(cfg, app.Options{Out: errWriter(cmd)})
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))
	return f(a)
}

func serve(ctx context.Context, cmd *cli.Command, cfg config.Config) error {
	origin, err := cfg.OriginURL()
	if err != nil {
		return err
	}
	if origin == nil {
		return errors.New("serve: --origin is required")
	}

	return withApp(ctx, cmd, cfg, func(a *app.App) error {
		// a failed install leaves the runtime bypassing the proxy; keep serving
		if err := a.Install(ctx); err != nil {
			a.Log.Error("install failed; serving from network only", assetproxy.Fields{"err": err})
		}

		srv := &http.Server{
			Addr:              cfg.Listen,
			Handler:           a.Runtime.Handler(origin),
			ReadHeaderTimeout: 10 * time.Second,
		}
		errc := make(chan error, 1)
		go func() { errc <- srv.ListenAndServe() }()
		a.Log.Info("serving", assetproxy.Fields{"listen": cfg.Listen, "origin": origin.String(), "state": a.Runtime.State().String()})

		select {
		case err := <-errc:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
}

func inspect(ctx context.Context, w io.Writer, a *app.App) error {
	names, err := a.Storage.Names(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "stores: %d\n", len(names))
	for _, n := range names {
		fmt.Fprintf(w, "  %s\n", n)
	}

	name := a.Proxy.CacheName()
	if ok, err := a.Storage.Has(ctx, name); err != nil || !ok {
		if err == nil {
			fmt.Fprintf(w, "no store %q\n", name)
		}
		return err
	}
	st, err := a.Storage.Open(ctx, name)
	if err != nil {
		return err
	}
	entries, err := st.Entries(ctx)
	if err != nil {
		return err
	}

	var total uint64
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "URL\tSTATUS\tTYPE\tSIZE\tSTORED")
	for _, e := range entries {
		size := uint64(len(e.Body))
		total += size
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n",
			e.URL, e.StatusCode, http.Header(e.Header).Get("Content-Type"),
			humanize.Bytes(size), humanize.Time(e.StoredAt))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: %d entries, %s\n", name, len(entries), humanize.Bytes(total))
	return nil
}
