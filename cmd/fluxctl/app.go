package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/vango-dev/fluxio/internal/config"
	"github.com/vango-dev/fluxio/internal/errors"
	"github.com/vango-dev/fluxio/pkg/flux"
	"github.com/vango-dev/fluxio/pkg/fluxhttp"
	"github.com/vango-dev/fluxio/pkg/fluxmetrics"
	"github.com/vango-dev/fluxio/pkg/fluxpath"
	"github.com/vango-dev/fluxio/pkg/fluxscript"
	"github.com/vango-dev/fluxio/pkg/persist"
	"github.com/vango-dev/fluxio/pkg/storage"
)

// app is everything fluxctl serve runs: the store, the persisted registry
// with its derived nodes, and the HTTP binding.
type app struct {
	store     storage.Store
	storeName string
	registry  *persist.Registry
	server    *fluxhttp.Server
	keys      []string
	release   []flux.Unsubscribe
	logger    *slog.Logger
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	store, name, err := cfg.OpenStore(ctx, logger)
	if err != nil {
		return nil, err
	}
	codec, err := cfg.StoreCodec()
	if err != nil {
		store.Close()
		return nil, err
	}

	var nodeOpts []flux.Option
	persistOpts := []persist.Option{
		persist.WithCodec(codec),
		persist.WithThrottle(cfg.ThrottleDuration()),
		persist.WithLogger(logger),
	}
	httpOpts := []fluxhttp.Option{
		fluxhttp.WithLogger(logger),
		fluxhttp.WithReadOnly(cfg.Server.ReadOnly),
		fluxhttp.WithCheckOrigin(checkOrigin(cfg.Server.AllowOrigins)),
		fluxhttp.WithMissCache(cfg.MissCacheDuration()),
		fluxhttp.WithGatherer(nil),
	}
	if cfg.Server.TokenSecret != "" {
		httpOpts = append(httpOpts, fluxhttp.WithTokenSecret([]byte(cfg.Server.TokenSecret)))
	}
	if !cfg.Metrics.Disabled {
		metrics := prometheus.NewRegistry()
		metrics.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m := fluxmetrics.New(
			fluxmetrics.WithRegistry(metrics),
			fluxmetrics.WithNamespace(cfg.Metrics.Namespace),
		)
		nodeOpts = append(nodeOpts, flux.WithObserver(m))
		persistOpts = append(persistOpts,
			persist.WithObserver(m),
			persist.WithNodeOptions(nodeOpts...))
		httpOpts = append(httpOpts, fluxhttp.WithGatherer(metrics))
	}

	reg := persist.NewRegistry(store, persistOpts...)
	a := &app{
		store:     store,
		storeName: name,
		registry:  reg,
		logger:    logger,
	}

	if a.keys, err = persist.OpenAll(ctx, reg); err != nil {
		a.Close(ctx)
		return nil, errors.New("F021").WithDetail("Cannot list stored keys").Wrap(err)
	}
	if a.release, err = openDerived(reg, cfg, nodeOpts...); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := waitLoaded(ctx, reg); err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.server = fluxhttp.New(reg, httpOpts...)
	return a, nil
}

// Handler returns the HTTP handler.
func (a *app) Handler() http.Handler {
	return a.server
}

// Close disconnects watchers, flushes pending writes and closes the store.
func (a *app) Close(ctx context.Context) error {
	if a.server != nil {
		a.server.Close()
	}
	for _, off := range a.release {
		off()
	}
	err := a.registry.Close(ctx)
	if cerr := a.store.Close(); err == nil {
		err = cerr
	}
	return err
}

// openDerived registers the derived nodes of cfg under their names. Each
// node is kept connected so reads see every change of its source; the
// returned functions release them.
func openDerived(reg *persist.Registry, cfg *config.Config, opts ...flux.Option) (release []flux.Unsubscribe, err error) {
	defer func() {
		if err != nil {
			for _, off := range release {
				off()
			}
			release = nil
		}
	}()

	for _, d := range cfg.Derived {
		src, err := persist.Stored[any](reg, d.Source, nil, nil)
		if err != nil {
			return release, errors.New("F006").WithDetailf("derived %q: source %q", d.Name, d.Source).Wrap(err)
		}

		nodeOpts := append([]flux.Option{flux.WithName(d.Name)}, opts...)
		var n *flux.Node[any]
		switch {
		case d.Path != "":
			if n, err = fluxpath.Select(src, d.Path, nodeOpts...); err != nil {
				return release, errors.New("F042").WithDetailf("derived %q: %q", d.Name, d.Path).Wrap(err)
			}
		default:
			source := d.Script
			if d.ScriptFile != "" {
				data, err := os.ReadFile(cfg.Resolve(d.ScriptFile))
				if err != nil {
					return release, errors.New("F006").WithDetailf("derived %q", d.Name).Wrap(err)
				}
				source = string(data)
			}
			s, err := fluxscript.Compile(d.Name, source)
			if err != nil {
				return release, errors.New("F006").WithDetailf("derived %q", d.Name).Wrap(err)
			}
			n = fluxscript.Map(src, s, nodeOpts...)
		}

		if err := reg.Nodes().Register(d.Name, n); err != nil {
			return release, errors.New("F006").WithDetailf("derived %q", d.Name).Wrap(err)
		}
		release = append(release, n.On(func(any) {}))
	}
	return release, nil
}

// waitLoaded blocks until every opened key finished its initial load.
func waitLoaded(ctx context.Context, reg *persist.Registry) error {
	for _, key := range reg.Keys() {
		loaded := reg.Loaded(key)
		if loaded == nil {
			continue
		}
		select {
		case <-loaded:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// checkOrigin builds the watch origin check. An empty list keeps the
// same-origin default.
func checkOrigin(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	if slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

func (a *app) summary() string {
	return fmt.Sprintf("%d stored keys from %s", len(a.keys), a.storeName)
}
