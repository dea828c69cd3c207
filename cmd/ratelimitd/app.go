package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/toolink/ratelimit/extension"
	"github.com/toolink/ratelimit/interceptor"
	"github.com/toolink/ratelimit/limiter"
	"github.com/toolink/ratelimit/meta"
	"github.com/toolink/ratelimit/metrics"
	"github.com/toolink/ratelimit/middleware"
	"github.com/toolink/ratelimit/redlock"
)

type app struct {
	cfg      *limiter.Config
	ctrl     *limiter.Controller
	registry *prometheus.Registry
	router   http.Handler
	manager  *extension.ExtensionManager
}

// newApp wires config, store, controller and servers. Nothing is started
// until the manager loads the extensions.
func newApp(cli *CLI) (*app, error) {
	cfg, err := limiter.LoadConfig(cli.Config)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
		manager:  extension.New(),
	}

	collector, err := metrics.NewCollector(a.registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	opts := []limiter.Option{limiter.WithObserver(collector)}

	var store limiter.Store
	switch cfg.StorageType {
	case limiter.StorageRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store = limiter.NewRedisStore(client, limiter.WithKeyPrefix(cfg.Redis.KeyPrefix), limiter.WithTTL(cfg.Redis.TTL))
		if cfg.Redis.Lock {
			opts = append(opts, limiter.WithLocker(limiter.RedisLockFunc(client, redlock.WithTTL(cfg.Redis.LockTTL))))
		}
		if err := a.manager.Register(redisExtension(client)); err != nil {
			return nil, err
		}
	default:
		store = limiter.NewMemoryStore()
	}

	a.ctrl, err = limiter.NewController(cfg, store, opts...)
	if err != nil {
		return nil, err
	}
	a.router = a.routes()

	if err := a.manager.Register(httpExtension(cli.HTTPAddr, a.router)); err != nil {
		return nil, err
	}
	if cli.GRPCAddr != "" {
		if err := a.manager.Register(grpcExtension(cli.GRPCAddr, a.ctrl)); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// routes builds the demo API. Every limited route runs the rate limit as an
// inline middleware so chi has matched the route pattern by then.
func (a *app) routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	limit := middleware.RateLimit(a.ctrl)
	r.With(middleware.Endpoint("Page"), limit).Get("/page", echo)
	r.With(limit).Get("/users/{id}", echo)
	r.With(limit).Post("/users/{id}/posts", echo)
	return r
}

func echo(w http.ResponseWriter, r *http.Request) {
	endpoint, _ := meta.Get[string](r.Context(), meta.RouteEndpoint)
	identity, _ := meta.Get[string](r.Context(), meta.Identity)
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "endpoint=%q identity=%q\n", endpoint, identity)
}

func redisExtension(client *redis.Client) extension.Extension {
	return extension.Func{
		ID: "redis",
		OnLoad: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnShutdown: func(context.Context) error {
			return client.Close()
		},
	}
}

func httpExtension(addr string, handler http.Handler) extension.Extension {
	srv := &http.Server{Addr: addr, Handler: handler}
	return extension.Func{
		ID: "http",
		OnLoad: func(context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error().Err(err).Msg("http server stopped")
				}
			}()
			return nil
		},
		OnShutdown: srv.Shutdown,
	}
}

func grpcExtension(addr string, ctrl *limiter.Controller) extension.Extension {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(interceptor.UnaryServerInterceptor(ctrl)))
	healthpb.RegisterHealthServer(srv, health.NewServer())
	return extension.Func{
		ID: "grpc",
		OnLoad: func(context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(ln); err != nil {
					log.Error().Err(err).Msg("grpc server stopped")
				}
			}()
			return nil
		},
		OnShutdown: func(ctx context.Context) error {
			done := make(chan struct{})
			go func() {
				srv.GracefulStop()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				srv.Stop()
				return ctx.Err()
			}
		},
	}
}
