package main

import (
    "context"
    "errors"
    "flag"
    "fmt"
    "log"
    "net/http"
    "os/signal"
    "syscall"
    "time"

    "github.com/prometheus/client_golang/prometheus/promhttp"
    "golang.org/x/sync/errgroup"
    "golang.org/x/time/rate"

    "bustrack/config"
    "bustrack/internal/api"
    "bustrack/internal/hub"
    "bustrack/internal/ingest"
    "bustrack/internal/listen"
    "bustrack/internal/metrics"
    "bustrack/internal/model"
    "bustrack/internal/store"
)

func main() {
    cfgPath := flag.String("config", "config.yaml", "path to configuration file")
    flag.Parse()

    cfg, err := config.Load(*cfgPath)
    if err != nil {
        log.Fatalf("failed to load config: %v", err)
    }
    metrics.RegisterDefault()

    // Store: Postgres when a DSN is configured, in-memory otherwise.
    var st store.Store
    var mem *store.Memory
    if cfg.Database.DSN != "" {
        pg, err := store.NewPostgres(cfg.Database.DSN)
        if err != nil {
            log.Fatalf("failed to init postgres: %v", err)
        }
        pg.SetPool(cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
        if cfg.Database.Migrate {
            if err := pg.MigrateDir(cfg.Database.MigrationsDir); err != nil {
                log.Fatalf("migrations: %v", err)
            }
        }
        st = pg
    } else {
        log.Printf("no database DSN configured, using in-memory store")
        mem = store.NewMemory()
        st = mem
    }

    // Hub first: the listener and consumer resolve it through hub.Get, so
    // initialization order is an explicit startup dependency.
    h := hub.Init(hub.Options{
        WriteTimeout: cfg.Hub.WriteTimeout,
        SendBuffer:   cfg.Hub.SendBuffer,
    })

    if mem != nil {
        // Without Postgres there is no NOTIFY trigger; broadcast straight
        // from the store so observers still see inserts in dev.
        mem.OnInsert = func(ev model.Event) {
            h.Broadcast(model.EventTelemetryInserted, model.BroadcastPayload{Telemetry: &ev, Source: "memory"})
        }
    }

    srv := api.NewServer(cfg, st)

    consumer := ingest.NewConsumer(st, cfg.Broker.Topics, func() (ingest.Broadcaster, error) { return hub.Get() })
    srv.Ingest = consumer

    mux := http.NewServeMux()

    // Telemetry pipeline
    mux.HandleFunc("/v1/telemetria", srv.TelemetryHandler)
    mux.HandleFunc("/v1/simulate", srv.SimulateHandler)
    mux.HandleFunc("/ws", srv.WSHandler)
    mux.HandleFunc("/v1/admin/refresh", srv.RefreshHandler)

    // Reference data
    mux.HandleFunc("/v1/paradas", srv.StopsHandler)
    mux.HandleFunc("/v1/paradas/", srv.StopByIDHandler)
    mux.HandleFunc("/v1/buses", srv.BusesHandler)
    mux.HandleFunc("/v1/buses/", srv.BusByIDHandler)

    // Health & metrics
    mux.HandleFunc("/healthz", srv.HealthHandler)
    mux.HandleFunc("/readyz", srv.ReadyHandler)
    mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

    limiter := api.NewIPRateLimiter(rate.Limit(cfg.Server.RateLimitPerSec), cfg.Server.RateBurst)
    handler := api.LogMiddleware(limiter.Middleware(mux))

    addr := fmt.Sprintf(":%d", cfg.Server.Port)
    httpSrv := &http.Server{
        Addr:              addr,
        Handler:           handler,
        ReadHeaderTimeout: 5 * time.Second,
    }

    ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer stop()

    g, ctx := errgroup.WithContext(ctx)

    g.Go(func() error {
        log.Printf("API listening on %s", addr)
        if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            return err
        }
        return nil
    })

    g.Go(func() error {
        <-ctx.Done()
        shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
        defer cancel()
        return httpSrv.Shutdown(shutdownCtx)
    })

    if cfg.Database.DSN != "" {
        l := listen.New(cfg.Database.DSN, func() (listen.Broadcaster, error) { return hub.Get() })
        g.Go(func() error {
            err := l.Run(ctx)
            if errors.Is(err, context.Canceled) {
                return nil
            }
            return err
        })
    }

    if cfg.Broker.RedisURL != "" {
        g.Go(func() error {
            err := consumer.Run(ctx, cfg.Broker.RedisURL)
            if errors.Is(err, context.Canceled) {
                return nil
            }
            return err
        })
    } else {
        log.Printf("no broker URL configured, broker ingestion disabled")
    }

    if err := g.Wait(); err != nil {
        log.Fatalf("server error: %v", err)
    }
}
