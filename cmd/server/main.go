package main

import (
    "context"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    log "github.com/sirupsen/logrus"

    "quotecache/internal/app"
    "quotecache/internal/config"
)

func main() {
    // Config
    cfgPath := os.Getenv("CONFIG_FILE")
    cfg, err := config.Load(cfgPath)
    if err != nil { log.Fatalf("config: %v", err) }

    ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer stop()

    a, err := app.New(ctx, cfg)
    if err != nil { log.Fatalf("app: %v", err) }
    if err := a.Start(); err != nil { log.Fatalf("warmer: %v", err) }

    s := &server{svc: a.Manager, providers: a.ProviderStatus, timeout: cfg.Server.RequestTimeout()}
    srv := &http.Server{
        Addr:              ":" + cfg.Server.Port,
        Handler:           handler(s),
        ReadHeaderTimeout: 5 * time.Second,
        ReadTimeout:       15 * time.Second,
        WriteTimeout:      cfg.Server.RequestTimeout() + 5*time.Second,
        IdleTimeout:       60 * time.Second,
    }

    go func() {
        log.Infof("server listening on :%s", cfg.Server.Port)
        if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
            log.Fatalf("server: %v", err)
        }
    }()

    // graceful shutdown
    <-ctx.Done()
    shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    _ = srv.Shutdown(shutdownCtx)
    if err := a.Close(); err != nil { log.WithError(err).Warn("close") }
    log.Info("server stopped")
}
