package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"incidentry.org/internal/auth"
	"incidentry.org/internal/httpapi"
	"incidentry.org/internal/incident"
	"incidentry.org/internal/obs"
	"incidentry.org/internal/org"
	"incidentry.org/internal/store/mem"
	"incidentry.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	secret := os.Getenv("INCIDENTRY_AUTH_SECRET")
	if secret == "" {
		log.Fatal("INCIDENTRY_AUTH_SECRET is required")
	}
	verifier, err := auth.NewTokenVerifier(secret)
	if err != nil {
		log.Fatalf("token verifier: %v", err)
	}

	// Without a DSN the API runs on the in-memory store, which is enough for
	// local development and smoke tests.
	var (
		lifecycleStore org.Store
		incidentStore  incident.Store
		directory      auth.UserDirectory
		ready          httpapi.ReadyProbe
	)
	if dsn := os.Getenv("INCIDENTRY_PG_DSN"); dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pgStore.Close()
		lifecycleStore, incidentStore, directory = pgStore, pgStore, pgStore
		ready = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		memStore := mem.New()
		lifecycleStore, incidentStore, directory = memStore, memStore, memStore
		log.Print("INCIDENTRY_PG_DSN not set, using in-memory store")
	}

	resolver, err := auth.NewResolver(verifier, directory)
	if err != nil {
		log.Fatalf("resolver: %v", err)
	}
	lifecycle, err := org.NewManager(lifecycleStore)
	if err != nil {
		log.Fatalf("lifecycle manager: %v", err)
	}
	incidents, err := incident.NewService(incidentStore)
	if err != nil {
		log.Fatalf("incident service: %v", err)
	}

	cfg := httpapi.Config{
		Resolver:  resolver,
		Lifecycle: lifecycle,
		Incidents: incidents,
		Limiter:   httpapi.NewMemoryLimiter(envInt("INCIDENTRY_RATE_PER_SEC", 20), envInt("INCIDENTRY_RATE_BURST", 40)),
		Ready:     ready,
		Version:   version,
	}
	if os.Getenv("INCIDENTRY_DEV_TOKENS") == "1" {
		cfg.Issuer = verifier
		log.Print("dev token endpoint enabled")
	}
	api := httpapi.New(cfg)

	addr := os.Getenv("INCIDENTRY_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("starting incidentry-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Print("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	log.Print("stopped")
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("ignoring %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}
