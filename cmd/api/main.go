package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"sportai.app/internal/audit"
	"sportai.app/internal/auth"
	"sportai.app/internal/config"
	"sportai.app/internal/httpapi"
	"sportai.app/internal/obs"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", "", "Optional YAML config file")
	flag.Parse()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			log.Printf("config: %v", err)
		}
		log.Fatal("invalid configuration")
	}

	var (
		db         *sql.DB
		store      auth.Store
		auditStore audit.Store
	)
	if cfg.PostgresDSN != "" {
		var err error
		db, err = sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = auth.NewPGStore(db)
		auditStore = audit.NewPGStore(db)
	} else {
		log.Print("no SPORTAI_PG_DSN set, using in-memory stores (dev only)")
		store = auth.NewMemoryStore()
		auditStore = audit.NewMemoryStore()
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelStart()

	auditLog, err := audit.NewLog(startCtx, auditStore)
	if err != nil {
		log.Fatalf("open audit log: %v", err)
	}

	hasher, err := auth.NewHasher(cfg.Pepper, cfg.HashIterations)
	if err != nil {
		log.Fatalf("hasher: %v", err)
	}
	policy := auth.PasswordPolicy{
		MinLength:      cfg.PasswordMinLength,
		RequireUpper:   cfg.PasswordRequireUpper,
		RequireLower:   cfg.PasswordRequireLower,
		RequireDigit:   cfg.PasswordRequireDigit,
		RequireSpecial: cfg.PasswordRequireSpecial,
	}

	creds := auth.NewCredentials(store, hasher, policy)
	lockouts := auth.NewTracker(store.Lockouts(), cfg.MaxLoginAttempts, cfg.LockoutDuration)
	sessions := auth.NewManager(store.Sessions(), cfg.SessionAbsoluteTTL, cfg.SessionIdleTTL)

	svc, err := auth.NewService(store, creds, lockouts, sessions, auth.NewPolicy(), hasher, auditLog)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	if cfg.BootstrapAdminEmail != "" && cfg.BootstrapAdminPassword != "" {
		_, err := creds.Create(startCtx, cfg.BootstrapAdminEmail, auth.RoleAdmin, "", cfg.BootstrapAdminPassword)
		switch {
		case err == nil:
			log.Printf("bootstrap admin %s created", cfg.BootstrapAdminEmail)
		case errors.Is(err, auth.ErrIdentityExists):
			// Already provisioned on a previous start.
		default:
			log.Fatalf("bootstrap admin: %v", err)
		}
	}

	// Background housekeeping: lockout GC and expired-session purge.
	housekeeping := time.NewTicker(10 * time.Minute)
	defer housekeeping.Stop()
	go func() {
		for range housekeeping.C {
			lockouts.Sweep()
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := sessions.PurgeExpired(ctx); err != nil {
				log.Printf("session purge: %v", err)
			}
			cancel()
		}
	}()

	api := httpapi.New(svc, httpapi.ReadyProbe{DB: db}, httpapi.Options{
		Version:            version,
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting sportai-auth %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
