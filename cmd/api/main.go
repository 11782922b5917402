package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rideops.org/internal/audit"
	"rideops.org/internal/catalog"
	"rideops.org/internal/httpapi"
	"rideops.org/internal/identity"
	"rideops.org/internal/obs"
	"rideops.org/internal/store/pg"
	"rideops.org/internal/stream"
	"rideops.org/internal/token"
)

var version = "0.3.1"

func main() {
	// Инициализация observability (регистрация метрик, JSON-логгер и т.п.)
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("RIDEOPS_COMMIT"))

	secret := os.Getenv("RIDEOPS_AUTH_SECRET")
	if secret == "" {
		log.Fatal("missing RIDEOPS_AUTH_SECRET")
	}

	cat := catalog.New()

	// Подключение к БД (если задан DSN); без DSN работаем на in-memory
	// хранилищах, что годится только для локальной разработки.
	var (
		db      *sql.DB
		idStore identity.Store
		auStore audit.Store
	)
	if dsn := os.Getenv("RIDEOPS_PG_DSN"); dsn != "" {
		store, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db = store.DB()
		idStore = store
		auStore = store
	} else {
		log.Println("RIDEOPS_PG_DSN is not set, falling back to in-memory stores")
		idStore = identity.NewInMemory()
		auStore = audit.NewInMemory()
	}

	tokens, err := token.NewManager(secret)
	if err != nil {
		log.Fatalf("token manager: %v", err)
	}
	identities, err := identity.NewService(idStore, cat)
	if err != nil {
		log.Fatalf("identity service: %v", err)
	}
	feed := stream.New()
	ledger, err := audit.NewLedger(auStore, audit.WithPublisher(feed))
	if err != nil {
		log.Fatalf("audit ledger: %v", err)
	}

	// HTTP API
	api := httpapi.New(httpapi.Config{
		ReadyProbe:    httpapi.ReadyProbe{DB: db},
		Version:       version,
		Catalog:       cat,
		Identities:    identities,
		IdentityStore: idStore,
		Tokens:        tokens,
		Ledger:        ledger,
		Stream:        feed,
	})

	handler := httpapi.RequestID(
		httpapi.Logging(
			httpapi.SecurityHeaders(
				httpapi.CORS(
					httpapi.MaxBodyBytes(
						httpapi.RateLimit(api.Handler(), 50, 25),
						1<<20)))))

	addr := os.Getenv("RIDEOPS_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting rideops-admin-api %s on %s", version, srv.Addr)

	// graceful shutdown
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
