package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"daypack.app/internal/auth"
	"daypack.app/internal/httpapi"
	"daypack.app/internal/obs"
	"daypack.app/internal/store/pg"
	"daypack.app/internal/tasks"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	secret := os.Getenv("DAYPACK_SESSION_SECRET")
	if secret == "" {
		log.Fatal("missing DAYPACK_SESSION_SECRET")
	}

	var (
		store   auth.UserStore
		taskSvc tasks.Service
		pgs     *pg.Store
	)
	if dsn := os.Getenv("DAYPACK_PG_DSN"); dsn != "" {
		var err error
		pgs, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgs
		taskSvc = pgs.Tasks()
	} else {
		mem := auth.NewMemoryStore()
		seedDemoUser(mem)
		store = mem
		taskSvc = tasks.NewInMemory()
	}

	authSvc, err := auth.NewService(store, secret)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	api := httpapi.New(readyProbe(pgs), version, authSvc, taskSvc)
	if os.Getenv("DAYPACK_COOKIE_SECURE") == "1" {
		api.SetCookieConfig(httpapi.CookieConfig{
			Domain: os.Getenv("DAYPACK_COOKIE_DOMAIN"),
			Secure: true,
		})
	}

	addr := os.Getenv("DAYPACK_ADDR")
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

	log.Printf("Starting daypack-api %s on %s", version, srv.Addr)

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
	if pgs != nil {
		_ = pgs.Close()
	}
	log.Println("Stopped")
}

func readyProbe(pgs *pg.Store) httpapi.ReadyProbe {
	if pgs == nil {
		return httpapi.ReadyProbe{}
	}
	return httpapi.ReadyProbe{DB: pgs.DB()}
}

// seedDemoUser makes the in-memory mode usable out of the box.
func seedDemoUser(store *auth.MemoryStore) {
	password := os.Getenv("DAYPACK_DEMO_PASSWORD")
	if password == "" {
		password = "daypack-demo"
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		log.Fatalf("seed user: %v", err)
	}
	err = store.Create(context.Background(), &auth.User{
		Username:     "demo",
		Email:        "demo@daypack.app",
		Name:         "Demo User",
		PasswordHash: hash,
	})
	if err != nil {
		log.Fatalf("seed user: %v", err)
	}
}
