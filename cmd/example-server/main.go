package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"defense-gateway/middleware/defense"
	"defense-gateway/middleware/defense/application"
	"defense-gateway/middleware/defense/infra"
)

func main() {
	// Exemplo: injetando o pipeline diretamente no seu webserver (sem proxy)
	policies := infra.NewPolicyStore(infra.DefaultPolicySet())
	breakers := infra.NewBreakerPanel(policies)
	tracker := infra.NewViolationTracker(policies.Current().Global)
	store := infra.NewBucketStore()
	adaptive := infra.NewAdaptiveManager(policies, breakers)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	store.StartJanitor(ctx)
	tracker.StartJanitor(ctx)
	adaptive.Run(ctx)

	pipeline := &application.Pipeline{
		Policies:   policies,
		Scanner:    infra.NewPatternScanner(),
		Buckets:    store,
		Scale:      adaptive,
		Breakers:   breakers,
		Violations: tracker,
		Load:       adaptive,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	h := http.Handler(mux)
	h = defense.Middleware(defense.Options{
		Pipeline:        pipeline,
		PrincipalHeader: "X-User-Id", // ou vazio para usar só IP
		MaxInFlight:     50,
		SecurityHeaders: true,
	})(h)

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("example server listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
