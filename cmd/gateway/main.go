package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"defense-gateway/middleware/defense"
	"defense-gateway/middleware/defense/application"
	"defense-gateway/middleware/defense/domain"
	"defense-gateway/middleware/defense/infra"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := readConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		log.Fatalf("invalid UPSTREAM_URL: %v", err)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Printf("proxy error: %v", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	// políticas: arquivo YAML quando configurado, senão defaults
	set := infra.DefaultPolicySet()
	if cfg.policyFile != "" {
		set, err = infra.LoadPolicyFile(cfg.policyFile)
		if err != nil {
			log.Fatalf("policy file error: %v", err)
		}
	}
	applyEnvGlobals(&set.Global)
	policies := infra.NewPolicyStore(set)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// observabilidade: prometheus + (opcional) contadores agregados no redis
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := infra.NewMetrics(reg)

	var rdb *redis.Client
	if cfg.redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.redisAddr,
			Password: cfg.redisPassword,
			DB:       cfg.redisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancelPing := context.WithTimeout(context.Background(), 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancelPing()
		if err != nil {
			log.Fatalf("redis ping error: %v", err)
		}
	}

	sinks := []domain.Recorder{infra.NewPromRecorder(metrics)}
	if rdb != nil && cfg.statsEnabled {
		sinks = append(sinks, infra.NewRedisStatsStore(rdb))
	}
	recorder := infra.NewAsyncRecorder(cfg.eventBuffer, sinks...)
	recorder.Start(ctx)

	breakers := infra.NewBreakerPanel(policies, infra.WithBreakerChange(
		func(cat domain.Category, from, to domain.CircuitState) {
			log.Printf("breaker %s: %s -> %s", cat, from, to)
			_ = recorder.RecordBreakerChange(context.Background(), cat, from, to)
		}))

	adaptive := infra.NewAdaptiveManager(policies, breakers,
		infra.WithSampleInterval(cfg.sampleInterval),
		infra.WithMemHighWater(cfg.memHighWaterMB<<20),
	)
	adaptive.Run(ctx)

	tracker := infra.NewViolationTracker(set.Global, infra.WithEscalation(
		func(ev domain.EscalationEvent) {
			log.Printf("origin escalated to blocklist: %s (weight=%d until=%s)", ev.Origin, ev.Count, ev.Until.Format(time.RFC3339))
			_ = recorder.RecordEscalation(context.Background(), ev)
		}))
	tracker.StartJanitor(ctx)

	var buckets domain.BucketStore
	if rdb != nil {
		buckets = infra.NewRedisBucketStore(rdb, infra.WithBucketTimeout(cfg.bucketTimeout))
	} else {
		memStore := infra.NewBucketStore()
		memStore.StartJanitor(ctx)
		buckets = memStore
	}

	pipeline := &application.Pipeline{
		Policies:   policies,
		Scanner:    infra.NewPatternScanner(),
		Buckets:    buckets,
		Scale:      adaptive,
		Breakers:   breakers,
		Violations: tracker,
		Recorder:   recorder,
		Load:       adaptive,
	}

	// reload de políticas por SIGHUP: troca atômica do conjunto inteiro
	if cfg.policyFile != "" {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-hup:
					next, err := infra.LoadPolicyFile(cfg.policyFile)
					if err != nil {
						log.Printf("policy reload error (keeping current set): %v", err)
						continue
					}
					applyEnvGlobals(&next.Global)
					policies.Swap(next)
					log.Printf("policies reloaded from %s", cfg.policyFile)
				}
			}
		}()
	}

	h := http.Handler(proxy)
	h = defense.Middleware(defense.Options{
		Pipeline:           pipeline,
		PrincipalHeader:    cfg.principalHeader,
		TrustXForwardedFor: cfg.trustXFF,
		MaxInFlight:        cfg.maxInFlight,
		AcquireTimeout:     cfg.acquireTimeout,
		SecurityHeaders:    cfg.securityHeaders,
	})(h)

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	// listener operacional: métricas pull e report out-of-band
	opsMux := http.NewServeMux()
	opsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	opsMux.Handle("/defense/report", defense.ReportHandler(tracker, recorder))
	opsSrv := &http.Server{
		Addr:              cfg.opsAddr,
		Handler:           opsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		_ = srv.Shutdown(shutdownCtx)
		_ = opsSrv.Shutdown(shutdownCtx)
	}()

	go func() {
		log.Printf("ops listening on %s (/metrics, /defense/report)", cfg.opsAddr)
		if err := opsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("ops server error: %v", err)
		}
	}()

	log.Printf("defense gateway listening on %s -> %s", cfg.listenAddr, target)
	log.Printf("policies: file=%q categories=%d", cfg.policyFile, len(set.Categories))
	log.Printf("buckets: redis=%v addr=%q timeout=%s", rdb != nil, cfg.redisAddr, cfg.bucketTimeout)
	log.Printf("inflight: max=%d acquireTimeout=%s", cfg.maxInFlight, cfg.acquireTimeout)
	log.Printf("adaptive: interval=%s memHighWaterMB=%d floor=%.2f", cfg.sampleInterval, cfg.memHighWaterMB, set.Global.ScaleFloor)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

type config struct {
	listenAddr  string
	opsAddr     string
	upstreamURL string
	policyFile  string

	principalHeader string
	trustXFF        bool
	securityHeaders bool

	maxInFlight    int
	acquireTimeout time.Duration

	redisAddr     string
	redisPassword string
	redisDB       int
	bucketTimeout time.Duration
	statsEnabled  bool

	sampleInterval time.Duration
	memHighWaterMB uint64
	eventBuffer    int
}

func readConfig() (config, error) {
	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.opsAddr = getenvDefault("OPS_ADDR", ":9090")
	cfg.upstreamURL = os.Getenv("UPSTREAM_URL")
	cfg.policyFile = os.Getenv("POLICY_FILE")

	cfg.principalHeader = getenvDefault("PRINCIPAL_HEADER", "X-User-Id")
	cfg.trustXFF = getenvBoolDefault("TRUST_XFF", false)
	cfg.securityHeaders = getenvBoolDefault("SECURITY_HEADERS", true)

	cfg.maxInFlight = getenvIntDefault("MAX_INFLIGHT", 100)
	cfg.acquireTimeout = getenvDurationDefault("ACQUIRE_TIMEOUT", 0)

	cfg.redisAddr = os.Getenv("REDIS_ADDR")
	cfg.redisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.redisDB = getenvIntDefault("REDIS_DB", 0)
	cfg.bucketTimeout = getenvDurationDefault("BUCKET_TIMEOUT", 150*time.Millisecond)
	cfg.statsEnabled = getenvBoolDefault("STATS_ENABLED", false)

	cfg.sampleInterval = getenvDurationDefault("SAMPLE_INTERVAL", 30*time.Second)
	cfg.memHighWaterMB = uint64(getenvIntDefault("MEM_HIGH_WATER_MB", 0))
	cfg.eventBuffer = getenvIntDefault("EVENT_BUFFER", 1024)

	if cfg.upstreamURL == "" {
		return config{}, errors.New("UPSTREAM_URL is required")
	}
	if cfg.maxInFlight < 0 {
		return config{}, errors.New("MAX_INFLIGHT must be >= 0")
	}
	if cfg.statsEnabled && cfg.redisAddr == "" {
		return config{}, errors.New("REDIS_ADDR is required when STATS_ENABLED=true")
	}
	return cfg, nil
}

// applyEnvGlobals aplica overrides pontuais de ambiente sobre os globais
// (vindos do arquivo ou dos defaults). Útil para ajustar uma instância sem
// editar o arquivo compartilhado.
func applyEnvGlobals(g *domain.GlobalPolicy) {
	g.ViolationThreshold = getenvIntDefault("VIOLATION_THRESHOLD", g.ViolationThreshold)
	g.ViolationWindow = getenvDurationDefault("VIOLATION_WINDOW", g.ViolationWindow)
	g.BlockDuration = getenvDurationDefault("BLOCK_DURATION", g.BlockDuration)
	g.CircuitFailureThreshold = getenvIntDefault("CIRCUIT_FAILURE_THRESHOLD", g.CircuitFailureThreshold)
	g.CircuitCooldown = getenvDurationDefault("CIRCUIT_COOLDOWN", g.CircuitCooldown)
	g.CircuitProbeCount = getenvIntDefault("CIRCUIT_PROBE_COUNT", g.CircuitProbeCount)
	if v := getenvDefault("SCALE_FLOOR", ""); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 && f <= 1 {
			g.ScaleFloor = f
		}
	}
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
