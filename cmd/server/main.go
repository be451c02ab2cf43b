// Server wires the voice verification stack: Postgres with embedded
// migrations, the optional Redis issuance limiter, the OPA attempt gate,
// remote scorer clients, and telemetry, exposed over a minimal JSON API
// (challenge issuance, verification, health).
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"voicegate/backend/internal/audit"
	auditrepo "voicegate/backend/internal/audit/repository"
	chrepo "voicegate/backend/internal/challenge/repository"
	chservice "voicegate/backend/internal/challenge/service"
	"voicegate/backend/internal/config"
	"voicegate/backend/internal/db"
	"voicegate/backend/internal/db/migrate"
	"voicegate/backend/internal/fusion"
	"voicegate/backend/internal/policy"
	"voicegate/backend/internal/policy/engine"
	"voicegate/backend/internal/scorer"
	"voicegate/backend/internal/security"
	"voicegate/backend/internal/telemetry"
	otelsetup "voicegate/backend/internal/telemetry/otel"
	"voicegate/backend/internal/telemetry/producer"
	verifrepo "voicegate/backend/internal/verification/repository"
	verifservice "voicegate/backend/internal/verification/service"
)

const sweepInterval = time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var logger *zap.Logger
	if cfg.Env == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	providers, err := otelsetup.NewProviders(ctx, cfg.OTLPEndpoint, "voicegate", cfg.OTLPInsecure)
	if err != nil {
		logger.Fatal("otel providers", zap.Error(err))
	}
	providers.SetGlobal()

	if cfg.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL is required")
	}
	if err := migrate.Run(cfg.DatabaseURL, "up"); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Fatal("migrations", zap.Error(err))
	}
	dbConn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer dbConn.Close()

	policies, err := policy.LoadProfiles(cfg.PolicyProfilesPath)
	if err != nil {
		logger.Fatal("policy profiles", zap.Error(err))
	}
	defaultProfile, err := policies.Get(cfg.DefaultPolicy)
	if err != nil {
		logger.Fatal("default policy", zap.Error(err))
	}

	gate, err := engine.NewOPAGate("")
	if err != nil {
		logger.Fatal("attempt gate", zap.Error(err))
	}

	var tokens *security.TokenProvider
	if cfg.ChallengeTokenPrivateKey != "" {
		priv, err := security.ParsePrivateKey(cfg.ChallengeTokenPrivateKey)
		if err != nil {
			logger.Fatal("challenge token private key", zap.Error(err))
		}
		pub, err := security.ParsePublicKey(cfg.ChallengeTokenPublicKey)
		if err != nil {
			logger.Fatal("challenge token public key", zap.Error(err))
		}
		tokens = security.NewTokenProvider(priv, pub, cfg.ChallengeTokenIssuer, cfg.ChallengeTokenAudience)
	}

	var limiter chservice.Limiter
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = client.Close() }()
		limiter = chservice.NewRedisWindowLimiter(client, "voicegate:challenge", time.Hour, cfg.ChallengeMaxPerHour)
	}

	var emitter telemetry.EventEmitter
	if brokers := cfg.TelemetryKafkaBrokersList(); len(brokers) > 0 {
		kafkaProducer, err := producer.NewKafkaProducer(brokers, cfg.TelemetryKafkaTopic)
		if err != nil {
			logger.Fatal("kafka producer", zap.Error(err))
		}
		defer func() { _ = kafkaProducer.Close() }()
		emitter = kafkaProducer
	} else {
		emitter = otelsetup.NewEventEmitter(providers.LoggerProvider)
	}

	metrics, err := verifservice.NewMetrics(providers.MeterProvider.Meter("voicegate"))
	if err != nil {
		logger.Fatal("metrics", zap.Error(err))
	}

	challenges := chrepo.NewPostgresRepository(dbConn)
	phrases := chrepo.NewPostgresPhraseRepository(dbConn)
	attempts := verifrepo.NewPostgresAttemptRepository(dbConn)
	enrollments := verifrepo.NewPostgresEnrollmentRepository(dbConn)
	auditor := audit.NewLogger(auditrepo.NewPostgresRepository(dbConn), logger)

	issuer := chservice.NewIssuer(challenges, phrases, gate, attempts, limiter, tokens, auditor,
		chservice.IssuerConfig{
			TTL:             cfg.ChallengeTTLDuration(),
			MaxActive:       cfg.ChallengeMaxActive,
			MaxPerHour:      cfg.ChallengeMaxPerHour,
			ExcludeLast:     cfg.PhraseExcludeLast,
			GateMaxFailures: defaultProfile.MaxFailuresPerWindow,
			GateWindow:      time.Hour,
			Profile:         cfg.DefaultPolicy,
		}, logger)
	validator := chservice.NewValidator(challenges)

	pipeline := verifservice.NewPipeline(
		enrollments, attempts, validator,
		scorer.NewHTTPIdentityScorer(cfg.ScorerIdentityURL, cfg.ScorerTimeoutDuration()),
		scorer.NewHTTPAntispoofScorer(cfg.ScorerAntispoofURL, cfg.ScorerTimeoutDuration()),
		scorer.NewHTTPTextScorer(cfg.ScorerTextURL, cfg.ScorerTimeoutDuration()),
		policies, fusion.NewEngine(logger),
		auditor, emitter, metrics,
		verifservice.PipelineConfig{
			ScorerTimeout: cfg.ScorerTimeoutDuration(),
			DefaultPolicy: cfg.DefaultPolicy,
		}, logger)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				n, err := validator.SweepExpired(sweepCtx)
				if err != nil {
					logger.Warn("challenge sweep failed", zap.Error(err))
				} else if n > 0 {
					logger.Info("swept expired challenges", zap.Int64("removed", n))
				}
			}
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/challenges", challengeHandler(issuer, logger))
	mux.HandleFunc("POST /v1/verify", verifyHandler(pipeline, logger))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := dbConn.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := gate.HealthCheck(r.Context()); err != nil {
			http.Error(w, "attempt gate unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("serve", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	stopSweep()
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	// Let in-flight async telemetry emits drain before tearing down OTel.
	time.Sleep(telemetry.ShutdownDrainDuration)
	if err := providers.Shutdown(shutdownCtx); err != nil {
		logger.Warn("otel shutdown", zap.Error(err))
	}
	logger.Info("stopped")
}
