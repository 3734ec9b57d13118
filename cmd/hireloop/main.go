// Command hireloop runs the interview platform: the recruiter admin API,
// the candidate portal, and the realtime session pipeline (STT relay,
// dialogue controller, proctoring, recording, evaluation).
//
// Configuration comes from a YAML file (-config) overlaid with environment
// variables; see internal/config for the schema. Secrets are expected in
// the environment (HMAC_SECRET, LLM_API_KEY, ...) and a .env file is
// loaded when present for local development.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/hireloop-ai/hireloop/internal/clock"
	"github.com/hireloop-ai/hireloop/internal/coding"
	"github.com/hireloop-ai/hireloop/internal/config"
	"github.com/hireloop-ai/hireloop/internal/evaluation"
	"github.com/hireloop-ai/hireloop/internal/health"
	"github.com/hireloop-ai/hireloop/internal/httpapi"
	"github.com/hireloop-ai/hireloop/internal/interview/ivstore"
	"github.com/hireloop-ai/hireloop/internal/interview/slotstore"
	"github.com/hireloop-ai/hireloop/internal/observe"
	"github.com/hireloop-ai/hireloop/internal/questionbank"
	"github.com/hireloop-ai/hireloop/internal/recording"
	"github.com/hireloop-ai/hireloop/internal/resilience"
	"github.com/hireloop-ai/hireloop/internal/session"
	"github.com/hireloop-ai/hireloop/internal/storage"
	"github.com/hireloop-ai/hireloop/internal/token"
	"github.com/hireloop-ai/hireloop/internal/ttscache"
	"github.com/hireloop-ai/hireloop/pkg/provider/embeddings"
	"github.com/hireloop-ai/hireloop/pkg/provider/llm"
	"github.com/hireloop-ai/hireloop/pkg/provider/stt"
	"github.com/hireloop-ai/hireloop/pkg/provider/tts"
	"github.com/hireloop-ai/hireloop/pkg/provider/vision"
	"github.com/hireloop-ai/hireloop/pkg/types"
)

// version is stamped by the build via -ldflags "-X main.version=...".
var version = "dev"

const (
	shutdownTimeout = 15 * time.Second

	// reapInterval is how often the session registry sweeps handles whose
	// access window has long passed.
	reapInterval = time.Minute

	// sweepInterval is how often the TTS cache evicts expired clips.
	sweepInterval = time.Hour
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// Best-effort .env for local development; the real environment wins.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "configuration file %q not found.\n", *configPath)
			fmt.Fprintf(os.Stderr, "Pass -config or create one; every key has a documented default.\n")
			return 1
		}
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 1
	}

	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("starting hireloop",
		"version", version,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "hireloop",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("init telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("init metrics", "err", err)
		return 1
	}

	provs, err := buildProviders(config.DefaultRegistry(), cfg)
	if err != nil {
		slog.Error("build providers", "err", err)
		return 1
	}
	if provs.llm == nil {
		slog.Error("providers.llm is required; the dialogue cannot run without one")
		return 1
	}
	defer func() {
		if provs.detector != nil {
			if err := provs.detector.Close(); err != nil {
				slog.Warn("close detector", "err", err)
			}
		}
		if provs.fallbackDet != nil {
			if err := provs.fallbackDet.Close(); err != nil {
				slog.Warn("close fallback detector", "err", err)
			}
		}
	}()

	clk := clock.System{}

	st, err := buildStores(ctx, cfg, clk)
	if err != nil {
		slog.Error("build stores", "err", err)
		return 1
	}
	if st.pool != nil {
		defer st.pool.Close()
	}

	storageRoot := cfg.Storage.Root
	if storageRoot == "" {
		storageRoot = filepath.Join(os.TempDir(), "hireloop")
		slog.Warn("storage.root not set; artifacts go to a temporary directory", "root", storageRoot)
	}
	artifacts, err := storage.New(storageRoot)
	if err != nil {
		slog.Error("open artifact store", "root", storageRoot, "err", err)
		return 1
	}

	signer, err := buildSigner(cfg)
	if err != nil {
		slog.Error("token signing", "err", err)
		return 1
	}
	issuer := token.NewIssuer(signer, clk,
		time.Duration(cfg.Token.LeadMinutes)*time.Minute,
		time.Duration(cfg.Token.GraceMinutes)*time.Minute)

	registry := session.NewRegistry(clk)
	registry.Start(ctx, reapInterval)

	bank := questionbank.NewBank(st.bank, provs.embeddings)
	recorder := recording.New(artifacts, recording.WithClock(clk))
	coder := coding.NewEvaluator(st.bank, provs.llm)
	assembler := evaluation.NewAssembler(st.evals, artifacts, provs.llm, evaluation.WithClock(clk))

	var synth *ttscache.Cache
	if provs.tts != nil {
		synth = ttscache.New(provs.tts, artifacts, clk)
		synth.Start(ctx, sweepInterval)
	}

	// The redeemer creates session handles before the server exists, so the
	// terminal hook closes over the variable, not the value.
	var srv *httpapi.Server
	redeemer := session.NewRedeemer(session.RedeemerConfig{
		Signer: signer,
		Clock:  clk,
		Interviews: &ivstore.Bridge{
			Interviews:   st.records,
			Slots:        st.slots,
			MaxQuestions: cfg.Dialogue.MaxQuestions,
		},
		Registry:   registry,
		OnTerminal: func(s session.Session) { srv.OnTerminal(s) },
	})

	apiCfg := httpapi.Config{
		Clock:    clk,
		Slots:    st.slots,
		Records:  st.records,
		Evals:    st.evals,
		Issuer:   issuer,
		Redeemer: redeemer,
		Registry: registry,
		Metrics:  metrics,

		AdminToken:          cfg.Server.AdminToken,
		DefaultSlotDuration: time.Duration(cfg.Scheduling.DefaultSlotDurationMin) * time.Minute,

		STT:         provs.stt,
		Voice:       types.VoiceProfile{ID: cfg.Dialogue.Voice},
		LLM:         provs.llm,
		Bank:        bank,
		Detector:    provs.detector,
		FallbackDet: provs.fallbackDet,
		Recorder:    recorder,
		Artifacts:   artifacts,
		Assembler:   assembler,
		Coder:       coder,

		LLMTimeout:      time.Duration(cfg.Dialogue.LLMDeadlineSeconds) * time.Second,
		TTSTimeout:      time.Duration(cfg.Dialogue.TTSDeadlineSeconds) * time.Second,
		AnswerTimeout:   time.Duration(cfg.Dialogue.AnswerTimeoutSeconds) * time.Second,
		NoVoiceGrace:    time.Duration(cfg.Dialogue.NoVoiceGraceSeconds) * time.Second,
		STTEndpointing:  cfg.Dialogue.STTEndpointingMs,
		STTUtteranceEnd: cfg.Dialogue.STTUtteranceEndMs,
	}
	if synth != nil {
		apiCfg.Synth = synth
	}
	srv = httpapi.NewServer(apiCfg)

	if cfg.Server.AdminToken == "" {
		slog.Warn("no admin token configured; recruiter routes are unauthenticated")
	}

	mux := http.NewServeMux()
	checks := []health.Check{{
		Name: "storage",
		Probe: func(context.Context) error {
			_, err := os.Stat(storageRoot)
			return err
		},
	}}
	if st.pool != nil {
		checks = append(checks, health.Check{Name: "postgres", Probe: st.pool.Ping})
	}
	health.New(checks...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("/", srv.Handler())

	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	printStartupSummary(cfg, provs, storageRoot)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", cfg.Server.ListenAddr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		slog.Error("http server failed", "err", err)
		return 1
	case <-ctx.Done():
	}

	slog.Info("shutting down", "timeout", shutdownTimeout)
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(sctx); err != nil {
		slog.Warn("http shutdown", "err", err)
	}

	slog.Info("goodbye")
	return 0
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// providerSet holds the instantiated pipeline backends. Any of them may be
// nil; the server degrades the matching feature.
type providerSet struct {
	llm         llm.Provider
	stt         stt.Provider
	tts         tts.Provider
	embeddings  embeddings.Provider
	detector    vision.Detector
	fallbackDet vision.Detector
}

// buildProviders instantiates every configured provider from the registry.
// An unregistered name is skipped with a debug log so a config written for
// a build with extra registrations still starts; a factory error is fatal.
func buildProviders(reg *config.Registry, cfg *config.Config) (*providerSet, error) {
	set := &providerSet{}

	if e := cfg.Providers.LLM; e.Name != "" {
		p, err := reg.CreateLLM(e)
		switch {
		case errors.Is(err, config.ErrProviderNotRegistered):
			slog.Debug("llm provider not registered, skipping", "name", e.Name)
		case err != nil:
			return nil, fmt.Errorf("create llm provider %q: %w", e.Name, err)
		default:
			set.llm = p
			slog.Info("provider created", "kind", "llm", "name", e.Name, "model", e.Model)
		}

		// An optional fallback model on the same vendor gets a breaker so a
		// flaky primary degrades instead of stalling interviews.
		if fb := optString(e.Options, "fallback_model"); fb != "" && set.llm != nil {
			entry := e
			entry.Model = fb
			sec, err := reg.CreateLLM(entry)
			if err != nil {
				slog.Warn("llm fallback model unavailable", "model", fb, "err", err)
			} else {
				fo := resilience.NewLLMFailover(set.llm, e.Model, resilience.BreakerConfig{Name: "llm"})
				fo.Add(fb, sec)
				set.llm = fo
				slog.Info("llm failover armed", "primary", e.Model, "fallback", fb)
			}
		}
	}

	if e := cfg.Providers.STT; e.Name != "" {
		p, err := reg.CreateSTT(e)
		switch {
		case errors.Is(err, config.ErrProviderNotRegistered):
			slog.Debug("stt provider not registered, skipping", "name", e.Name)
		case err != nil:
			return nil, fmt.Errorf("create stt provider %q: %w", e.Name, err)
		default:
			set.stt = p
			slog.Info("provider created", "kind", "stt", "name", e.Name, "model", e.Model)
		}

		if fb := optString(e.Options, "fallback_model"); fb != "" && set.stt != nil {
			entry := e
			entry.Model = fb
			sec, err := reg.CreateSTT(entry)
			if err != nil {
				slog.Warn("stt fallback model unavailable", "model", fb, "err", err)
			} else {
				fo := resilience.NewSTTFailover(set.stt, e.Model, resilience.BreakerConfig{Name: "stt"})
				fo.Add(fb, sec)
				set.stt = fo
				slog.Info("stt failover armed", "primary", e.Model, "fallback", fb)
			}
		}
	}

	if e := cfg.Providers.TTS; e.Name != "" {
		p, err := reg.CreateTTS(e)
		switch {
		case errors.Is(err, config.ErrProviderNotRegistered):
			slog.Debug("tts provider not registered, skipping", "name", e.Name)
		case err != nil:
			return nil, fmt.Errorf("create tts provider %q: %w", e.Name, err)
		default:
			set.tts = p
			slog.Info("provider created", "kind", "tts", "name", e.Name, "model", e.Model)
		}

		if fb := optString(e.Options, "fallback_model"); fb != "" && set.tts != nil {
			entry := e
			entry.Model = fb
			sec, err := reg.CreateTTS(entry)
			if err != nil {
				slog.Warn("tts fallback model unavailable", "model", fb, "err", err)
			} else {
				fo := resilience.NewTTSFailover(set.tts, e.Model, resilience.BreakerConfig{Name: "tts"})
				fo.Add(fb, sec)
				set.tts = fo
				slog.Info("tts failover armed", "primary", e.Model, "fallback", fb)
			}
		}
	}

	if e := cfg.Providers.Embeddings; e.Name != "" {
		p, err := reg.CreateEmbeddings(e)
		switch {
		case errors.Is(err, config.ErrProviderNotRegistered):
			slog.Debug("embeddings provider not registered, skipping", "name", e.Name)
		case err != nil:
			return nil, fmt.Errorf("create embeddings provider %q: %w", e.Name, err)
		default:
			set.embeddings = p
			slog.Info("provider created", "kind", "embeddings", "name", e.Name, "model", e.Model)
		}
	}

	if e := cfg.Providers.Vision; cfg.Proctoring.Enabled && e.Name != "" {
		p, err := reg.CreateVision(e)
		switch {
		case errors.Is(err, config.ErrProviderNotRegistered):
			slog.Debug("vision provider not registered, skipping", "name", e.Name)
		case err != nil:
			return nil, fmt.Errorf("create vision provider %q: %w", e.Name, err)
		default:
			set.detector = p
			slog.Info("provider created", "kind", "vision", "name", e.Name, "model", e.Model)
		}

		if fb := cfg.Proctoring.FallbackModel; fb != "" && set.detector != nil {
			entry := e
			entry.Model = fb
			sec, err := reg.CreateVision(entry)
			if err != nil {
				slog.Warn("fallback detector unavailable", "model", fb, "err", err)
			} else {
				set.fallbackDet = sec
				slog.Info("fallback detector loaded", "model", fb)
			}
		}
	}

	return set, nil
}

// stores bundles the persistence layer. pool is nil when running on the
// in-memory stores.
type stores struct {
	slots   slotstore.Store
	records ivstore.Store
	evals   evaluation.Store
	bank    questionbank.Store
	pool    *pgxpool.Pool
}

// buildStores connects PostgreSQL when a DSN is configured and migrates
// every schema; otherwise it falls back to the in-memory stores, which keep
// nothing across restarts.
func buildStores(ctx context.Context, cfg *config.Config, clk clock.Clock) (*stores, error) {
	if cfg.Database.PostgresDSN == "" {
		slog.Info("no postgres dsn configured; using in-memory stores")
		return &stores{
			slots:   slotstore.NewMemStore(clk),
			records: ivstore.NewMemStore(),
			evals:   evaluation.NewMemStore(),
			bank:    questionbank.NewMemStore(),
		}, nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	// The question bank stores embeddings as pgvector columns.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	st := &stores{
		slots:   slotstore.NewPostgresStore(pool),
		records: ivstore.NewPostgresStore(pool),
		evals:   evaluation.NewPostgresStore(pool),
		bank:    questionbank.NewPostgresStore(pool),
		pool:    pool,
	}
	for _, m := range []interface {
		Migrate(context.Context) error
	}{
		st.slots.(*slotstore.PostgresStore),
		st.records.(*ivstore.PostgresStore),
		st.evals.(*evaluation.PostgresStore),
		st.bank.(*questionbank.PostgresStore),
	} {
		if err := m.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	slog.Info("postgres connected and migrated")
	return st, nil
}

// buildSigner assembles the HMAC key ring from the configured secrets.
func buildSigner(cfg *config.Config) (*token.Signer, error) {
	if len(cfg.Token.Secrets) == 0 {
		return nil, errors.New("no token signing secrets configured; set HMAC_SECRET")
	}
	ring := token.KeyRing{}
	for id, secret := range cfg.Token.Secrets {
		ring[id] = []byte(secret)
	}
	active := cfg.Token.ActiveKeyID
	if active == "" {
		if _, ok := ring["default"]; ok {
			active = "default"
		} else if len(ring) == 1 {
			for id := range ring {
				active = id
			}
		} else {
			return nil, errors.New("token.active_key_id is required with multiple secrets")
		}
	}
	return token.NewSigner(ring, active)
}

// printStartupSummary writes a human-readable overview of the effective
// configuration to stdout. Logs carry the same facts; this is for the
// operator staring at a terminal.
func printStartupSummary(cfg *config.Config, provs *providerSet, storageRoot string) {
	db := "in-memory"
	if cfg.Database.PostgresDSN != "" {
		db = "postgres"
	}
	proctoring := "off"
	if provs.detector != nil {
		proctoring = "on"
	}

	fmt.Println("╔══════════════════════════════════════════╗")
	fmt.Printf("║ hireloop %-31s ║\n", trunc(version, 31))
	fmt.Println("╠══════════════════════════════════════════╣")
	fmt.Printf("║ listen      %-28s ║\n", trunc(cfg.Server.ListenAddr, 28))
	fmt.Printf("║ database    %-28s ║\n", db)
	fmt.Printf("║ storage     %-28s ║\n", trunc(storageRoot, 28))
	fmt.Printf("║ proctoring  %-28s ║\n", proctoring)
	printProvider("llm", cfg.Providers.LLM)
	printProvider("stt", cfg.Providers.STT)
	printProvider("tts", cfg.Providers.TTS)
	printProvider("embeddings", cfg.Providers.Embeddings)
	printProvider("vision", cfg.Providers.Vision)
	fmt.Println("╚══════════════════════════════════════════╝")
}

func printProvider(kind string, e config.ProviderEntry) {
	if e.Name == "" {
		return
	}
	label := e.Name
	if e.Model != "" {
		label += "/" + e.Model
	}
	fmt.Printf("║ %-11s %-28s ║\n", kind, trunc(label, 28))
}

func trunc(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// optString reads a string value from a provider's options map.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	if v, ok := opts[key].(string); ok {
		return v
	}
	return ""
}
