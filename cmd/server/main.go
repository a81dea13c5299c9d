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
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/atmx/wager-engine/internal/api"
	"github.com/atmx/wager-engine/internal/auth"
	"github.com/atmx/wager-engine/internal/config"
	"github.com/atmx/wager-engine/internal/game"
	"github.com/atmx/wager-engine/internal/limits"
	"github.com/atmx/wager-engine/internal/logging"
	"github.com/atmx/wager-engine/internal/metrics"
	"github.com/atmx/wager-engine/internal/store"
	"github.com/atmx/wager-engine/internal/telemetry"
	"github.com/atmx/wager-engine/internal/vrf"
)

func main() {
	configPath := flag.String("config", os.Getenv("WAGER_CONFIG"), "path to a TOML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("wager-engine failed", "err", err)
		os.Exit(1)
	}
	fmt.Println("wager-engine stopped")
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	level, _ := cfg.LogLevel()
	_, logCloser := logging.Setup(cfg.Log, level)
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Error("tracing shutdown error", "err", err)
		}
	}()

	// --- Initialize store ---
	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	// --- Randomness ---
	verifier, oracle, err := setupOracle(cfg.Oracle)
	if err != nil {
		return err
	}

	// --- Engine ---
	hub := api.NewHub(cfg.Server.AllowedOrigins...)
	publishers := []game.Publisher{hub}
	if oracle != nil {
		publishers = append(publishers, oracle)
	}
	engine := game.NewEngine(st, verifier,
		game.WithPublishers(publishers...),
		game.WithTimeout(cfg.Game.Timeout),
		game.WithHouseAuthority(cfg.Game.HouseAuthority),
		game.WithLimiter(limits.NewStakeLimiter(cfg.Game.MinWager, cfg.Game.MaxWager, cfg.Game.MaxInPlay)),
	)

	// --- Caller authentication ---
	authn, err := setupAuth(cfg.Auth)
	if err != nil {
		return err
	}

	var opts []api.Option
	opts = append(opts, api.WithHub(hub))
	if cfg.Game.Faucet {
		slog.Warn("deposit faucet enabled; any authenticated caller can mint balance")
		opts = append(opts, api.WithFaucet())
	}
	svc := api.NewService(engine, authn, opts...)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+auth.DevHeader)
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","service":"wager-engine","ws_clients":%d}`, hub.Clients())
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		svc.Routes(r)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	if oracle != nil {
		g.Go(func() error { return oracle.Run(gctx, engine) })
	}
	if cfg.Game.KeeperInterval > 0 {
		keeper := game.NewKeeper(engine, cfg.Game.KeeperIdentity, cfg.Game.KeeperInterval)
		g.Go(func() error { return keeper.Run(gctx) })
	}
	g.Go(func() error {
		slog.Info("wager-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	// Graceful shutdown.
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down wager-engine...")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	return g.Wait()
}

// openStore selects Postgres, then LevelDB, then memory, optionally behind
// a Redis read-through cache.
func openStore(ctx context.Context, cfg config.Store) (store.Store, error) {
	var st store.Store
	switch {
	case cfg.DatabaseURL != "":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("database migration failed: %w", err)
		}
		st = pg
		slog.Info("connected to PostgreSQL")
	case cfg.LevelDBPath != "":
		ldb, err := store.NewLevelDBStore(cfg.LevelDBPath)
		if err != nil {
			return nil, err
		}
		st = ldb
		slog.Info("opened LevelDB store", "path", cfg.LevelDBPath)
	default:
		slog.Warn("no DATABASE_URL or WAGER_LEVELDB_PATH set, using in-memory store (data will not persist)")
		return store.NewMemoryStore(), nil
	}

	// Wrap with Redis read-through cache if configured.
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		st = store.NewCachedStore(st, redis.NewClient(opt), cfg.CacheTTL)
		slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
	}
	return st, nil
}

// setupOracle returns the proof verifier and, in local mode, the in-process
// oracle that answers requests.
func setupOracle(cfg config.Oracle) (vrf.Verifier, *vrf.LocalOracle, error) {
	if cfg.Mode == config.OracleExternal {
		v, err := vrf.NewEdDSAVerifier(cfg.PublicKey)
		if err != nil {
			return nil, nil, fmt.Errorf("oracle public key: %w", err)
		}
		slog.Info("external oracle mode")
		return v, nil, nil
	}

	var signer *vrf.Signer
	if cfg.SigningKey != "" {
		var err error
		if signer, err = vrf.LoadSigner(cfg.SigningKey); err != nil {
			return nil, nil, fmt.Errorf("oracle signing key: %w", err)
		}
	} else {
		signer = vrf.GenerateSigner()
		slog.Warn("no oracle signing key configured, generated an ephemeral one")
	}
	pub, err := signer.PublicHex()
	if err != nil {
		return nil, nil, err
	}
	v, err := vrf.NewEdDSAVerifier(pub)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("local oracle mode", "public_key", pub, "delay", cfg.Delay)
	return v, vrf.NewLocalOracle(signer, cfg.Delay), nil
}

func setupAuth(cfg config.Auth) (*auth.Authenticator, error) {
	var verifier *auth.Verifier
	if cfg.JWTPublicKey != "" {
		key, err := auth.DecodePublicKey(cfg.JWTPublicKey)
		if err != nil {
			return nil, err
		}
		if verifier, err = auth.NewVerifier(key, cfg.Issuer, cfg.Audience); err != nil {
			return nil, err
		}
	}
	if cfg.DevHeader {
		slog.Warn("development identity header enabled", "header", auth.DevHeader)
	}
	if verifier == nil && !cfg.DevHeader {
		slog.Warn("no JWT public key configured; every mutation will be rejected")
	}
	return auth.NewAuthenticator(verifier, cfg.DevHeader), nil
}
