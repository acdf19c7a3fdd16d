package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/geoguess-server/internal/cache"
	"github.com/DoyleJ11/geoguess-server/internal/config"
	"github.com/DoyleJ11/geoguess-server/internal/engine"
	"github.com/DoyleJ11/geoguess-server/internal/geo"
	"github.com/DoyleJ11/geoguess-server/internal/httpapi"
	"github.com/DoyleJ11/geoguess-server/internal/hub"
	"github.com/DoyleJ11/geoguess-server/internal/identity"
	"github.com/DoyleJ11/geoguess-server/internal/rating"
	"github.com/DoyleJ11/geoguess-server/internal/store"
	"github.com/DoyleJ11/geoguess-server/internal/ws"
)

const shutdownTimeout = 10 * time.Second

// backend is what both the postgres store and the in-memory store provide.
type backend interface {
	ws.Profiles
	ws.Social
	ws.Notifications
	hub.ResultWriter
	AccountBySecret(ctx context.Context, secret string) (store.Account, error)
}

func main() {
	boot, _ := zap.NewProduction()
	cfg := config.Load(boot)

	var log *zap.Logger
	var err error
	if cfg.Development() {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		boot.Fatal("building logger", zap.Error(err))
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	clock := clockwork.NewRealClock()

	var data backend
	if cfg.DatabaseURL != "" {
		db, openErr := store.Open(cfg.DatabaseURL, cfg.DefaultRating)
		if openErr != nil {
			return openErr
		}
		defer func() { err = multierr.Append(err, db.Close()) }()
		if err := db.AutoMigrate(); err != nil {
			return err
		}
		data = db
	} else {
		log.Warn("DATABASE_URL not set, accounts are kept in memory")
		data = store.NewMemory(cfg.DefaultRating)
	}

	var shared cache.Cache
	if cfg.RedisURL != "" {
		rc, dialErr := cache.DialRedis(ctx, cfg.RedisURL)
		if dialErr != nil {
			return dialErr
		}
		defer func() { err = multierr.Append(err, rc.Close()) }()
		shared = rc
	} else {
		log.Warn("REDIS_URL not set, party codes and presence are local to this instance")
		shared = cache.NewMemory(clock)
	}

	rules := engine.DefaultRules()
	rules.Rounds = cfg.Rounds
	rules.RoundTime = cfg.RoundTime
	rules.StartCountdown = cfg.StartCountdown

	// the hub outlives the signal context so it can drain
	hubCtx, cancelHub := context.WithCancel(context.Background())
	defer cancelHub()
	h := hub.NewHub(hubCtx, hub.Config{
		InstanceID:      cfg.InstanceID,
		ReconnectGrace:  cfg.ReconnectGrace,
		PartyMaxMembers: cfg.PartyMaxMembers,
		Rules:           rules,
		Selector: rating.Selector{
			Initial:   cfg.BandInitial,
			Step:      cfg.BandStep,
			StepEvery: cfg.BandStepEvery,
			MaxWait:   cfg.BandMaxWait,
		},
		Rating:         rating.Engine{K: cfg.RatingK},
		ResultsTimeout: cfg.ResultsTimeout,
		RestartQueued:  cfg.RestartQueued,
	}, hub.Deps{
		Locations: geo.NewRandomProvider(uint64(clock.Now().UnixNano())),
		Results:   data,
		Cache:     shared,
		Clock:     clock,
		Logger:    log.Named("hub"),
	})

	sched, err := h.StartMatchmaking(cfg.MatchmakingInterval)
	if err != nil {
		return err
	}

	var origins []string
	if cfg.Development() {
		origins = []string{"localhost:*", "127.0.0.1:*"}
	}
	verifier := identity.Chain{
		identity.NewJWTVerifier(cfg.JWTSecret),
		identity.SecretVerifier{Lookup: secretLookup(data)},
	}

	// sockets are hijacked, so their contexts hang off connCtx rather than
	// the server's own shutdown
	connCtx, cancelConns := context.WithCancel(context.Background())
	defer cancelConns()
	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: httpapi.SetupRoutes(h, httpapi.Options{
			PublicURL: cfg.PublicURL,
			Logger:    log.Named("http"),
			WS: ws.Deps{
				Identity:       verifier,
				Profiles:       data,
				Social:         data,
				Notifications:  data,
				Clock:          clock,
				Logger:         log.Named("ws"),
				OriginPatterns: origins,
			},
		}),
		BaseContext:       func(net.Listener) context.Context { return connCtx },
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr), zap.String("instance", cfg.InstanceID))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		errs := multierr.Combine(
			sched.Shutdown(),
			srv.Shutdown(sctx),
			h.Shutdown(sctx),
		)
		// let writers flush serverShutdown before the sockets go
		time.Sleep(250 * time.Millisecond)
		cancelConns()
		return errs
	})
	return g.Wait()
}

func secretLookup(data backend) identity.SecretFunc {
	return func(ctx context.Context, secret string) (identity.Identity, error) {
		a, err := data.AccountBySecret(ctx, secret)
		if errors.Is(err, store.ErrNotFound) {
			return identity.Identity{}, identity.ErrInvalidToken
		}
		if err != nil {
			return identity.Identity{}, err
		}
		return identity.Identity{AccountID: a.ID, Name: a.Username}, nil
	}
}
