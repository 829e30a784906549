package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/R3E-Network/neoraffle/internal/app/system"
	"github.com/R3E-Network/neoraffle/internal/config"
	"github.com/R3E-Network/neoraffle/internal/events"
	"github.com/R3E-Network/neoraffle/internal/ledger"
	"github.com/R3E-Network/neoraffle/internal/logging"
	"github.com/R3E-Network/neoraffle/internal/middleware"
	"github.com/R3E-Network/neoraffle/internal/platform/migrations"
	"github.com/R3E-Network/neoraffle/services/automation"
	"github.com/R3E-Network/neoraffle/services/raffle"
	"github.com/R3E-Network/neoraffle/services/raffle/postgres"
	"github.com/R3E-Network/neoraffle/services/raffle/server"
	"github.com/R3E-Network/neoraffle/services/vrf"
)

// UpkeepName is the keeper registration driving the raffle.
const UpkeepName = "raffle"

// eventHistory is how many notifications GET /events can return.
const eventHistory = 1000

// Application ties the raffle components together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logging.Logger
	cfg     *config.Config

	Ledger      ledger.Ledger
	Engine      *raffle.Engine
	Coordinator *vrf.Coordinator
	Keeper      *automation.Keeper
	Events      *events.RingBuffer
	Server      *server.Server

	db        *sqlx.DB
	publisher *events.RedisPublisher
	listener  net.Listener
}

// Option customises New.
type Option func(*options)

type options struct {
	clock    raffle.Clock
	db       *sqlx.DB
	redis    events.RedisClient
	listener net.Listener
}

// WithClock overrides the engine clock.
func WithClock(c raffle.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithDB supplies an open database instead of connecting to cfg.Store.DSN.
func WithDB(db *sqlx.DB) Option {
	return func(o *options) { o.db = db }
}

// WithRedisClient supplies the client used for notification publishing.
func WithRedisClient(c events.RedisClient) Option {
	return func(o *options) { o.redis = c }
}

// WithListener serves HTTP on l instead of listening on cfg.HTTP.Addr.
func WithListener(l net.Listener) Option {
	return func(o *options) { o.listener = l }
}

// New builds a fully wired application. Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config, log *logging.Logger, opts ...Option) (*Application, error) {
	if log == nil {
		log = logging.NewDefault(cfg.Service)
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	a := &Application{
		manager:  system.NewManager(),
		log:      log,
		cfg:      cfg,
		Events:   events.NewRingBuffer(eventHistory),
		listener: o.listener,
	}

	store, err := a.setupStorage(ctx, o)
	if err != nil {
		return nil, err
	}

	vrfCfg, ephemeral, err := cfg.VRFCoordinatorConfig()
	if err != nil {
		return nil, err
	}
	if ephemeral {
		log.Warn("VRF secret not configured; using a per-process key, proofs will not verify after restart")
	}
	a.Coordinator, err = vrf.NewCoordinator(vrfCfg, log.WithService("vrf"))
	if err != nil {
		return nil, fmt.Errorf("create vrf coordinator: %w", err)
	}

	notifier := events.Fanout{a.Events}
	if o.redis != nil || cfg.Redis.Addr != "" {
		client := o.redis
		if client == nil {
			client = events.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		}
		a.publisher = events.NewRedisPublisher(client, cfg.Redis.Channel, 0, log.WithService("events"))
		notifier = append(notifier, a.publisher)
	}

	raffleCfg, err := cfg.RaffleEngineConfig()
	if err != nil {
		return nil, err
	}
	provider := raffle.NewVRFProvider(a.Coordinator, cfg.VRF.Consumer)
	engineOpts := []raffle.Option{
		raffle.WithNotifier(notifier),
		raffle.WithStore(store),
		raffle.WithLogger(log.WithService("raffle")),
	}
	if o.clock != nil {
		engineOpts = append(engineOpts, raffle.WithClock(o.clock))
	}
	a.Engine, err = raffle.New(raffleCfg, a.Ledger, provider, engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("create raffle engine: %w", err)
	}
	if err := provider.Bind(a.Engine); err != nil {
		return nil, fmt.Errorf("bind vrf consumer: %w", err)
	}
	if err := a.Engine.Restore(ctx); err != nil {
		return nil, fmt.Errorf("restore raffle: %w", err)
	}

	a.Keeper = automation.NewKeeper(log.WithService("automation"))
	if cfg.Keeper.Enabled {
		if err := a.Keeper.Register(UpkeepName, raffle.Upkeep(a.Engine), cfg.Keeper.Schedule, nil); err != nil {
			return nil, fmt.Errorf("register upkeep: %w", err)
		}
	}

	srvCfg := server.Config{
		Engine:            a.Engine,
		Events:            a.Events,
		Coordinator:       a.Coordinator,
		ValidateAddresses: cfg.HTTP.ValidateAddresses,
		Logger:            log.WithService("http"),
	}
	pem, err := cfg.JWTPublicKey()
	if err != nil {
		return nil, err
	}
	if len(pem) > 0 {
		srvCfg.Auth, err = middleware.NewAuthMiddlewareFromPEM(pem, log.WithService("auth"))
		if err != nil {
			return nil, err
		}
	} else {
		log.Warn("JWT public key not configured; admin routes disabled")
	}
	var limiter *middleware.RateLimiter
	if cfg.HTTP.RateLimit > 0 {
		limiter = middleware.NewRateLimiter(cfg.HTTP.RateLimit, cfg.HTTP.RateBurst, log.WithService("ratelimit"))
		srvCfg.RateLimiter = limiter
	}
	a.Server = server.New(srvCfg)

	if err := a.registerServices(limiter); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Application) setupStorage(ctx context.Context, o *options) (raffle.Store, error) {
	switch a.cfg.Store.Driver {
	case config.DriverPostgres:
		db := o.db
		if db == nil {
			var err error
			db, err = sqlx.ConnectContext(ctx, "postgres", a.cfg.Store.DSN)
			if err != nil {
				return nil, fmt.Errorf("connect postgres: %w", err)
			}
			if a.cfg.Store.MaxOpenConns > 0 {
				db.SetMaxOpenConns(a.cfg.Store.MaxOpenConns)
			}
		}
		a.db = db
		if a.cfg.Store.Migrate {
			if err := migrations.Apply(ctx, db.DB); err != nil {
				return nil, err
			}
		}
		a.Ledger = ledger.NewPostgresLedger(db)
		if len(a.cfg.Ledger.Genesis) > 0 {
			a.log.Warn("ledger genesis ignored with the postgres driver")
		}
		return postgres.NewStore(db), nil

	default:
		mem := ledger.NewMemoryLedger()
		genesis, err := a.cfg.GenesisBalances()
		if err != nil {
			return nil, err
		}
		accounts := make([]string, 0, len(genesis))
		for account := range genesis {
			accounts = append(accounts, account)
		}
		sort.Strings(accounts)
		for _, account := range accounts {
			if err := mem.Credit(account, genesis[account]); err != nil {
				return nil, fmt.Errorf("seed %s: %w", account, err)
			}
		}
		a.Ledger = mem
		return raffle.NewMemoryStore(), nil
	}
}

func (a *Application) registerServices(limiter *middleware.RateLimiter) error {
	var cancelFulfiller context.CancelFunc
	fulfillerDone := make(chan struct{})
	services := []system.Service{
		system.Func{
			ServiceName: "vrf-fulfiller",
			OnStart: func(context.Context) error {
				var runCtx context.Context
				runCtx, cancelFulfiller = context.WithCancel(context.Background())
				go func() {
					defer close(fulfillerDone)
					a.Coordinator.Run(runCtx)
				}()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				cancelFulfiller()
				select {
				case <-fulfillerDone:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
		},
		system.Func{
			ServiceName: "keeper",
			OnStart: func(context.Context) error {
				a.Keeper.Start()
				return nil
			},
			OnStop: a.Keeper.Stop,
		},
	}

	if limiter != nil {
		var cancelCleanup context.CancelFunc
		services = append(services, system.Func{
			ServiceName: "ratelimit-cleanup",
			OnStart: func(context.Context) error {
				var cleanupCtx context.Context
				cleanupCtx, cancelCleanup = context.WithCancel(context.Background())
				limiter.StartCleanup(cleanupCtx, 10*time.Minute)
				return nil
			},
			OnStop: func(context.Context) error {
				cancelCleanup()
				return nil
			},
		})
	}

	httpServer := &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      a.Server.Handler(),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
	services = append(services, system.Func{
		ServiceName: "http",
		OnStart: func(context.Context) error {
			ln := a.listener
			if ln == nil {
				var err error
				ln, err = net.Listen("tcp", httpServer.Addr)
				if err != nil {
					return fmt.Errorf("listen %s: %w", httpServer.Addr, err)
				}
			}
			a.listener = ln
			go func() {
				a.log.WithField("addr", ln.Addr().String()).Info("raffle API listening")
				if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.log.WithError(err).Error("HTTP server error")
				}
			}()
			return nil
		},
		OnStop: httpServer.Shutdown,
	})

	// The publisher is registered first so it is stopped last and flushes
	// whatever the other services still emit.
	if a.publisher != nil {
		services = append([]system.Service{system.Func{
			ServiceName: "redis-publisher",
			OnStop: func(context.Context) error {
				a.publisher.Close()
				return nil
			},
		}}, services...)
	}

	for _, svc := range services {
		if err := a.manager.Register(svc); err != nil {
			return fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}
	return nil
}

// Addr returns the HTTP listen address once started.
func (a *Application) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Services lists the lifecycle-managed parts in start order.
func (a *Application) Services() []string {
	return a.manager.Names()
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services and closes the database.
func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.Stop(ctx)
	if a.db != nil {
		err = errors.Join(err, a.db.Close())
	}
	return err
}
