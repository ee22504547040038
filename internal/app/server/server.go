package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/rs/zerolog/log"

	"rtb-bidder/internal/api"
	"rtb-bidder/internal/bidcache"
	"rtb-bidder/internal/bus"
	"rtb-bidder/internal/campaign"
	"rtb-bidder/internal/config"
	"rtb-bidder/internal/control"
	"rtb-bidder/internal/engine"
	"rtb-bidder/internal/listener"
	"rtb-bidder/internal/storage"
)

// App is a fully wired bidder without its network listeners started.
type App struct {
	Handler    http.Handler
	Store      *campaign.Store
	Engine     *engine.BidEngine
	Controller *control.Controller

	db      *storage.Store
	closers []func()
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) onClose(f func()) { a.closers = append(a.closers, f) }

// Build wires every component from cfg and loads the initial campaign set.
func Build(ctx context.Context, cfg config.Config) (_ *App, err error) {
	a := &App{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	pool := pond.NewPool(cfg.Bidder.WorkerPoolSize)
	a.onClose(pool.StopAndWait)

	if cfg.Postgres.Enabled {
		if cfg.Postgres.RunMigrations {
			if err := storage.Migrate(cfg.DSN()); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		a.db, err = storage.New(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("init storage: %w", err)
		}
		a.onClose(a.db.Close)
	}

	a.Store = campaign.NewStore()
	if err := bootstrap(ctx, cfg, a.db, a.Store); err != nil {
		return nil, fmt.Errorf("initial campaign load: %w", err)
	}

	b, err := newBus(cfg)
	if err != nil {
		return nil, fmt.Errorf("init bus: %w", err)
	}
	a.onClose(func() { _ = b.Close() })

	pubs := control.NewPublishers(b, control.Topics(cfg.Bus.Topics), cfg.Bidder.Instance, cfg.Bus.QueueSize, cfg.Bidder.BusLogLevel)
	a.onClose(pubs.Close)

	a.Engine = engine.NewEngine(a.Store, pool,
		engine.WithBudget(cfg.Bidder.RoundBudget),
		engine.WithReporter(pubs),
		engine.WithNoBidReasons(cfg.Bidder.PrintNoBidReason),
	)
	a.Engine.SetThrottle(cfg.Bidder.Throttle)

	var source control.CampaignSource
	if a.db != nil {
		source = a.db
	}
	a.Controller = control.NewController(cfg.Bidder.Instance, a.Store, a.Engine, source, pubs)
	if err := a.Controller.Listen(b, cfg.Bus.Topics.Commands); err != nil {
		return nil, fmt.Errorf("subscribe commands: %w", err)
	}

	cache, err := newCache(cfg)
	if err != nil {
		return nil, fmt.Errorf("init bid cache: %w", err)
	}
	a.onClose(func() { _ = cache.Close() })

	a.Handler = api.Router(api.NewBidHandler(a.Engine, a.Store, cache, pubs, cfg.Bidder.BidTTL))
	return a, nil
}

// bootstrap publishes the campaign file and, when configured, the database
// campaigns as the first snapshot. A database campaign replaces a file
// campaign with the same key, as a later refresh would.
func bootstrap(ctx context.Context, cfg config.Config, db *storage.Store, store *campaign.Store) error {
	var local []*campaign.Campaign
	if cfg.Bidder.CampaignFile != "" {
		cs, err := campaign.LoadFile(cfg.Bidder.CampaignFile)
		if err != nil {
			return err
		}
		local = cs
	}
	if err := store.Publish(local); err != nil {
		return err
	}
	if db != nil {
		if err := listener.Refresh(ctx, db, store); err != nil {
			return err
		}
	}
	log.Info().Int("campaigns", store.Size()).Msg("initial campaign snapshot")
	return nil
}

func newBus(cfg config.Config) (bus.Bus, error) {
	if cfg.Bus.Broker == "" {
		log.Warn().Msg("no bus broker configured; commands and events stay in-process")
		return bus.NewMemory(), nil
	}
	return bus.NewMQTT(bus.MQTTOptions{Broker: cfg.Bus.Broker, ClientID: cfg.Bus.ClientID})
}

func newCache(cfg config.Config) (bidcache.Cache, error) {
	switch cfg.Cache.Driver {
	case "memory":
		return bidcache.NewMemoryCache(cfg.Cache.Limit), nil
	case "redis":
		c, err := bidcache.NewRedisCache(bidcache.RedisOptions{
			Addr:     cfg.Cache.RedisAddr,
			DB:       cfg.Cache.RedisDB,
			Password: cfg.Cache.RedisPassword,
			Timeout:  cfg.Cache.Timeout,
		})
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.Ping(ctx); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Cache.RedisAddr).Msg("redis not reachable yet")
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Cache.Driver)
	}
}

func Run(cfg config.Config) {
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := Build(rootCtx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init bidder")
	}
	defer app.Close()

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      app.Handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Listener (LISTEN/NOTIFY)
	if app.db != nil {
		go listener.ListenAndRefresh(rootCtx, app.db.PgxPool(), app.db, app.Store, app.db.ListenChannel(), cfg.Backoff())
	}

	// Server goroutine
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Str("instance", cfg.Bidder.Instance).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server crashed")
		}
	}()

	// Wait for signal
	waitForSignal()
	log.Info().Msg("shutdown...")

	// Graceful shutdown
	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	cancel() // stop background goroutines
	_ = srv.Shutdown(shCtx)
}

func waitForSignal() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}
