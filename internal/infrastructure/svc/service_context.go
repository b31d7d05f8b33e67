package svc

import (
	"context"
	"fmt"
	"time"

	redisclient "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"hyperarb/internal/application/port"
	"hyperarb/internal/application/rebalance"
	"hyperarb/internal/application/service"
	"hyperarb/internal/domain/model"
	domainservice "hyperarb/internal/domain/service"
	"hyperarb/internal/infrastructure/broadcast"
	"hyperarb/internal/infrastructure/config"
	"hyperarb/internal/infrastructure/exchange/hyperliquid"
	"hyperarb/internal/infrastructure/runtimeconfig"
	"hyperarb/internal/infrastructure/storage/batch"
	"hyperarb/internal/infrastructure/storage/composite"
	"hyperarb/internal/infrastructure/storage/postgres"
	"hyperarb/internal/infrastructure/storage/sqlite"
	"hyperarb/internal/interfaces/console"
	"hyperarb/internal/interfaces/controlsurface"
)

// ServiceContext is the single composition root: every component the
// engine needs is constructed here, in dependency order, and torn down in
// reverse order on Close. Nothing outside this file knows how the pieces
// are wired together.
type ServiceContext struct {
	Ctx    context.Context
	Config *config.Config

	exch        *hyperliquid.Client
	repo        port.Repository
	redisClient *redisclient.Client
	cfgStore    *runtimeconfig.Store

	edgeWriter *batch.EdgeWriter
	oppWriter  *batch.OpportunityWriter

	Engine     *service.Engine
	Rebalancer *rebalance.Scheduler
	Control    *controlsurface.Server

	closerChain []func() error
}

// New is the application's sole startup entry point: it builds and wires
// every component and returns a ServiceContext ready to Run.
func New(ctx context.Context, cfg *config.Config) (*ServiceContext, error) {
	sc := &ServiceContext{
		Ctx:         ctx,
		Config:      cfg,
		closerChain: make([]func() error, 0),
	}

	if err := sc.initExchange(); err != nil {
		_ = sc.Close()
		return nil, err
	}
	if err := sc.initStorage(); err != nil {
		_ = sc.Close()
		return nil, err
	}
	if err := sc.initRedis(); err != nil {
		_ = sc.Close()
		return nil, err
	}
	sc.initComponents()

	return sc, nil
}

func (sc *ServiceContext) initExchange() error {
	cfg := sc.Config
	client, err := hyperliquid.NewClient(hyperliquid.Config{
		RestURL:        cfg.Hyperliquid.RestURL,
		WsURL:          cfg.Hyperliquid.WsURL,
		PrivateKeyHex:  cfg.Hyperliquid.PrivateKeyHex,
		Mainnet:        cfg.Hyperliquid.Network == "mainnet",
		PerpAssetIndex: cfg.Hyperliquid.PerpAssetIndex,
		SpotAssetIndex: cfg.Hyperliquid.SpotAssetIndex,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExchangeInitFailed, err)
	}
	sc.exch = client
	log.Info().Str("network", cfg.Hyperliquid.Network).Msg("hyperliquid client initialized")
	return nil
}

// initStorage wires the embedded sqlite database, always on, and an
// optional Postgres mirror behind composite.Repo when configured — the
// rest of the engine only ever sees the port.Repository interface.
func (sc *ServiceContext) initStorage() error {
	cfg := sc.Config
	sqliteRepo, err := sqlite.New(cfg.Sqlite.Path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInitFailed, err)
	}
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing sqlite connection")
		return sqliteRepo.Close()
	})
	log.Info().Str("path", cfg.Sqlite.Path).Msg("sqlite storage initialized")

	if !cfg.Postgres.Enabled {
		sc.repo = sqliteRepo
		return nil
	}

	pgRepo, err := postgres.New(cfg.PostgresDSN())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInitFailed, err)
	}
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing postgres connection")
		return pgRepo.Close()
	})
	log.Info().Str("db", cfg.Postgres.DB).Msg("postgres mirror initialized")

	sc.repo = composite.New(sqliteRepo, pgRepo)
	return nil
}

// initRedis wires the Redis-backed pieces — the runtime config store and
// the broadcast publisher — both optional in the sense that a Redis
// outage at startup degrades the engine (no persisted overrides, no
// broadcast feed) rather than preventing it from trading.
func (sc *ServiceContext) initRedis() error {
	cfg := sc.Config
	rdb := redisclient.NewClient(&redisclient.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(sc.Ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis unreachable at startup; runtime config and broadcast feed disabled")
		return nil
	}

	sc.redisClient = rdb
	sc.cfgStore = runtimeconfig.New(rdb)
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing redis connection")
		return rdb.Close()
	})
	log.Info().Str("addr", cfg.RedisAddr()).Msg("redis initialized")
	return nil
}

func (sc *ServiceContext) initComponents() {
	cfg := sc.Config

	fees := model.FeeSchedule{
		PerpMakerBps: cfg.Fees.PerpMakerBps,
		PerpTakerBps: cfg.Fees.PerpTakerBps,
		SpotMakerBps: cfg.Fees.SpotMakerBps,
		SpotTakerBps: cfg.Fees.SpotTakerBps,
	}

	sc.edgeWriter = batch.NewEdgeWriter(sc.repo)
	sc.oppWriter = batch.NewOpportunityWriter(sc.repo)

	var broadcaster port.Broadcaster
	if sc.redisClient != nil {
		channel := fmt.Sprintf("edges:%s:%s", cfg.Pair.Base, cfg.Pair.Quote)
		broadcaster = broadcast.NewPublisher(sc.redisClient, channel)
	}

	edgeCalc := domainservice.NewEdgeCalculator(fees)
	limiter := domainservice.NewRateLimiter(cfg.Strategy.MaxTradesPerMinPerPair)
	kill := &domainservice.KillSwitch{}
	gate := domainservice.NewStabilityGate(domainservice.GateConfig{
		ThresholdBps: cfg.Strategy.ThresholdBps,
		DwellMs:      1000,
		CoolDownMs:   cfg.Strategy.AloCloseTimeoutMs,
	}, limiter)
	tracker := domainservice.NewOpportunityTracker(cfg.Strategy.BaselineWindow, cfg.Strategy.ObservationThresholdBps, fees, sc.oppWriter)

	notifier := console.NewNotifier()
	guard := service.NewCapitalGuard(sc.exch)

	perpSymbol := cfg.Pair.Base
	spotCoin := fmt.Sprintf("@%d", cfg.Hyperliquid.SpotAssetIndex)

	dispatcher := service.NewOrderDispatcher(sc.exch, service.DispatcherConfig{
		PerpSymbol:          perpSymbol,
		SpotCoin:            spotCoin,
		Leverage:            cfg.Strategy.Leverage,
		SpikeExtraBpsForIOC: cfg.Strategy.SpikeExtraBpsForIOC,
		LotStep:             cfg.Strategy.LotStep,
		MinNotionalUSD:      cfg.Strategy.MinOrderNotionalUSD,
		DeadmanSeconds:      cfg.Strategy.DeadmanSeconds,
		AloOpenTimeoutMs:    cfg.Strategy.AloOpenTimeoutMs,
		AloCloseTimeoutMs:   cfg.Strategy.AloCloseTimeoutMs,
	}, sc.repo)

	positions := service.NewPositionManager(service.PositionManagerConfig{
		MaxHoldMs:         cfg.Strategy.MaxHoldMs,
		CloseThresholdBps: cfg.Strategy.CloseThresholdBps,
	}, dispatcher, sc.repo, notifier)

	sc.Engine = service.NewEngine(sc.exch, service.EngineConfig{
		PerpSymbol:   perpSymbol,
		SpotCoin:     spotCoin,
		NotionalUSD:  cfg.Strategy.AllocPerTradeUSD,
		Leverage:     cfg.Strategy.Leverage,
		ThresholdBps: cfg.Strategy.ThresholdBps,
		DryRun:       cfg.Strategy.DryRun,
	}, edgeCalc, gate, limiter, kill, guard, dispatcher, positions, tracker, sc.edgeWriter, broadcaster, notifier)
	if sc.cfgStore != nil {
		sc.Engine.SetCfgStore(sc.cfgStore)
	}

	// The rebalance collaborator is left nil: the rebalancer only owns the
	// schedule here, and no capital-allocation policy has been wired in
	// yet, matching the decision recorded for this open question.
	sc.Rebalancer = rebalance.NewScheduler(sc.exch, nil)

	sc.Control = controlsurface.NewServer(sc.Engine, cfg.ControlSurface.Addr, controlsurface.Deps{
		Queries:    sc.repo,
		CfgStore:   sc.cfgStore,
		Rebalancer: sc.Rebalancer,
	})
}

// Run starts every long-lived component and blocks until ctx is cancelled
// or one of them fails.
func (sc *ServiceContext) Run(ctx context.Context) error {
	errc := make(chan error, 4)

	go func() { errc <- sc.Engine.Run(ctx) }()
	go func() { sc.Rebalancer.Run(ctx); errc <- nil }()
	go func() { errc <- sc.Control.Run(ctx) }()
	go func() { sc.edgeWriter.Run(ctx); errc <- nil }()
	go sc.oppWriter.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			if err != nil {
				return err
			}
		}
	}
}

// Shutdown implements spec §5's operator-shutdown drain sequence: (1) set
// the kill-switch so no new dispatch arms, (2) wait for the dispatcher's
// in-flight operation to finish or time out, (3) close every open position
// with aggressive IOC, (4) flush the persistence queues. drainCtx should be
// a fresh context (not the one Run was cancelled with) carrying its own
// deadline, since the run context is already done by the time this is called.
func (sc *ServiceContext) Shutdown(drainCtx context.Context) {
	sc.Engine.SetKillSwitch(true)

	if err := sc.Engine.Drain(drainCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown: dispatcher drain timed out, closing positions anyway")
	}

	// The process is exiting, so the forced "ioc" policy is never restored.
	if err := sc.Engine.SetTIFPolicy(drainCtx, "ioc"); err != nil {
		log.Warn().Err(err).Msg("shutdown: could not force ioc tif for close-all")
	}
	sc.Engine.CloseAll(drainCtx)

	if sc.edgeWriter != nil {
		select {
		case <-sc.edgeWriter.Done():
		case <-drainCtx.Done():
			log.Warn().Msg("shutdown: edge writer flush timed out")
		}
	}
	if sc.oppWriter != nil {
		select {
		case <-sc.oppWriter.Done():
		case <-drainCtx.Done():
			log.Warn().Msg("shutdown: opportunity writer flush timed out")
		}
	}
}

// Close tears down every resource in reverse order of acquisition.
func (sc *ServiceContext) Close() error {
	var firstErr error
	for i := len(sc.closerChain) - 1; i >= 0; i-- {
		if err := sc.closerChain[i](); err != nil {
			log.Error().Err(err).Msg("error closing resource")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
