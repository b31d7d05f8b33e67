package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"hyperarb/internal/application/port"
	"hyperarb/internal/domain/model"
	domainservice "hyperarb/internal/domain/service"
)

// Runtime-config keys under which the control surface's live-reconfigurable
// settings are persisted in Redis via cfgStore, per SPEC_FULL.md §D.2.
const (
	cfgKeyThresholdBps = "threshold_bps"
	cfgKeyNotionalUSD  = "notional_usd"
	cfgKeyDryRun       = "dry_run"
	cfgKeyTIFPolicy    = "tif_policy"
)

// EngineConfig holds the per-pair tunables the engine needs directly; the
// gate, tracker, and dispatcher each own their own more detailed configs.
type EngineConfig struct {
	PerpSymbol   string
	SpotCoin     string // venue-addressed, e.g. "@107"
	NotionalUSD  float64
	Leverage     int
	ThresholdBps float64 // kept in sync with the gate's own threshold; recorded on trades
	DryRun       bool
}

// Engine is the composition of every component into the single tick-driven
// loop described by spec §5: merge book updates into ticks, compute the
// edge, and fan it out to the tracker, the position manager, the broadcast
// feed, the persistence sink, and finally the gate, in that order.
type Engine struct {
	exch port.Exchange
	cfg  EngineConfig

	edgeCalc   *domainservice.EdgeCalculator
	gate       *domainservice.StabilityGate
	limiter    *domainservice.RateLimiter
	kill       *domainservice.KillSwitch
	guard      *CapitalGuard
	dispatcher *OrderDispatcher
	positions  *PositionManager
	tracker    *domainservice.OpportunityTracker

	edgeSink    port.EdgeSink
	broadcaster port.Broadcaster
	notifier    port.Notifier
	cfgStore    port.LiveConfigStore

	mu         sync.Mutex
	paused     bool
	latestPerp port.L2Book
	latestSpot port.L2Book
	lastPerpMs int64
	lastSpotMs int64
	feedStale  bool
}

// feedStaleAfter is the subscription-gap threshold from spec §4.1: a book
// side that has not updated within this window is treated as stale and
// pauses the gate until fresh data arrives on both sides.
const feedStaleAfter = 2 * time.Second

// feedStalePollInterval is how often Run's staleness monitor re-checks the
// two sides' last-update timestamps.
const feedStalePollInterval = 250 * time.Millisecond

func NewEngine(
	exch port.Exchange,
	cfg EngineConfig,
	edgeCalc *domainservice.EdgeCalculator,
	gate *domainservice.StabilityGate,
	limiter *domainservice.RateLimiter,
	kill *domainservice.KillSwitch,
	guard *CapitalGuard,
	dispatcher *OrderDispatcher,
	positions *PositionManager,
	tracker *domainservice.OpportunityTracker,
	edgeSink port.EdgeSink,
	broadcaster port.Broadcaster,
	notifier port.Notifier,
) *Engine {
	return &Engine{
		exch: exch, cfg: cfg,
		edgeCalc: edgeCalc, gate: gate, limiter: limiter, kill: kill,
		guard: guard, dispatcher: dispatcher, positions: positions, tracker: tracker,
		edgeSink: edgeSink, broadcaster: broadcaster, notifier: notifier,
	}
}

type bookUpdate struct {
	role legRole
	book port.L2Book
}

// Run drives the engine until ctx is cancelled or an unrecoverable feed
// error occurs. It recovers open positions from storage before the first
// tick is processed.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.positions.Restore(ctx); err != nil {
		return err
	}
	e.loadPersistedConfig(ctx)

	updates := make(chan bookUpdate, 32)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return e.runFeed(gctx, legPerp, e.cfg.PerpSymbol, updates) })
	g.Go(func() error { return e.runFeed(gctx, legSpot, e.cfg.SpotCoin, updates) })
	g.Go(func() error { return e.monitorFeedStaleness(gctx) })
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case u := <-updates:
				e.onBookUpdate(ctx, u)
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runFeed subscribes to coin's book and forwards every update into out,
// resubscribing with exponential backoff whenever the channel closes — the
// engine, not the exchange client, owns reconnection per the port contract.
func (e *Engine) runFeed(ctx context.Context, role legRole, coin string, out chan<- bookUpdate) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		ch, err := e.exch.SubscribeL2Book(ctx, coin)
		if err != nil {
			log.Error().Err(err).Str("coin", coin).Dur("backoff", backoff).Msg("book subscription failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = 100 * time.Millisecond

	drain:
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case book, ok := <-ch:
				if !ok {
					log.Warn().Str("coin", coin).Msg("book feed closed, resubscribing")
					break drain
				}
				select {
				case out <- bookUpdate{role: role, book: book}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

// monitorFeedStaleness implements spec §4.1's failure mode: a subscription
// gap exceeding feedStaleAfter on either side pauses the StabilityGate
// (via the paused flag folded into Evaluate's gate) until both sides have
// produced a fresh update again.
func (e *Engine) monitorFeedStaleness(ctx context.Context) error {
	ticker := time.NewTicker(feedStalePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			now := time.Now().UnixMilli()
			e.mu.Lock()
			gapPerp := e.lastPerpMs != 0 && now-e.lastPerpMs > feedStaleAfter.Milliseconds()
			gapSpot := e.lastSpotMs != 0 && now-e.lastSpotMs > feedStaleAfter.Milliseconds()
			wasStale := e.feedStale
			e.feedStale = gapPerp || gapSpot
			becameStale := e.feedStale && !wasStale
			e.mu.Unlock()
			if becameStale {
				log.Warn().Bool("perp_gap", gapPerp).Bool("spot_gap", gapSpot).Msg("feed stale, pausing gate")
			}
		}
	}
}

func (e *Engine) isFeedStale() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.feedStale
}

func (e *Engine) onBookUpdate(ctx context.Context, u bookUpdate) {
	nowMs := time.Now().UnixMilli()
	e.mu.Lock()
	if u.role == legPerp {
		e.latestPerp = u.book
		e.lastPerpMs = nowMs
	} else {
		e.latestSpot = u.book
		e.lastSpotMs = nowMs
	}
	wasStale := e.feedStale
	if wasStale {
		staleMs := feedStaleAfter.Milliseconds()
		e.feedStale = nowMs-e.lastPerpMs > staleMs || nowMs-e.lastSpotMs > staleMs
	}
	recovered := wasStale && !e.feedStale
	e.mu.Unlock()
	if recovered {
		log.Info().Msg("feed recovered, resuming gate")
	}

	perpBid, perpAsk, ok1 := e.latestPerp.BestBidAsk()
	spotBid, spotAsk, ok2 := e.latestSpot.BestBidAsk()
	if !ok1 || !ok2 {
		return
	}

	tick := model.Tick{
		PerpBid: perpBid, PerpAsk: perpAsk,
		SpotBid: spotBid, SpotAsk: spotAsk,
		RecvMs: time.Now().UnixMilli(),
		SendMs: u.book.SendMs,
	}
	if !tick.Valid() {
		return
	}

	edge := e.edgeCalc.Compute(tick)
	now := time.Now()

	e.tracker.OnTick(tick, edge)
	e.positions.OnTick(ctx, tick, edge, now)
	e.publish(ctx, tick, edge)
	e.writeEdge(tick, edge)

	e.gate.SetPaused(e.isPaused() || e.kill.IsSet() || e.cfg.DryRun || e.isFeedStale())
	req := e.gate.Evaluate(edge, now)
	if req == nil {
		return
	}

	e.limiter.Record(now)
	e.handleDispatch(ctx, req, tick)
}

func (e *Engine) handleDispatch(ctx context.Context, req *domainservice.DispatchRequest, tick model.Tick) {
	defer e.gate.OnDispatchTerminal()

	ok, refusal, err := e.guard.Admit(ctx, req.Direction, e.cfg.NotionalUSD, e.cfg.Leverage, tick.MidRef())
	if err != nil {
		log.Error().Err(err).Msg("capital guard query failed, skipping dispatch")
		return
	}
	if !ok {
		log.Warn().Str("code", refusal.Code).Str("reason", refusal.Message).Msg("dispatch refused by capital guard")
		e.notify(ctx, port.Notification{Severity: "warn", Direction: req.Direction.String(), Code: refusal.Code, Message: refusal.Message})
		return
	}

	pos, err := e.dispatcher.Open(ctx, req.Direction, e.cfg.NotionalUSD, tick, req.EdgeBps, e.cfg.ThresholdBps)
	if err != nil {
		var de *DispatchError
		severity := "critical"
		code := "DispatchFailed"
		if errors.As(err, &de) {
			code = de.Kind.String()
			if de.Kind == PartialRecovered {
				severity = "warn"
			}
		}
		log.Error().Err(err).Str("direction", req.Direction.String()).Msg("dispatch open failed")
		e.notify(ctx, port.Notification{Severity: severity, Direction: req.Direction.String(), NotionalUSD: e.cfg.NotionalUSD, Code: code, Message: err.Error()})
		return
	}

	if err := e.positions.Track(ctx, pos); err != nil {
		log.Error().Err(err).Str("position_id", pos.ID).Msg("position persistence failed")
	}
	e.notify(ctx, port.Notification{Severity: "info", Direction: req.Direction.String(), NotionalUSD: e.cfg.NotionalUSD, Message: "position opened"})
}

func (e *Engine) publish(ctx context.Context, tick model.Tick, edge model.Edge) {
	if e.broadcaster == nil {
		return
	}
	payload := port.EdgePayload{
		Ts:           time.Now().UnixMilli(),
		Base:         e.cfg.PerpSymbol,
		EdgePsMMBps:  edge.PerpToSpotBps,
		EdgeSpMMBps:  edge.SpotToPerpBps,
		MidRef:       edge.MidRef,
		LatencyMs:    tick.RecvMs - tick.SendMs,
		ThresholdBps: e.cfg.ThresholdBps,
	}
	if err := e.broadcaster.Publish(ctx, payload); err != nil {
		log.Error().Err(err).Msg("broadcast publish failed")
	}
}

func (e *Engine) writeEdge(tick model.Tick, edge model.Edge) {
	if e.edgeSink == nil {
		return
	}
	e.edgeSink.WriteEdge(port.EdgeRecord{
		Ts:        time.Now().UnixMilli(),
		Base:      e.cfg.PerpSymbol,
		EdgePsBps: edge.PerpToSpotBps,
		EdgeSpBps: edge.SpotToPerpBps,
		MidRef:    edge.MidRef,
		RecvMs:    tick.RecvMs,
		SendMs:    tick.SendMs,
	})
}

func (e *Engine) notify(ctx context.Context, n port.Notification) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, n); err != nil {
		log.Error().Err(err).Msg("operator notification failed")
	}
}

func (e *Engine) isPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// Pause and Resume implement the control surface's pause/resume commands.
func (e *Engine) Pause()  { e.mu.Lock(); e.paused = true; e.mu.Unlock() }
func (e *Engine) Resume() { e.mu.Lock(); e.paused = false; e.mu.Unlock() }

// SetKillSwitch toggles the emergency stop. Existing positions continue to
// be managed for closure; no new dispatch is armed while set.
func (e *Engine) SetKillSwitch(v bool) { e.kill.Set(v) }

// SetCfgStore wires in the Redis-backed live-settings store, per
// SPEC_FULL.md §D.2. Left nil (the default), every Set* method below still
// takes effect immediately in-process; it just won't survive a restart.
func (e *Engine) SetCfgStore(store port.LiveConfigStore) {
	e.cfgStore = store
}

// loadPersistedConfig restores any control-surface overrides persisted from
// a prior run, so a restart doesn't silently revert to the config-file
// defaults spec §9 warns operators about.
func (e *Engine) loadPersistedConfig(ctx context.Context) {
	if e.cfgStore == nil {
		return
	}
	e.mu.Lock()
	e.cfg.ThresholdBps = e.cfgStore.GetFloat(ctx, cfgKeyThresholdBps, e.cfg.ThresholdBps)
	e.cfg.NotionalUSD = e.cfgStore.GetFloat(ctx, cfgKeyNotionalUSD, e.cfg.NotionalUSD)
	e.cfg.DryRun = e.cfgStore.GetBool(ctx, cfgKeyDryRun, e.cfg.DryRun)
	thresholdBps := e.cfg.ThresholdBps
	e.mu.Unlock()

	e.gate.SetThresholdBps(thresholdBps)
	if policy := e.cfgStore.GetString(ctx, cfgKeyTIFPolicy, e.dispatcher.TIFPolicy()); policy != "" {
		if err := e.dispatcher.SetTIFPolicy(policy); err != nil {
			log.Warn().Err(err).Str("policy", policy).Msg("ignoring invalid persisted tif policy")
		}
	}
}

// SetThresholdBps and SetNotionalUSD implement the control surface's live
// reconfiguration commands. The new value takes effect on the very next
// tick/dispatch (StabilityGate.Evaluate reads its own mutex-guarded copy,
// not a value frozen at startup) and is persisted to cfgStore, when wired,
// so it survives a restart.
func (e *Engine) SetThresholdBps(ctx context.Context, bps float64) {
	e.mu.Lock()
	e.cfg.ThresholdBps = bps
	e.mu.Unlock()
	e.gate.SetThresholdBps(bps)
	e.persistFloat(ctx, cfgKeyThresholdBps, bps)
}

func (e *Engine) SetNotionalUSD(ctx context.Context, usd float64) {
	e.mu.Lock()
	e.cfg.NotionalUSD = usd
	e.mu.Unlock()
	e.persistFloat(ctx, cfgKeyNotionalUSD, usd)
}

// SetDryRun implements the control surface's "dryrun" command: while set,
// the gate is held paused the same way an operator pause or kill-switch
// would, but positions already open keep being managed to closure.
func (e *Engine) SetDryRun(ctx context.Context, v bool) {
	e.mu.Lock()
	e.cfg.DryRun = v
	e.mu.Unlock()
	if e.cfgStore != nil {
		if err := e.cfgStore.SetBool(ctx, cfgKeyDryRun, v); err != nil {
			log.Warn().Err(err).Msg("failed to persist dry_run to runtime config store")
		}
	}
}

func (e *Engine) persistFloat(ctx context.Context, key string, v float64) {
	if e.cfgStore == nil {
		return
	}
	if err := e.cfgStore.SetFloat(ctx, key, v); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to persist runtime config value")
	}
}

// Status is a snapshot for the control surface's "status" command.
type Status struct {
	Paused        bool
	KillSwitch    bool
	OpenPositions int
	DryRun        bool
	ThresholdBps  float64
	NotionalUSD   float64
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Paused:        e.paused,
		KillSwitch:    e.kill.IsSet(),
		OpenPositions: e.positions.Open(),
		DryRun:        e.cfg.DryRun,
		ThresholdBps:  e.cfg.ThresholdBps,
		NotionalUSD:   e.cfg.NotionalUSD,
	}
}

// Balance implements the control surface's "balance" command.
func (e *Engine) Balance(ctx context.Context) (port.AccountState, error) {
	return e.guard.Balances(ctx)
}

// SetTIFPolicy implements the control surface's "tif" command.
func (e *Engine) SetTIFPolicy(ctx context.Context, policy string) error {
	if err := e.dispatcher.SetTIFPolicy(policy); err != nil {
		return err
	}
	if e.cfgStore != nil {
		if err := e.cfgStore.SetString(ctx, cfgKeyTIFPolicy, e.dispatcher.TIFPolicy()); err != nil {
			log.Warn().Err(err).Msg("failed to persist tif_policy to runtime config store")
		}
	}
	return nil
}

// Stats is a snapshot for the control surface's "stats" command: the
// dispatch rate over the trailing 60-second window and the current TIF
// policy, alongside the same fields Status reports.
type Stats struct {
	Status
	TIFPolicy       string
	DispatchLastMin int
}

func (e *Engine) Stats() Stats {
	return Stats{
		Status:          e.Status(),
		TIFPolicy:       e.dispatcher.TIFPolicy(),
		DispatchLastMin: e.limiter.Count(time.Now()),
	}
}

// Drain waits for any in-flight dispatch to reach a terminal state, per
// spec §5's shutdown drain sequence step 2.
func (e *Engine) Drain(ctx context.Context) error {
	return e.dispatcher.Drain(ctx)
}

// CloseAll requests closure of every open position on operator demand,
// priced off the most recent merged tick.
func (e *Engine) CloseAll(ctx context.Context) {
	e.mu.Lock()
	latestPerp, latestSpot := e.latestPerp, e.latestSpot
	e.mu.Unlock()
	perpBid, perpAsk, ok1 := latestPerp.BestBidAsk()
	spotBid, spotAsk, ok2 := latestSpot.BestBidAsk()
	if !ok1 || !ok2 {
		return
	}
	t := model.Tick{PerpBid: perpBid, PerpAsk: perpAsk, SpotBid: spotBid, SpotAsk: spotAsk, RecvMs: time.Now().UnixMilli()}
	edge := e.edgeCalc.Compute(t)
	for _, id := range e.positions.OpenIDs() {
		e.positions.RequestClose(ctx, id, t, edge)
	}
}
