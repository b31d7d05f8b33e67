package controlsurface

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"hyperarb/internal/application/port"
	"hyperarb/internal/application/rebalance"
	"hyperarb/internal/application/service"
	"hyperarb/internal/infrastructure/runtimeconfig"
)

// Server is a line-oriented TCP command server: one command per line, one
// response per line, newline-terminated. It is the sole operator-facing
// surface — pause/resume/kill/unkill/threshold/notional/tif/dryrun/close-all,
// the rebalance trigger, and the read-only
// status/balance/positions/trades/pnl/stats/config queries all go through here.
type Server struct {
	engine     *service.Engine
	addr       string
	handlers   map[string]handlerFunc
	queries    port.QueryRepository
	cfgStore   *runtimeconfig.Store
	rebalancer *rebalance.Scheduler
}

type handlerFunc func(ctx context.Context, args []string) (string, error)

// Deps bundles the read-only/side-channel dependencies the control surface
// needs beyond the engine itself. Any field left nil simply makes the
// corresponding command report it is unavailable, rather than panicking.
type Deps struct {
	Queries    port.QueryRepository
	CfgStore   *runtimeconfig.Store
	Rebalancer *rebalance.Scheduler
}

func NewServer(engine *service.Engine, addr string, deps Deps) *Server {
	s := &Server{engine: engine, addr: addr, queries: deps.Queries, cfgStore: deps.CfgStore, rebalancer: deps.Rebalancer}
	s.handlers = map[string]handlerFunc{
		"pause":     s.handlePause,
		"resume":    s.handleResume,
		"kill":      s.handleKill,
		"unkill":    s.handleUnkill,
		"threshold": s.handleThreshold,
		"notional":  s.handleNotional,
		"tif":       s.handleTIF,
		"dryrun":    s.handleDryRun,
		"status":    s.handleStatus,
		"balance":   s.handleBalance,
		"positions": s.handlePositions,
		"trades":    s.handleTrades,
		"pnl":       s.handlePnL,
		"stats":     s.handleStats,
		"rebalance": s.handleRebalance,
		"config":    s.handleConfig,
		"close-all": s.handleCloseAll,
	}
	return s
}

// Run accepts connections until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("controlsurface: listen: %w", err)
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	log.Info().Str("addr", s.addr).Msg("control surface listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msg("control surface accept failed")
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		resp := s.dispatch(ctx, line)
		if _, err := fmt.Fprintln(conn, resp); err != nil {
			return
		}
	}
}

// reply is the one JSON object every command produces, per spec.md §6's
// "each command returns a structured reply" and SPEC_FULL §E.
type reply struct {
	OK    bool   `json:"ok"`
	Data  string `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

func (s *Server) dispatch(ctx context.Context, line string) string {
	fields := strings.Fields(line)
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	// "set <threshold|notional|tif|dryrun> <value>" is accepted alongside
	// the bare form, matching the operator-facing command names verbatim.
	if cmd == "set" && len(args) >= 1 {
		cmd = strings.ToLower(args[0])
		args = args[1:]
	}

	h, ok := s.handlers[cmd]
	if !ok {
		return encodeReply(reply{Error: "unknown command: " + cmd})
	}
	resp, err := h(ctx, args)
	if err != nil {
		return encodeReply(reply{Error: err.Error()})
	}
	return encodeReply(reply{OK: true, Data: resp})
}

// encodeReply marshals r to a single line of JSON. Marshaling a reply
// literal of only string/bool fields cannot fail; a failure here would be a
// bug in this type, not a runtime condition callers need to branch on.
func encodeReply(r reply) string {
	b, err := json.Marshal(r)
	if err != nil {
		log.Error().Err(err).Msg("control surface reply failed to marshal")
		return `{"ok":false,"error":"internal: reply encoding failed"}`
	}
	return string(b)
}

func (s *Server) handlePause(ctx context.Context, args []string) (string, error) {
	s.engine.Pause()
	return "paused", nil
}

func (s *Server) handleResume(ctx context.Context, args []string) (string, error) {
	s.engine.Resume()
	return "resumed", nil
}

func (s *Server) handleKill(ctx context.Context, args []string) (string, error) {
	s.engine.SetKillSwitch(true)
	return "kill switch engaged", nil
}

func (s *Server) handleUnkill(ctx context.Context, args []string) (string, error) {
	s.engine.SetKillSwitch(false)
	return "kill switch released", nil
}

func (s *Server) handleThreshold(ctx context.Context, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: threshold <bps>")
	}
	bps, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return "", fmt.Errorf("invalid bps: %w", err)
	}
	s.engine.SetThresholdBps(ctx, bps)
	return fmt.Sprintf("threshold set to %.2f bps", bps), nil
}

func (s *Server) handleNotional(ctx context.Context, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: notional <usd>")
	}
	usd, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return "", fmt.Errorf("invalid usd: %w", err)
	}
	s.engine.SetNotionalUSD(ctx, usd)
	return fmt.Sprintf("notional set to %.2f usd", usd), nil
}

func (s *Server) handleDryRun(ctx context.Context, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: dryrun <on|off>")
	}
	on := args[0] == "on" || args[0] == "true"
	s.engine.SetDryRun(ctx, on)
	return fmt.Sprintf("dry_run set to %t", on), nil
}

func (s *Server) handleTIF(ctx context.Context, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: tif <maker|ioc>")
	}
	if err := s.engine.SetTIFPolicy(ctx, args[0]); err != nil {
		return "", err
	}
	return fmt.Sprintf("tif policy set to %s", args[0]), nil
}

func (s *Server) handleStatus(ctx context.Context, args []string) (string, error) {
	st := s.engine.Status()
	return fmt.Sprintf(
		"paused=%t kill=%t dry_run=%t open_positions=%d threshold_bps=%.2f notional_usd=%.2f",
		st.Paused, st.KillSwitch, st.DryRun, st.OpenPositions, st.ThresholdBps, st.NotionalUSD,
	), nil
}

func (s *Server) handleBalance(ctx context.Context, args []string) (string, error) {
	st, err := s.engine.Balance(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"perp_free_usdc=%.2f spot_usdc=%.2f spot_base=%.6f",
		st.PerpFreeUSDC, st.SpotUSDC, st.SpotBase,
	), nil
}

func (s *Server) handlePositions(ctx context.Context, args []string) (string, error) {
	return fmt.Sprintf("%d open", s.engine.Status().OpenPositions), nil
}

func (s *Server) handleTrades(ctx context.Context, args []string) (string, error) {
	if s.queries == nil {
		return "", fmt.Errorf("trade history unavailable: no query repository configured")
	}
	since, err := lookbackSinceMs(args)
	if err != nil {
		return "", err
	}
	trades, err := s.queries.RecentTrades(ctx, since)
	if err != nil {
		return "", err
	}
	if len(trades) == 0 {
		return "no trades recorded", nil
	}
	var b strings.Builder
	for i, t := range trades {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s %s edge=%.2fbps notional=%.2f status=%s", t.Direction, t.Role, t.BestEdgeBps, t.NotionalUSD, t.Status)
	}
	return b.String(), nil
}

func (s *Server) handlePnL(ctx context.Context, args []string) (string, error) {
	if s.queries == nil {
		return "", fmt.Errorf("pnl unavailable: no query repository configured")
	}
	since, err := lookbackSinceMs(args)
	if err != nil {
		return "", err
	}
	total, err := s.queries.RealizedPnLSince(ctx, since)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("realized_pnl_usd=%.2f", total), nil
}

// lookbackSinceMs parses an optional "[hours]" argument shared by the
// trades and pnl commands, defaulting to a 24-hour window.
func lookbackSinceMs(args []string) (int64, error) {
	hours := 24.0
	if len(args) == 1 {
		h, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid hours: %w", err)
		}
		hours = h
	}
	return time.Now().Add(-time.Duration(hours * float64(time.Hour))).UnixMilli(), nil
}

func (s *Server) handleStats(ctx context.Context, args []string) (string, error) {
	st := s.engine.Stats()
	return fmt.Sprintf(
		"tif=%s dispatches_last_min=%d open_positions=%d kill=%t",
		st.TIFPolicy, st.DispatchLastMin, st.OpenPositions, st.KillSwitch,
	), nil
}

func (s *Server) handleRebalance(ctx context.Context, args []string) (string, error) {
	if s.rebalancer == nil {
		return "", fmt.Errorf("rebalancing unavailable: no rebalancer configured")
	}
	if err := s.rebalancer.Trigger(ctx); err != nil {
		return "", err
	}
	return "rebalance triggered", nil
}

func (s *Server) handleConfig(ctx context.Context, args []string) (string, error) {
	if s.cfgStore == nil {
		return "", fmt.Errorf("runtime config unavailable: no config store configured")
	}
	all, err := s.cfgStore.GetAll(ctx)
	if err != nil {
		return "", err
	}
	if len(all) == 0 {
		return "no runtime overrides set", nil
	}
	var b strings.Builder
	first := true
	for k, v := range all {
		if !first {
			b.WriteString(" ")
		}
		first = false
		fmt.Fprintf(&b, "%s=%s", k, v)
	}
	return b.String(), nil
}

func (s *Server) handleCloseAll(ctx context.Context, args []string) (string, error) {
	s.engine.CloseAll(ctx)
	return "close-all requested", nil
}
