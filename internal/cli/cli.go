// Package cli implements the interactive operator shell. All trading-mode
// transitions (pause, resume, dry-run, live) go through here; the shell is
// the only way to enter live mode.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/crossclob/arbot/internal/config"
	"github.com/crossclob/arbot/internal/domain"
)

// modeController flips the process between dry-run and live.
type modeController interface {
	DryRun() bool
	SetDryRun(dryRun bool)
}

// breakerControl is the slice of the circuit breaker the shell consumes.
type breakerControl interface {
	IsPaused() bool
	State() domain.CircuitBreakerState
	Pause(ctx context.Context, reason string) error
	Resume(ctx context.Context) error
}

// stateReader exposes the durable runtime state for display.
type stateReader interface {
	State() domain.BotState
	Daily() domain.DailyState
	Positions() []domain.Position
}

// exposureReader is the slice of the risk manager the shell consumes.
type exposureReader interface {
	TotalExposure() float64
}

// mappingAdmin manages the event-mapping set.
type mappingAdmin interface {
	Get(id string) (domain.EventMapping, bool)
	ActiveMappings() []domain.EventMapping
	AddManual(ctx context.Context, polyContract, kalshiContract, description string) (domain.EventMapping, error)
	Deactivate(ctx context.Context, id string) error
}

// scanner triggers one on-demand detection cycle.
type scanner interface {
	ScanOnce(ctx context.Context) bool
}

// bookCacheReader reads the push-feed mirror: stream liveness and the latest
// cached book per contract.
type bookCacheReader interface {
	GetBook(ctx context.Context, venue domain.Venue, contract string) (domain.OrderBook, error)
	LastHeartbeat(ctx context.Context, venue domain.Venue) (time.Time, error)
}

// Deps bundles everything the shell talks to.
type Deps struct {
	Cfg      config.Config
	Mode     modeController
	Breaker  breakerControl
	State    stateReader
	Risk     exposureReader
	Mappings mappingAdmin
	Scanner  scanner
	Adapters map[domain.Venue]domain.VenueAdapter
	Opps     domain.OpportunityStore
	Execs    domain.ExecutionStore
	Cache    bookCacheReader

	// Shutdown stops the whole process; wired to the root cancel.
	Shutdown func()
}

// Shell reads operator commands line by line and dispatches them.
type Shell struct {
	deps   Deps
	in     io.Reader
	out    io.Writer
	logger *slog.Logger
	now    func() time.Time
}

// New builds a Shell reading from in and writing to out.
func New(deps Deps, in io.Reader, out io.Writer, logger *slog.Logger) *Shell {
	return &Shell{
		deps:   deps,
		in:     in,
		out:    out,
		logger: logger.With(slog.String("component", "cli")),
		now:    time.Now,
	}
}

// Run blocks reading commands until EOF, "quit", or ctx cancellation.
func (s *Shell) Run(ctx context.Context) error {
	fmt.Fprintln(s.out, "arbot operator shell, type 'help' for commands")
	s.prompt()

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(s.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				s.logger.Info("operator input closed")
				return nil
			}
			if quit := s.dispatch(ctx, line); quit {
				return nil
			}
			s.prompt()
		}
	}
}

func (s *Shell) prompt() {
	fmt.Fprint(s.out, "arbot> ")
}

// dispatch runs one command line. It returns true when the shell should exit.
func (s *Shell) dispatch(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help":
		s.printHelp()
	case "status":
		s.printStatus()
	case "health":
		s.printHealth(ctx)
	case "positions":
		s.printPositions()
	case "balance":
		s.printBalances(ctx)
	case "pause":
		s.cmdPause(ctx, args)
	case "resume":
		s.cmdResume(ctx)
	case "dry-run":
		s.deps.Mode.SetDryRun(true)
		s.logger.Info("mode changed", slog.String("mode", "dry_run"))
		fmt.Fprintln(s.out, "mode: dry_run")
	case "live":
		s.cmdLive(args)
	case "scan":
		s.cmdScan(ctx)
	case "mappings":
		s.cmdMappings(ctx, args)
	case "book":
		s.printBook(ctx, args)
	case "opportunities":
		s.printOpportunities(ctx, args)
	case "executions":
		s.printExecutions(ctx, args)
	case "config":
		s.printConfig()
	case "quit", "exit":
		fmt.Fprintln(s.out, "shutting down")
		if s.deps.Shutdown != nil {
			s.deps.Shutdown()
		}
		return true
	default:
		fmt.Fprintf(s.out, "unknown command %q, type 'help'\n", cmd)
	}
	return false
}

func (s *Shell) printHelp() {
	fmt.Fprint(s.out, `commands:
  status              mode, breaker, daily counters, exposure
  health              venue stream heartbeats and breaker state
  positions           open positions
  balance             venue balances
  pause [reason]      pause trading
  resume              resume trading and reset failure counters
  dry-run             switch to dry-run mode
  live --confirm      switch to live mode (real orders)
  scan                run one detection cycle now
  mappings            list active mappings
  mappings add <poly> <kalshi> <description...>
  mappings rm <id>    deactivate a mapping
  book <mapping-id>   cached top of book on both venues
  opportunities [n]   recent detected opportunities
  executions [n]      recent execution attempts
  config              effective configuration (secrets redacted)
  quit                shut the process down
`)
}

func (s *Shell) printStatus() {
	mode := config.ModeDryRun
	if !s.deps.Mode.DryRun() {
		mode = config.ModeLive
	}
	st := s.deps.State.State()
	daily := st.Daily

	fmt.Fprintf(s.out, "mode:            %s\n", mode)
	cb := s.deps.Breaker.State()
	if cb.Paused {
		fmt.Fprintf(s.out, "trading:         PAUSED (%s)\n", cb.Reason)
	} else {
		fmt.Fprintln(s.out, "trading:         active")
	}
	fmt.Fprintf(s.out, "trading date:    %s\n", daily.TradingDate)
	fmt.Fprintf(s.out, "daily pnl:       $%.2f\n", daily.PnL)
	fmt.Fprintf(s.out, "daily trades:    %d\n", daily.TradeCount)
	fmt.Fprintf(s.out, "daily volume:    $%.2f\n", daily.Volume)
	fmt.Fprintf(s.out, "total exposure:  $%.2f\n", s.deps.Risk.TotalExposure())
	fmt.Fprintf(s.out, "open positions:  %d\n", len(st.Positions))
	if st.HypotheticalPnL != 0 {
		fmt.Fprintf(s.out, "dry-run pnl:     $%.2f\n", st.HypotheticalPnL)
	}
	if st.LastSuccessfulTrade != nil {
		fmt.Fprintf(s.out, "last trade:      %s\n", st.LastSuccessfulTrade.Format(time.RFC3339))
	}
}

func (s *Shell) printHealth(ctx context.Context) {
	now := s.now().UTC()
	for _, venue := range []domain.Venue{domain.VenuePolymarket, domain.VenueKalshi} {
		at, err := s.deps.Cache.LastHeartbeat(ctx, venue)
		switch {
		case err != nil:
			fmt.Fprintf(s.out, "%-12s stream: no heartbeat recorded\n", venue)
		default:
			fmt.Fprintf(s.out, "%-12s stream: last message %s ago\n", venue, now.Sub(at).Round(time.Second))
		}
	}

	cb := s.deps.Breaker.State()
	fmt.Fprintf(s.out, "breaker:     paused=%v consecutive_failures=%d asymmetric=%d\n",
		cb.Paused, cb.ConsecutiveFailures, cb.AsymmetricCount)
	if cb.Paused && cb.PausedAt != nil {
		fmt.Fprintf(s.out, "paused at:   %s (%s)\n", cb.PausedAt.Format(time.RFC3339), cb.Reason)
	}
}

func (s *Shell) printPositions() {
	positions := s.deps.State.Positions()
	if len(positions) == 0 {
		fmt.Fprintln(s.out, "no open positions")
		return
	}
	sort.Slice(positions, func(i, j int) bool {
		if positions[i].Venue != positions[j].Venue {
			return positions[i].Venue < positions[j].Venue
		}
		return positions[i].Contract < positions[j].Contract
	})

	table := tablewriter.NewWriter(s.out)
	table.Header("Venue", "Contract", "Side", "Qty", "AvgPrice", "Cost", "Opened")
	for _, p := range positions {
		table.Append(
			string(p.Venue),
			shorten(p.Contract, 24),
			string(p.Side),
			fmt.Sprintf("%.0f", p.Quantity),
			fmt.Sprintf("%.3f", p.AvgPrice),
			fmt.Sprintf("$%.2f", p.Quantity*p.AvgPrice),
			p.OpenedAt.Format("01-02 15:04"),
		)
	}
	table.Render()
}

func (s *Shell) printBalances(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for _, venue := range []domain.Venue{domain.VenuePolymarket, domain.VenueKalshi} {
		adapter, ok := s.deps.Adapters[venue]
		if !ok {
			continue
		}
		bal, err := adapter.GetBalance(fetchCtx)
		if err != nil {
			fmt.Fprintf(s.out, "%-12s balance: error: %v\n", venue, err)
			continue
		}
		fmt.Fprintf(s.out, "%-12s balance: $%.2f available / $%.2f total\n", venue, bal.Available, bal.Total)
	}
}

func (s *Shell) cmdPause(ctx context.Context, args []string) {
	reason := "manual pause"
	if len(args) > 0 {
		reason = strings.Join(args, " ")
	}
	if err := s.deps.Breaker.Pause(ctx, reason); err != nil {
		fmt.Fprintf(s.out, "pause failed: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "trading paused: %s\n", reason)
}

func (s *Shell) cmdResume(ctx context.Context) {
	if err := s.deps.Breaker.Resume(ctx); err != nil {
		fmt.Fprintf(s.out, "resume failed: %v\n", err)
		return
	}
	fmt.Fprintln(s.out, "trading resumed")
}

// cmdLive switches to live mode. The --confirm flag is mandatory so a typo
// can never start placing real orders.
func (s *Shell) cmdLive(args []string) {
	if len(args) != 1 || args[0] != "--confirm" {
		fmt.Fprintln(s.out, "live mode places real orders; run 'live --confirm' to proceed")
		return
	}
	s.deps.Mode.SetDryRun(false)
	s.logger.Warn("mode changed", slog.String("mode", "live"))
	fmt.Fprintln(s.out, "mode: live (real orders enabled)")
}

func (s *Shell) cmdScan(ctx context.Context) {
	start := s.now()
	rateLimited := s.deps.Scanner.ScanOnce(ctx)
	fmt.Fprintf(s.out, "scan complete in %s", s.now().Sub(start).Round(time.Millisecond))
	if rateLimited {
		fmt.Fprint(s.out, " (rate limited)")
	}
	fmt.Fprintln(s.out)
}

func (s *Shell) cmdMappings(ctx context.Context, args []string) {
	if len(args) == 0 {
		s.printMappings()
		return
	}
	switch args[0] {
	case "add":
		if len(args) < 4 {
			fmt.Fprintln(s.out, "usage: mappings add <poly_contract> <kalshi_contract> <description...>")
			return
		}
		m, err := s.deps.Mappings.AddManual(ctx, args[1], args[2], strings.Join(args[3:], " "))
		if err != nil {
			fmt.Fprintf(s.out, "add failed: %v\n", err)
			return
		}
		fmt.Fprintf(s.out, "mapping added: %s\n", m.ID)
	case "rm":
		if len(args) != 2 {
			fmt.Fprintln(s.out, "usage: mappings rm <id>")
			return
		}
		if err := s.deps.Mappings.Deactivate(ctx, args[1]); err != nil {
			fmt.Fprintf(s.out, "deactivate failed: %v\n", err)
			return
		}
		fmt.Fprintf(s.out, "mapping deactivated: %s\n", args[1])
	default:
		fmt.Fprintf(s.out, "unknown mappings subcommand %q\n", args[0])
	}
}

func (s *Shell) printMappings() {
	mappings := s.deps.Mappings.ActiveMappings()
	if len(mappings) == 0 {
		fmt.Fprintln(s.out, "no active mappings")
		return
	}

	table := tablewriter.NewWriter(s.out)
	table.Header("ID", "Description", "Poly", "Kalshi", "Conf", "Method", "Resolves")
	for _, m := range mappings {
		table.Append(
			shorten(m.ID, 8),
			shorten(m.Description, 32),
			shorten(m.PolyContract, 16),
			shorten(m.KalshiContract, 16),
			fmt.Sprintf("%.2f", m.Confidence),
			string(m.Method),
			m.ResolutionTime.Format("2006-01-02"),
		)
	}
	table.Render()
}

// printBook renders the cached top of book for one mapping on both venues.
// These are push-feed mirrors; the engine always refetches before firing, so
// a stale or missing row here only means the stream has been quiet.
func (s *Shell) printBook(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.out, "usage: book <mapping-id>")
		return
	}
	m, ok := s.deps.Mappings.Get(args[0])
	if !ok {
		fmt.Fprintf(s.out, "no mapping %q\n", args[0])
		return
	}
	fmt.Fprintln(s.out, m.Description)

	now := s.now().UTC()
	table := tablewriter.NewWriter(s.out)
	table.Header("Venue", "Contract", "Bid", "BidSize", "Ask", "AskSize", "Age")
	for _, venue := range []domain.Venue{domain.VenuePolymarket, domain.VenueKalshi} {
		contract := m.ContractOn(venue)
		book, err := s.deps.Cache.GetBook(ctx, venue, contract)
		if err != nil {
			table.Append(string(venue), shorten(contract, 20), "-", "-", "-", "-", "no cached book")
			continue
		}
		bid, bidSize, ask, askSize := "-", "-", "-", "-"
		if lvl, ok := book.BestBid(); ok {
			bid = fmt.Sprintf("%.3f", lvl.Price)
			bidSize = fmt.Sprintf("%.0f", lvl.Size)
		}
		if lvl, ok := book.BestAsk(); ok {
			ask = fmt.Sprintf("%.3f", lvl.Price)
			askSize = fmt.Sprintf("%.0f", lvl.Size)
		}
		table.Append(string(venue), shorten(contract, 20), bid, bidSize, ask, askSize,
			now.Sub(book.Timestamp).Round(time.Second).String())
	}
	table.Render()
}

func (s *Shell) printOpportunities(ctx context.Context, args []string) {
	opps, err := s.deps.Opps.ListRecent(ctx, parseLimit(args, 20))
	if err != nil {
		fmt.Fprintf(s.out, "list opportunities failed: %v\n", err)
		return
	}
	if len(opps) == 0 {
		fmt.Fprintln(s.out, "no opportunities recorded")
		return
	}

	table := tablewriter.NewWriter(s.out)
	table.Header("When", "Mapping", "Buy", "Sell", "Spread", "Net/unit", "MaxQty", "Value")
	for _, o := range opps {
		table.Append(
			o.CreatedAt.Format("01-02 15:04:05"),
			shorten(o.MappingID, 8),
			fmt.Sprintf("%s@%.3f", o.BuyVenue, o.BuyPrice),
			fmt.Sprintf("%s@%.3f", o.SellVenue, o.SellPrice),
			fmt.Sprintf("%.3f", o.GrossSpread),
			fmt.Sprintf("%.3f", o.NetProfitPerUnit),
			fmt.Sprintf("%.0f", o.MaxQty),
			fmt.Sprintf("$%.2f", o.Value()),
		)
	}
	table.Render()
}

func (s *Shell) printExecutions(ctx context.Context, args []string) {
	records, err := s.deps.Execs.ListRecent(ctx, parseLimit(args, 20))
	if err != nil {
		fmt.Fprintf(s.out, "list executions failed: %v\n", err)
		return
	}
	if len(records) == 0 {
		fmt.Fprintln(s.out, "no executions recorded")
		return
	}

	table := tablewriter.NewWriter(s.out)
	table.Header("When", "Status", "DryRun", "Qty", "PnL", "Fees", "Ms", "Reason")
	for _, r := range records {
		table.Append(
			r.StartedAt.Format("01-02 15:04:05"),
			string(r.Status),
			fmt.Sprintf("%v", r.IsDryRun),
			fmt.Sprintf("%.0f", r.Quantity),
			fmt.Sprintf("$%.2f", r.RealizedPnL),
			fmt.Sprintf("$%.2f", r.TotalFeesUSD),
			strconv.FormatInt(r.DurationMs(), 10),
			shorten(r.FailureReason, 40),
		)
	}
	table.Render()
}

// printConfig shows the effective configuration with credentials redacted.
func (s *Shell) printConfig() {
	cfg := s.deps.Cfg
	fmt.Fprintf(s.out, "mode: %s  log_level: %s\n", cfg.Mode, cfg.LogLevel)
	fmt.Fprintf(s.out, "polymarket: host=%s chain=%d key=%s\n",
		cfg.Polymarket.ClobHost, cfg.Polymarket.ChainID, redactPresence(cfg.Polymarket.PrivateKey != "" || cfg.Polymarket.EncryptedKeyPath != ""))
	fmt.Fprintf(s.out, "kalshi: host=%s key=%s\n", cfg.Kalshi.BaseURL, redactPresence(cfg.Kalshi.ApiKey != ""))
	fmt.Fprintf(s.out, "arbitrage: min_profit=%.3f min_depth=%.0f scan_interval=%dms opp_ttl=%dms\n",
		cfg.Arbitrage.MinProfitThreshold, cfg.Arbitrage.MinLiquidityDepth,
		cfg.Arbitrage.ScanIntervalMs, cfg.Arbitrage.OpportunityTTLMs)
	fmt.Fprintf(s.out, "risk: total=$%.0f per_event=$%.0f imbalance=%.0f daily_loss=$%.0f qty=[%.0f,%.0f]\n",
		cfg.Risk.MaxTotalExposure, cfg.Risk.MaxExposurePerEvent, cfg.Risk.MaxPositionImbalance,
		cfg.Risk.DailyLossLimit, cfg.Risk.MinQtyPerTrade, cfg.Risk.MaxQtyPerTrade)
	fmt.Fprintf(s.out, "execution: slippage=%.2f placement=%dms e2e=%dms\n",
		cfg.Execution.MaxSlippage, cfg.Execution.OrderPlacementMaxMs, cfg.Execution.EndToEndMaxMs)
	fmt.Fprintf(s.out, "breaker: max_failures=%d max_asymmetric=%d\n",
		cfg.Breaker.MaxConsecutiveFailures, cfg.Breaker.MaxAsymmetricExecutions)
	fmt.Fprintf(s.out, "state: file=%s autosave=%ds manual_review=%v\n",
		cfg.State.FilePath, cfg.State.AutoSaveIntervalS, cfg.State.RequireManualReview)
	fmt.Fprintf(s.out, "archive: enabled=%v prefix=%s\n", cfg.Archive.Enabled, cfg.Archive.Prefix)
}

func redactPresence(present bool) string {
	if present {
		return "<set>"
	}
	return "<unset>"
}

func parseLimit(args []string, def int) int {
	if len(args) == 0 {
		return def
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return def
	}
	return n
}

func shorten(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
