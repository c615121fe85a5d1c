// Command snipe runs the full launch pipeline: derive the fleet, plan the
// allocation, fund and approve every account, wait for the pool to go live,
// fire all swaps at once and report what was acquired.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"fleetsnipe/internal/alloc"
	"fleetsnipe/internal/chain"
	"fleetsnipe/internal/config"
	"fleetsnipe/internal/dotenv"
	"fleetsnipe/internal/erc20"
	"fleetsnipe/internal/ethunit"
	"fleetsnipe/internal/fleet"
	"fleetsnipe/internal/fund"
	"fleetsnipe/internal/jsonl"
	"fleetsnipe/internal/metrics"
	"fleetsnipe/internal/poolwatch"
	"fleetsnipe/internal/snipe"
)

type cliArgs struct {
	deadline time.Duration
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := dotenv.Load(); err != nil {
		log.Printf("[warn] %v", err)
	}

	cfg, args, err := parseArgs()
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	funder, err := loadFunder()
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, args, funder); err != nil {
		log.Fatalf("[fatal] %v", err)
	}
}

func parseArgs() (config.Config, cliArgs, error) {
	var (
		configPath string
		fleetSize  int
		total      string
		seed       uint64
		minOut     string
		dryRun     bool
		deadline   time.Duration
		eventsFile string
	)
	flag.StringVar(&configPath, "config", "", "Path to YAML config (default config.yaml if present).")
	flag.IntVar(&fleetSize, "fleet-size", 0, "Number of derived accounts (overrides config).")
	flag.StringVar(&total, "total", "", "Total capital to deploy, whole tokens (overrides config).")
	flag.Uint64Var(&seed, "seed", 0, "Allocation jitter seed (0 = keep config/default).")
	flag.StringVar(&minOut, "min-out", "", "Minimum output per swap, trade-token minor units (overrides config).")
	flag.BoolVar(&dryRun, "dry-run", false, "Derive and plan, but send nothing.")
	flag.DurationVar(&deadline, "deadline", 0, "Give up if the pool is not ready within this duration (0 = wait forever).")
	flag.StringVar(&eventsFile, "events", "", "JSONL event log path (overrides config).")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, cliArgs{}, err
	}
	if fleetSize > 0 {
		cfg.Fleet.Size = fleetSize
	}
	if strings.TrimSpace(total) != "" {
		cfg.Fleet.TotalCapital = total
	}
	if seed != 0 {
		cfg.Fleet.AllocSeed = seed
	}
	if strings.TrimSpace(minOut) != "" {
		cfg.Exec.MinOut = minOut
	}
	if dryRun {
		cfg.Exec.DryRun = true
	}
	if strings.TrimSpace(eventsFile) != "" {
		cfg.Out.EventsFile = eventsFile
	}

	if err := cfg.Validate(true); err != nil {
		return cfg, cliArgs{}, err
	}
	return cfg, cliArgs{deadline: deadline}, nil
}

func loadFunder() (fleet.Funder, error) {
	pkHex := strings.TrimSpace(firstNonEmpty(os.Getenv("FUNDER_PRIVATE_KEY"), os.Getenv("PRIVATE_KEY")))
	if pkHex == "" {
		return fleet.Funder{}, fmt.Errorf("funding key required: set FUNDER_PRIVATE_KEY or PRIVATE_KEY")
	}
	return fleet.FunderFromHex(pkHex)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseMinOut(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("min_out %q is not a non-negative integer", s)
	}
	return v, nil
}

func run(ctx context.Context, cfg config.Config, args cliArgs, funder fleet.Funder) error {
	runID := uuid.NewString()
	addrs, err := cfg.Resolve()
	if err != nil {
		return err
	}
	minOut, err := parseMinOut(cfg.Exec.MinOut)
	if err != nil {
		return err
	}
	gasReserve, err := ethunit.ParseUnits(cfg.Fleet.GasReserve, ethunit.NativeDecimals)
	if err != nil {
		return fmt.Errorf("fleet.gas_reserve: %w", err)
	}
	ownBuffer, err := ethunit.ParseUnits(cfg.Fleet.OwnGasBuffer, ethunit.NativeDecimals)
	if err != nil {
		return fmt.Errorf("fleet.own_gas_buffer: %w", err)
	}

	events := jsonl.New(cfg.Out.EventsFile)
	defer events.Close()

	if cfg.Out.MetricsAddr != "" {
		srv := metrics.Serve(cfg.Out.MetricsAddr)
		defer srv.Close()
		log.Printf("[metrics] listening on %s", cfg.Out.MetricsAddr)
	}

	accounts, err := fleet.Derive(funder.Key, cfg.Fleet.Size)
	if err != nil {
		return err
	}
	log.Printf("[fleet] run %s: funder %s, %d accounts", runID, funder.Address.Hex(), len(accounts))

	client, err := chain.Dial(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return err
	}
	defer client.Close()
	log.Printf("[chain] connected, chain id %s", client.ChainID())

	capDecimals, err := erc20.Decimals(ctx, client, addrs.Capital)
	if err != nil {
		return fmt.Errorf("capital token decimals: %w", err)
	}
	tradeDecimals := 18
	if d, err := erc20.Decimals(ctx, client, addrs.Trade); err == nil {
		tradeDecimals = d
	} else {
		log.Printf("[warn] trade token decimals unavailable, assuming 18: %v", err)
	}

	total, err := ethunit.ParseUnits(cfg.Fleet.TotalCapital, capDecimals)
	if err != nil {
		return fmt.Errorf("fleet.total_capital: %w", err)
	}

	emit(events, runStartEvent{
		baseEvent:    eventBase("run_start", runID),
		ChainID:      client.ChainID().String(),
		Funder:       funder.Address.Hex(),
		FleetSize:    len(accounts),
		Seed:         cfg.Fleet.AllocSeed,
		TotalCapital: total.String(),
		DryRun:       cfg.Exec.DryRun,
	})

	plan, err := alloc.New(total, len(accounts), cfg.Fleet.AllocSeed)
	if err != nil {
		return err
	}
	amounts := make([]string, len(plan.Amounts))
	for i, a := range plan.Amounts {
		amounts[i] = a.String()
		log.Printf("[plan] account %d %s <- %s (%s whole)", i, accounts[i].Address.Hex(), a, ethunit.FormatUnits(a, capDecimals))
	}
	emit(events, planEvent{baseEvent: eventBase("plan", runID), Seed: plan.Seed, Total: plan.Total.String(), Amounts: amounts})

	// A dry run walks the same pipeline with every send replaced by its
	// read-only counterpart: preflight instead of funding, a synthesized
	// outcome per account instead of a swap.
	dry := cfg.Exec.DryRun
	if dry {
		log.Printf("[dry-run] rehearsal, no transactions will be sent")
	}

	// Funding: one fee quote for the whole sequential batch.
	metrics.Phase.Set(1)
	fees, err := client.SuggestFees(ctx)
	if err != nil {
		return fmt.Errorf("fee quote: %w", err)
	}
	bank := &fund.ClientBank{
		Client:         client,
		Capital:        addrs.Capital,
		Router:         addrs.Router,
		Fees:           fees,
		ConfirmTimeout: cfg.ConfirmTimeout(),
	}
	fundOpts := fund.Options{GasReserve: gasReserve, OwnGasBuffer: ownBuffer}
	if dry {
		if err := fund.Preflight(ctx, bank, funder.Address, plan, len(accounts), fundOpts); err != nil {
			return err
		}
		log.Printf("[dry-run] funder covers the plan, skipping transfers and approvals")
	} else {
		nonces, err := client.NonceCounterFor(ctx, funder.Address)
		if err != nil {
			return fmt.Errorf("funder nonce: %w", err)
		}
		fsum, err := fund.EnsureFunded(ctx, bank, funder, nonces, accounts, plan, fundOpts)
		if err != nil {
			return err
		}
		asum := fund.EnsureApprovals(ctx, bank, accounts, plan, fundOpts)
		log.Printf("[fund] %d gas top-ups, %d capital top-ups, %d skips; %d approvals (%d already set, %d failed)",
			fsum.GasTopUps, fsum.CapitalTopUps, fsum.Skips, asum.Approvals, asum.ApprovalSkips, asum.ApprovalFails)
		emit(events, fundingEvent{
			baseEvent:     eventBase("funding", runID),
			GasTopUps:     fsum.GasTopUps,
			CapitalTopUps: fsum.CapitalTopUps,
			Skips:         fsum.Skips,
			Approvals:     asum.Approvals,
			ApprovalSkips: asum.ApprovalSkips,
			ApprovalFails: asum.ApprovalFails,
		})
	}

	trader := &snipe.ClientTrader{
		Client:         client,
		Capital:        addrs.Capital,
		Trade:          addrs.Trade,
		Router:         addrs.Router,
		FeeTier:        cfg.Contracts.FeeTier,
		SwapGasLimit:   cfg.Exec.SwapGasLimit,
		ConfirmTimeout: cfg.ConfirmTimeout(),
	}
	cached, err := snipe.Precache(ctx, trader, accounts, capDecimals)
	if err != nil {
		return fmt.Errorf("precache: %w", err)
	}

	metrics.Phase.Set(2)
	watchCtx := ctx
	if args.deadline > 0 {
		var cancel context.CancelFunc
		watchCtx, cancel = context.WithTimeout(ctx, args.deadline)
		defer cancel()
	}
	probe := &poolwatch.ClientProbe{
		Client:   client,
		Factory:  addrs.Factory,
		TokenA:   addrs.Capital,
		TokenB:   addrs.Trade,
		Fee:      cfg.Contracts.FeeTier,
		Lookback: cfg.Watch.LookbackBlocks,
	}
	report, err := poolwatch.Watch(watchCtx, probe, poolwatch.Options{Interval: cfg.PollInterval()})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && args.deadline > 0 {
			return fmt.Errorf("pool not ready within %s", args.deadline)
		}
		return fmt.Errorf("watch aborted: %w", err)
	}
	emit(events, watchReadyEvent{
		baseEvent: eventBase("watch_ready", runID),
		Pool:      report.Pool.Hex(),
		Witness:   string(report.Witness),
		Polls:     report.Polls,
		ElapsedMS: report.Elapsed.Milliseconds(),
	})

	metrics.Phase.Set(3)
	var outcomes []snipe.Outcome
	if dry {
		outcomes = make([]snipe.Outcome, len(accounts))
		for i, acct := range accounts {
			outcomes[i] = snipe.Outcome{Index: acct.Index, AmountIn: cached[i]}
		}
		log.Printf("[dry-run] pool ready, would fire %d accounts", len(accounts))
	} else {
		outcomes, err = snipe.FireAll(ctx, trader, accounts, cached, snipe.Options{
			FeeBps: cfg.Exec.FeeMultiplierBps,
			MinOut: minOut,
		})
		if err != nil {
			return fmt.Errorf("fire: %w", err)
		}
	}

	submitted, confirmed := 0, 0
	for i, out := range outcomes {
		ev := swapEvent{
			baseEvent: eventBase("swap", runID),
			Account:   out.Index,
			Address:   accounts[i].Address.Hex(),
			AmountIn:  out.AmountIn.String(),
			Submitted: out.Submitted,
			Confirmed: out.Confirmed,
		}
		if out.Submitted {
			submitted++
			ev.TxHash = out.TxHash.Hex()
		}
		if out.Confirmed {
			confirmed++
		}
		if out.Err != nil {
			ev.Error = out.Err.Error()
		}
		emit(events, ev)
	}

	holdings := snipe.Holdings{Total: new(big.Int)}
	if !dry {
		holdings = snipe.Aggregate(ctx, trader, accounts)
	}
	metrics.Phase.Set(4)
	if dry {
		log.Printf("[dry-run] complete: %d accounts rehearsed, nothing sent", len(accounts))
	} else {
		log.Printf("[snipe] %d/%d confirmed (%d submitted), acquired %s trade tokens",
			confirmed, len(accounts), submitted, ethunit.FormatUnits(holdings.Total, tradeDecimals))
	}
	emit(events, runDoneEvent{
		baseEvent:     eventBase("run_done", runID),
		Submitted:     submitted,
		Confirmed:     confirmed,
		TotalAcquired: holdings.Total.String(),
		ReadFails:     holdings.ReadFails,
	})
	return nil
}
