// Command sweep moves every fleet account's trade and capital holdings back
// to the funder. Native gas stays behind so the accounts remain usable.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"fleetsnipe/internal/chain"
	"fleetsnipe/internal/config"
	"fleetsnipe/internal/dotenv"
	"fleetsnipe/internal/fleet"
	"fleetsnipe/internal/ops"
)

func main() {
	log.SetFlags(0)

	if err := dotenv.Load(); err != nil {
		log.Printf("[warn] %v", err)
	}

	cfg, err := parseArgs()
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	funder, err := loadFunder()
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, funder); err != nil {
		log.Fatalf("[fatal] %v", err)
	}
}

func parseArgs() (config.Config, error) {
	var (
		configPath string
		fleetSize  int
	)
	flag.StringVar(&configPath, "config", "", "Path to YAML config (default config.yaml if present).")
	flag.IntVar(&fleetSize, "fleet-size", 0, "Number of derived accounts (overrides config).")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if fleetSize > 0 {
		cfg.Fleet.Size = fleetSize
	}
	return cfg, cfg.Validate(true)
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

func run(ctx context.Context, cfg config.Config, funder fleet.Funder) error {
	addrs, err := cfg.Resolve()
	if err != nil {
		return err
	}

	accounts, err := fleet.Derive(funder.Key, cfg.Fleet.Size)
	if err != nil {
		return err
	}

	client, err := chain.Dial(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return err
	}
	defer client.Close()

	ch := &ops.ClientChain{
		Client:         client,
		Factory:        addrs.Factory,
		Capital:        addrs.Capital,
		Trade:          addrs.Trade,
		Router:         addrs.Router,
		FeeTier:        cfg.Contracts.FeeTier,
		SwapGasLimit:   cfg.Exec.SwapGasLimit,
		ConfirmTimeout: cfg.ConfirmTimeout(),
	}
	env := ops.Env{
		Capital: addrs.Capital,
		Trade:   addrs.Trade,
	}

	log.Printf("[sweep] consolidating %d accounts into funder %s", len(accounts), funder.Address.Hex())
	sum := ops.Sweep(ctx, ch, env, funder.Address, accounts)
	log.Printf("[sweep] done: %d transfers (%d trade, %d capital), %d empty accounts skipped, %d failures",
		sum.Transfers, sum.TradeTransfers, sum.CapitalTransfers, sum.Skips, sum.Failures)
	if sum.Failures > 0 {
		log.Printf("[warn] %d accounts had failures, re-run sweep to retry them", sum.Failures)
	}
	return nil
}
