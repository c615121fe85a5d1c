// Command balances prints every fleet account's native, capital and trade
// holdings, plus the funder's. Read-only.
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
	"fleetsnipe/internal/erc20"
	"fleetsnipe/internal/ethunit"
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

	ch := &ops.ClientChain{
		Client:  client,
		Factory: addrs.Factory,
		Capital: addrs.Capital,
		Trade:   addrs.Trade,
		Router:  addrs.Router,
		FeeTier: cfg.Contracts.FeeTier,
	}
	env := ops.Env{
		Capital:         addrs.Capital,
		Trade:           addrs.Trade,
		WrappedNative:   addrs.WrappedNative,
		Router:          addrs.Router,
		FeeTier:         cfg.Contracts.FeeTier,
		CapitalDecimals: capDecimals,
		TradeDecimals:   tradeDecimals,
	}

	report := ops.Balances(ctx, ch, env, funder.Address, accounts)

	printRow("funder", report.Funder, capDecimals, tradeDecimals)
	for i, row := range report.Accounts {
		printRow(fmt.Sprintf("acct %2d", i), row, capDecimals, tradeDecimals)
	}

	native, capital, trade := report.Totals()
	log.Printf("[total]   native %s  capital %s  trade %s",
		ethunit.FormatWei(native), ethunit.FormatUnits(capital, capDecimals), ethunit.FormatUnits(trade, tradeDecimals))
	return nil
}

func printRow(label string, row ops.BalanceRow, capDecimals, tradeDecimals int) {
	if row.Err != nil {
		log.Printf("[%s] %s read failed: %v", label, row.Address.Hex(), row.Err)
		return
	}
	log.Printf("[%s] %s  native %s  capital %s  trade %s",
		label, row.Address.Hex(), ethunit.FormatWei(row.Native),
		ethunit.FormatUnits(row.Capital, capDecimals), ethunit.FormatUnits(row.Trade, tradeDecimals))
}
