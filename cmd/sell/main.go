// Command sell converts a capital-denominated amount into trade-token terms
// at the pool's spot price and sells it back from one fleet account.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/big"
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

	cfg, amount, minOut, err := parseArgs()
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	funder, err := loadFunder()
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, funder, amount, minOut); err != nil {
		log.Fatalf("[fatal] %v", err)
	}
}

func parseArgs() (config.Config, string, string, error) {
	var (
		configPath string
		fleetSize  int
		amount     string
		minOut     string
	)
	flag.StringVar(&configPath, "config", "", "Path to YAML config (default config.yaml if present).")
	flag.IntVar(&fleetSize, "fleet-size", 0, "Number of derived accounts (overrides config).")
	flag.StringVar(&amount, "amount", "", "Capital to realize, whole capital tokens (required).")
	flag.StringVar(&minOut, "min-out", "", "Minimum capital received, capital-token minor units (0 = accept any).")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, "", "", err
	}
	if fleetSize > 0 {
		cfg.Fleet.Size = fleetSize
	}
	if strings.TrimSpace(amount) == "" {
		return cfg, "", "", fmt.Errorf("--amount is required (whole capital tokens, e.g. 25 or 12.5)")
	}
	return cfg, amount, minOut, cfg.Validate(true)
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
		return nil, fmt.Errorf("min-out %q is not a non-negative integer", s)
	}
	return v, nil
}

func run(ctx context.Context, cfg config.Config, funder fleet.Funder, amountStr, minOutStr string) error {
	addrs, err := cfg.Resolve()
	if err != nil {
		return err
	}
	minOut, err := parseMinOut(minOutStr)
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

	amount, err := ethunit.ParseUnits(amountStr, capDecimals)
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}

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
		Capital:         addrs.Capital,
		Trade:           addrs.Trade,
		WrappedNative:   addrs.WrappedNative,
		Router:          addrs.Router,
		FeeTier:         cfg.Contracts.FeeTier,
		CapitalDecimals: capDecimals,
		TradeDecimals:   tradeDecimals,
	}

	log.Printf("[sell] realizing %s capital (%s minor units) from a fleet of %d", amountStr, amount, len(accounts))
	res, err := ops.Sell(ctx, ch, env, accounts, amount, minOut)
	if err != nil {
		return err
	}
	log.Printf("[sell] done: account %d %s sold %s trade minor units (tx %s)",
		res.AccountIndex, res.Account.Hex(), res.TradeIn, res.TxHash.Hex())
	return nil
}
