// Command convert swaps each fleet account's idle native balance above the
// gas reserve into the capital token, routed through wrapped native.
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

	cfg, minOut, err := parseArgs()
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	funder, err := loadFunder()
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, funder, minOut); err != nil {
		log.Fatalf("[fatal] %v", err)
	}
}

func parseArgs() (config.Config, string, error) {
	var (
		configPath string
		fleetSize  int
		minOut     string
	)
	flag.StringVar(&configPath, "config", "", "Path to YAML config (default config.yaml if present).")
	flag.IntVar(&fleetSize, "fleet-size", 0, "Number of derived accounts (overrides config).")
	flag.StringVar(&minOut, "min-out", "", "Minimum capital received per conversion, capital-token minor units (0 = accept any).")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, "", err
	}
	if fleetSize > 0 {
		cfg.Fleet.Size = fleetSize
	}
	// Conversion only routes wrapped native into the capital token, so a
	// trade token does not have to be configured.
	return cfg, minOut, cfg.Validate(false)
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

func run(ctx context.Context, cfg config.Config, funder fleet.Funder, minOutStr string) error {
	addrs, err := cfg.Resolve()
	if err != nil {
		return err
	}
	minOut, err := parseMinOut(minOutStr)
	if err != nil {
		return err
	}
	gasReserve, err := ethunit.ParseUnits(cfg.Fleet.GasReserve, ethunit.NativeDecimals)
	if err != nil {
		return fmt.Errorf("fleet.gas_reserve: %w", err)
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

	// Headroom for the conversion tx itself so the reserve survives the swap.
	fees, err := client.SuggestFees(ctx)
	if err != nil {
		return fmt.Errorf("fee quote: %w", err)
	}
	feeHeadroom := new(big.Int).Mul(fees.FeeCap, new(big.Int).SetUint64(cfg.Exec.SwapGasLimit))

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
		GasReserve:      gasReserve,
	}

	log.Printf("[convert] sweeping idle gas above %s reserve (+%s fee headroom) across %d accounts",
		ethunit.FormatWei(gasReserve), ethunit.FormatWei(feeHeadroom), len(accounts))
	sum := ops.Convert(ctx, ch, env, accounts, feeHeadroom, minOut)
	log.Printf("[convert] done: %d conversions totalling %s native, %d accounts at or below reserve, %d failures",
		sum.Conversions, ethunit.FormatWei(sum.TotalIn), sum.Skips, sum.Failures)
	return nil
}
