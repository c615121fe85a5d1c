// Package config exposes the typed settings shared by every sniper command,
// loaded from YAML with environment overrides for the deployment-specific
// values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"fleetsnipe/internal/ethunit"
)

// DefaultPath is tried when no --config flag is given; it is fine for the
// file to be absent.
const DefaultPath = "config.yaml"

// Chain selects the JSON-RPC endpoint.
type Chain struct {
	RPCURL string `yaml:"rpc_url"`
}

// Tokens names the three tokens the orchestrator touches.
type Tokens struct {
	Capital       string `yaml:"capital"`
	Trade         string `yaml:"trade"`
	WrappedNative string `yaml:"wrapped_native"`
}

// Contracts locates the exchange contracts and the pool fee tier.
type Contracts struct {
	Factory string `yaml:"factory"`
	Router  string `yaml:"router"`
	FeeTier uint32 `yaml:"fee_tier"`
}

// Fleet sizes the account fleet and its funding targets. Amounts are decimal
// strings in whole tokens; minor-unit conversion happens after token
// decimals are read from the chain.
type Fleet struct {
	Size         int    `yaml:"size"`
	TotalCapital string `yaml:"total_capital"`
	GasReserve   string `yaml:"gas_reserve"`
	OwnGasBuffer string `yaml:"own_gas_buffer"`
	AllocSeed    uint64 `yaml:"alloc_seed"`
}

// Exec tunes transaction submission.
type Exec struct {
	FeeMultiplierBps int64  `yaml:"fee_multiplier_bps"`
	MinOut           string `yaml:"min_out"`
	SwapGasLimit     uint64 `yaml:"swap_gas_limit"`
	ConfirmTimeoutMS int    `yaml:"confirm_timeout_ms"`
	DryRun           bool   `yaml:"dry_run"`
}

// Watch tunes the readiness poll loop.
type Watch struct {
	PollIntervalMS int    `yaml:"poll_interval_ms"`
	LookbackBlocks uint64 `yaml:"lookback_blocks"`
}

// Out selects observability sinks. Both are optional.
type Out struct {
	EventsFile  string `yaml:"events_file"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Config collects every leaf for unmarshaling from YAML.
type Config struct {
	Chain     Chain     `yaml:"chain"`
	Tokens    Tokens    `yaml:"tokens"`
	Contracts Contracts `yaml:"contracts"`
	Fleet     Fleet     `yaml:"fleet"`
	Exec      Exec      `yaml:"exec"`
	Watch     Watch     `yaml:"watch"`
	Out       Out       `yaml:"out"`
}

// Defaults returns the Polygon-flavored baseline: USDC capital, WMATIC as
// the wrapped gas token, the canonical v3 factory and router02.
func Defaults() Config {
	return Config{
		Tokens: Tokens{
			Capital:       "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174",
			WrappedNative: "0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270",
		},
		Contracts: Contracts{
			Factory: "0x1F98431c8aD98523631AE4a59f267346ea31F984",
			Router:  "0x68b3465833fb72A70ecDF485E0e4C7bD8665Fc45",
			FeeTier: 10_000,
		},
		Fleet: Fleet{
			Size:         8,
			TotalCapital: "100",
			GasReserve:   "0.2",
			OwnGasBuffer: "0.5",
		},
		Exec: Exec{
			FeeMultiplierBps: 20_000,
			MinOut:           "0",
			SwapGasLimit:     400_000,
			ConfirmTimeoutMS: 90_000,
		},
		Watch: Watch{
			PollIntervalMS: 250,
			LookbackBlocks: 50,
		},
		Out: Out{
			EventsFile: "out/run.jsonl",
		},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path falls back to DefaultPath if that file exists.
func Load(path string) (Config, error) {
	cfg := Defaults()

	path = strings.TrimSpace(path)
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// Running on defaults plus env is fine.
	default:
		return Config{}, fmt.Errorf("open config: %w", err)
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Chain.RPCURL, "RPC_WS_URL", "RPC_URL")
	setString(&cfg.Tokens.Capital, "CAPITAL_TOKEN")
	setString(&cfg.Tokens.Trade, "TRADE_TOKEN")
	setString(&cfg.Tokens.WrappedNative, "WRAPPED_NATIVE")
	setString(&cfg.Contracts.Factory, "POOL_FACTORY")
	setString(&cfg.Contracts.Router, "SWAP_ROUTER")
	setUint32(&cfg.Contracts.FeeTier, "FEE_TIER")
	setInt(&cfg.Fleet.Size, "FLEET_SIZE")
	setString(&cfg.Fleet.TotalCapital, "TOTAL_CAPITAL")
	setString(&cfg.Fleet.GasReserve, "GAS_RESERVE")
	setString(&cfg.Fleet.OwnGasBuffer, "OWN_GAS_BUFFER")
	setUint64(&cfg.Fleet.AllocSeed, "ALLOC_SEED")
	setInt64(&cfg.Exec.FeeMultiplierBps, "FEE_MULTIPLIER_BPS")
	setString(&cfg.Exec.MinOut, "MIN_OUT")
	setBool(&cfg.Exec.DryRun, "DRY_RUN")
	setString(&cfg.Out.EventsFile, "EVENTS_FILE")
	setString(&cfg.Out.MetricsAddr, "METRICS_ADDR")
}

// Validate checks everything that does not need the network. The trade token
// may be empty for commands that do not touch the pool.
func (c Config) Validate(needTrade bool) error {
	if err := c.validateRPCURL(); err != nil {
		return err
	}
	if _, err := ethunit.ParseAddress(c.Tokens.Capital); err != nil {
		return fmt.Errorf("tokens.capital: %w", err)
	}
	if needTrade {
		if _, err := ethunit.ParseAddress(c.Tokens.Trade); err != nil {
			return fmt.Errorf("tokens.trade: %w", err)
		}
	}
	if _, err := ethunit.ParseAddress(c.Tokens.WrappedNative); err != nil {
		return fmt.Errorf("tokens.wrapped_native: %w", err)
	}
	if _, err := ethunit.ParseAddress(c.Contracts.Factory); err != nil {
		return fmt.Errorf("contracts.factory: %w", err)
	}
	if _, err := ethunit.ParseAddress(c.Contracts.Router); err != nil {
		return fmt.Errorf("contracts.router: %w", err)
	}
	if c.Contracts.FeeTier == 0 {
		return fmt.Errorf("contracts.fee_tier must be set")
	}
	if c.Fleet.Size < 1 {
		return fmt.Errorf("fleet.size must be at least 1, got %d", c.Fleet.Size)
	}
	if c.Exec.FeeMultiplierBps <= 0 {
		return fmt.Errorf("exec.fee_multiplier_bps must be positive")
	}
	if c.Exec.SwapGasLimit < 100_000 {
		return fmt.Errorf("exec.swap_gas_limit %d is below any plausible swap", c.Exec.SwapGasLimit)
	}
	if c.Watch.PollIntervalMS <= 0 {
		return fmt.Errorf("watch.poll_interval_ms must be positive")
	}
	if c.Watch.LookbackBlocks == 0 {
		return fmt.Errorf("watch.lookback_blocks must be positive")
	}
	return nil
}

// ConfirmTimeout is how long receipt waits may block.
func (c Config) ConfirmTimeout() time.Duration {
	return time.Duration(c.Exec.ConfirmTimeoutMS) * time.Millisecond
}

// PollInterval is the readiness watcher tick.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Watch.PollIntervalMS) * time.Millisecond
}

// Addresses is the parsed-address view of a validated Config. Trade stays
// zero when no trade token is configured.
type Addresses struct {
	Capital       common.Address
	Trade         common.Address
	WrappedNative common.Address
	Factory       common.Address
	Router        common.Address
}

// Resolve parses the configured hex addresses. Call after Validate.
func (c Config) Resolve() (Addresses, error) {
	var a Addresses
	var err error
	if a.Capital, err = ethunit.ParseAddress(c.Tokens.Capital); err != nil {
		return a, fmt.Errorf("tokens.capital: %w", err)
	}
	if strings.TrimSpace(c.Tokens.Trade) != "" {
		if a.Trade, err = ethunit.ParseAddress(c.Tokens.Trade); err != nil {
			return a, fmt.Errorf("tokens.trade: %w", err)
		}
	}
	if a.WrappedNative, err = ethunit.ParseAddress(c.Tokens.WrappedNative); err != nil {
		return a, fmt.Errorf("tokens.wrapped_native: %w", err)
	}
	if a.Factory, err = ethunit.ParseAddress(c.Contracts.Factory); err != nil {
		return a, fmt.Errorf("contracts.factory: %w", err)
	}
	if a.Router, err = ethunit.ParseAddress(c.Contracts.Router); err != nil {
		return a, fmt.Errorf("contracts.router: %w", err)
	}
	return a, nil
}

func (c Config) validateRPCURL() error {
	url := strings.TrimSpace(c.Chain.RPCURL)
	if url == "" {
		return fmt.Errorf("chain.rpc_url required (set RPC_WS_URL or RPC_URL in .env)")
	}
	if !strings.HasPrefix(url, "wss") && !strings.HasPrefix(url, "http") {
		return fmt.Errorf("chain.rpc_url must be wss://... or http(s)://..., got %q", url)
	}
	if strings.Contains(url, "YOUR_KEY") {
		return fmt.Errorf("chain.rpc_url still contains placeholder YOUR_KEY")
	}
	return nil
}

func setString(dst *string, keys ...string) {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			*dst = v
			return
		}
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint32(dst *uint32, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			*dst = uint32(n)
		}
	}
}

func setBool(dst *bool, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
