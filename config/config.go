// Package config loads the agent's configuration from a YAML file or CLI
// flags. Credentials are never part of the file; they come from the
// environment.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the agent's runtime configuration.
type Config struct {
	ExchangeBaseURL string
	QuoteAsset      string
	Watchlist       []string

	MaxRefinementLoops      int
	SmallPortfolioThreshold decimal.Decimal
	SmallPortfolioCap       decimal.Decimal
	LargePortfolioCap       decimal.Decimal
	BalanceTolerance        decimal.Decimal

	DecisionInterval time.Duration

	LLMAPIURL string
	LLMModel  string

	WALDir string

	// WebAddr enables the observation HTTP server when non-empty.
	WebAddr string
}

// configTmp mirrors the YAML shape with decimal fields as strings.
type configTmp struct {
	ExchangeBaseURL string   `yaml:"exchange_base_url,omitempty"`
	QuoteAsset      string   `yaml:"quote_asset,omitempty"`
	Watchlist       []string `yaml:"watchlist,omitempty"`

	MaxRefinementLoops         int    `yaml:"max_refinement_loops,omitempty"`
	SmallPortfolioThresholdStr string `yaml:"small_portfolio_threshold,omitempty"`
	SmallPortfolioCapStr       string `yaml:"small_portfolio_cap,omitempty"`
	LargePortfolioCapStr       string `yaml:"large_portfolio_cap,omitempty"`
	BalanceToleranceStr        string `yaml:"balance_tolerance,omitempty"`

	DecisionInterval time.Duration `yaml:"decision_interval,omitempty"`

	LLMAPIURL string `yaml:"llm_api_url,omitempty"`
	LLMModel  string `yaml:"llm_model,omitempty"`

	WALDir  string `yaml:"wal_dir,omitempty"`
	WebAddr string `yaml:"web_addr,omitempty"`
}

// Defaults applied when the file or flags leave a knob unset.
var defaults = Config{
	QuoteAsset:              "ZUSD",
	Watchlist:               []string{"BTC/USD", "ETH/USD", "SOL/USD"},
	MaxRefinementLoops:      2,
	SmallPortfolioThreshold: decimal.NewFromInt(50),
	SmallPortfolioCap:       decimal.NewFromFloat(0.95),
	LargePortfolioCap:       decimal.NewFromFloat(0.40),
	BalanceTolerance:        decimal.NewFromFloat(0.01),
	DecisionInterval:        1 * time.Hour,
	LLMAPIURL:               "https://api.openai.com/v1/chat/completions",
	LLMModel:                "gpt-4o",
	WALDir:                  "./wal/cycles",
}

// Get loads configuration from --config when given, CLI flags otherwise.
func Get() (Config, error) {
	configPath := flag.String("config", "", "path to yaml config")
	watchlist := flag.String("watchlist", strings.Join(defaults.Watchlist, ","), "comma-separated pairs the agent may trade")
	interval := flag.Duration("interval", defaults.DecisionInterval, "decision cycle interval")
	flag.Parse()

	if *configPath != "" {
		return getYaml(*configPath)
	}

	cfg := defaults
	cfg.DecisionInterval = *interval
	cfg.Watchlist = splitList(*watchlist)
	if len(cfg.Watchlist) == 0 {
		return Config{}, fmt.Errorf("invalid --watchlist provided, --watchlist=%s", *watchlist)
	}
	return cfg, nil
}

func getYaml(path string) (Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var tmp configTmp
	if err := yaml.Unmarshal(f, &tmp); err != nil {
		return Config{}, err
	}

	return fromTmp(tmp)
}

func fromTmp(tmp configTmp) (Config, error) {
	cfg := defaults

	if tmp.ExchangeBaseURL != "" {
		cfg.ExchangeBaseURL = tmp.ExchangeBaseURL
	}
	if tmp.QuoteAsset != "" {
		cfg.QuoteAsset = tmp.QuoteAsset
	}
	if len(tmp.Watchlist) > 0 {
		cfg.Watchlist = tmp.Watchlist
	}
	if tmp.MaxRefinementLoops > 0 {
		cfg.MaxRefinementLoops = tmp.MaxRefinementLoops
	}
	if tmp.DecisionInterval > 0 {
		cfg.DecisionInterval = tmp.DecisionInterval
	}
	if tmp.LLMAPIURL != "" {
		cfg.LLMAPIURL = tmp.LLMAPIURL
	}
	if tmp.LLMModel != "" {
		cfg.LLMModel = tmp.LLMModel
	}
	if tmp.WALDir != "" {
		cfg.WALDir = tmp.WALDir
	}
	if tmp.WebAddr != "" {
		cfg.WebAddr = tmp.WebAddr
	}

	var err error
	if cfg.SmallPortfolioThreshold, err = decimalOrDefault(tmp.SmallPortfolioThresholdStr, defaults.SmallPortfolioThreshold); err != nil {
		return Config{}, fmt.Errorf("incorrect 'small_portfolio_threshold' param in yaml config: %w", err)
	}
	if cfg.SmallPortfolioCap, err = decimalOrDefault(tmp.SmallPortfolioCapStr, defaults.SmallPortfolioCap); err != nil {
		return Config{}, fmt.Errorf("incorrect 'small_portfolio_cap' param in yaml config: %w", err)
	}
	if cfg.LargePortfolioCap, err = decimalOrDefault(tmp.LargePortfolioCapStr, defaults.LargePortfolioCap); err != nil {
		return Config{}, fmt.Errorf("incorrect 'large_portfolio_cap' param in yaml config: %w", err)
	}
	if cfg.BalanceTolerance, err = decimalOrDefault(tmp.BalanceToleranceStr, defaults.BalanceTolerance); err != nil {
		return Config{}, fmt.Errorf("incorrect 'balance_tolerance' param in yaml config: %w", err)
	}

	if cfg.BalanceTolerance.IsNegative() || cfg.BalanceTolerance.GreaterThan(decimal.NewFromInt(1)) {
		return Config{}, fmt.Errorf("balance_tolerance must be within [0,1], got %s", cfg.BalanceTolerance.String())
	}

	return cfg, nil
}

func decimalOrDefault(s string, def decimal.Decimal) (decimal.Decimal, error) {
	if s == "" {
		return def, nil
	}
	return decimal.NewFromString(s)
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
