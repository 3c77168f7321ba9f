// Package config loads drawkeeper configuration files.
//
// A file is CUE or JSON. It is unified with an embedded schema that supplies
// defaults and constraints, validated, decoded, and then overridden from
// DRAWKEEPER_* environment variables.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/joho/godotenv"

	"github.com/roach88/drawkeeper/internal/auction"
	"github.com/roach88/drawkeeper/internal/fixed"
)

//go:embed schema.cue
var schemaSource string

// Config is a decoded configuration file.
type Config struct {
	Auction AuctionSection `json:"auction"`
	Keeper  KeeperSection  `json:"keeper"`
	Pool    PoolSection    `json:"pool"`
	Store   StoreSection   `json:"store"`
	Metrics MetricsSection `json:"metrics"`
	Log     LogSection     `json:"log"`
}

// AuctionSection mirrors auction.Config. Amounts are decimal strings of
// base units and fractions are decimal strings between 0 and 1.
type AuctionSection struct {
	Duration                  string `json:"duration"`
	TargetTime                string `json:"target_time"`
	MaxRewards                string `json:"max_rewards"`
	MaxRetries                int    `json:"max_retries"`
	RemainderRecipient        string `json:"remainder_recipient"`
	InitialTriggerFraction    string `json:"initial_trigger_fraction"`
	InitialCompletionFraction string `json:"initial_completion_fraction"`
}

type KeeperSection struct {
	Enabled   bool   `json:"enabled"`
	Recipient string `json:"recipient,omitempty"`
	Schedule  string `json:"schedule"`
	MinReward string `json:"min_reward"`
}

type PoolSection struct {
	DrawPeriod     string `json:"draw_period"`
	DrawTimeout    string `json:"draw_timeout,omitempty"`
	FirstClose     string `json:"first_close,omitempty"`
	InitialReserve string `json:"initial_reserve"`
	Inflow         string `json:"inflow"`
	TickInterval   string `json:"tick_interval"`
}

type StoreSection struct {
	Path string `json:"path"`
}

type MetricsSection struct {
	Addr string `json:"addr"`
}

type LogSection struct {
	Level string `json:"level"`
	JSON  bool   `json:"json"`
}

// Load reads the file at path, applies environment overrides and validates
// the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data, path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes CUE or JSON source against the schema. filename is used in
// error positions only.
func Parse(data []byte, filename string) (*Config, error) {
	ctx := cuecontext.New()
	def, err := schema(ctx)
	if err != nil {
		return nil, err
	}

	file := ctx.CompileBytes(data, cue.Filename(filename))
	if err := file.Err(); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	v := def.Unify(file)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks c against the schema and checks the auction parameters.
// Use it after changing a Config in code.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	def, err := schema(ctx)
	if err != nil {
		return err
	}
	v := def.Unify(ctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	ac, err := c.AuctionConfig()
	if err != nil {
		return err
	}
	pool, _, err := c.PoolSettings()
	if err != nil {
		return err
	}
	if ac.Duration > pool.DrawPeriod {
		return fmt.Errorf("validate config: auction.duration %s exceeds pool.draw_period %s", ac.Duration, pool.DrawPeriod)
	}
	if pool.DrawTimeout < ac.Duration {
		return fmt.Errorf("validate config: pool.draw_timeout %s is shorter than auction.duration %s", pool.DrawTimeout, ac.Duration)
	}
	if c.Keeper.Enabled && c.Keeper.Recipient == "" {
		return errors.New("validate config: keeper.recipient is required when the keeper is enabled")
	}
	return nil
}

func schema(ctx *cue.Context) (cue.Value, error) {
	v := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := v.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("compile config schema: %w", err)
	}
	return v.LookupPath(cue.ParsePath("#Config")), nil
}

// LoadDotEnv loads the given .env files (".env" if none) into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from DRAWKEEPER_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"DRAWKEEPER_REMAINDER_RECIPIENT": &c.Auction.RemainderRecipient,
		"DRAWKEEPER_MAX_REWARDS":         &c.Auction.MaxRewards,
		"DRAWKEEPER_KEEPER_RECIPIENT":    &c.Keeper.Recipient,
		"DRAWKEEPER_KEEPER_SCHEDULE":     &c.Keeper.Schedule,
		"DRAWKEEPER_KEEPER_MIN_REWARD":   &c.Keeper.MinReward,
		"DRAWKEEPER_STORE_PATH":          &c.Store.Path,
		"DRAWKEEPER_METRICS_ADDR":        &c.Metrics.Addr,
		"DRAWKEEPER_LOG_LEVEL":           &c.Log.Level,
	}
	for key, field := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*field = v
		}
	}

	if v, ok := lookup("DRAWKEEPER_MAX_RETRIES"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DRAWKEEPER_MAX_RETRIES: %w", err)
		}
		c.Auction.MaxRetries = n
	}
	if v, ok := lookup("DRAWKEEPER_LOG_JSON"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DRAWKEEPER_LOG_JSON: %w", err)
		}
		c.Log.JSON = b
	}
	return nil
}

// AuctionConfig converts the auction section into a validated auction.Config.
func (c *Config) AuctionConfig() (auction.Config, error) {
	a := c.Auction
	duration, err := time.ParseDuration(a.Duration)
	if err != nil {
		return auction.Config{}, fmt.Errorf("auction.duration: %w", err)
	}
	target, err := time.ParseDuration(a.TargetTime)
	if err != nil {
		return auction.Config{}, fmt.Errorf("auction.target_time: %w", err)
	}
	maxRewards, err := fixed.ParseAmount(a.MaxRewards)
	if err != nil {
		return auction.Config{}, fmt.Errorf("auction.max_rewards: %w", err)
	}
	triggerFraction, err := fixed.ParseFraction(a.InitialTriggerFraction)
	if err != nil {
		return auction.Config{}, fmt.Errorf("auction.initial_trigger_fraction: %w", err)
	}
	completionFraction, err := fixed.ParseFraction(a.InitialCompletionFraction)
	if err != nil {
		return auction.Config{}, fmt.Errorf("auction.initial_completion_fraction: %w", err)
	}
	if !common.IsHexAddress(a.RemainderRecipient) {
		return auction.Config{}, fmt.Errorf("auction.remainder_recipient: invalid address %q", a.RemainderRecipient)
	}

	cfg := auction.Config{
		Duration:                  duration,
		TargetTime:                target,
		MaxRewards:                maxRewards,
		MaxRetries:                a.MaxRetries,
		RemainderRecipient:        common.HexToAddress(a.RemainderRecipient),
		InitialTriggerFraction:    triggerFraction,
		InitialCompletionFraction: completionFraction,
	}
	if err := cfg.Validate(); err != nil {
		return auction.Config{}, err
	}
	return cfg, nil
}

// PoolParams are the simulation parameters of the in-memory work pool.
type PoolParams struct {
	DrawPeriod   time.Duration
	DrawTimeout  time.Duration
	TickInterval time.Duration
	Reserve      *uint256.Int
	Inflow       *uint256.Int
}

// PoolSettings parses the pool section. firstClose is zero when unset; the
// caller then picks one relative to its clock.
func (c *Config) PoolSettings() (PoolParams, time.Time, error) {
	p := c.Pool
	var out PoolParams
	var err error
	if out.DrawPeriod, err = time.ParseDuration(p.DrawPeriod); err != nil {
		return PoolParams{}, time.Time{}, fmt.Errorf("pool.draw_period: %w", err)
	}
	if out.DrawPeriod <= 0 {
		return PoolParams{}, time.Time{}, fmt.Errorf("pool.draw_period must be positive, got %s", out.DrawPeriod)
	}
	out.DrawTimeout = out.DrawPeriod
	if p.DrawTimeout != "" {
		if out.DrawTimeout, err = time.ParseDuration(p.DrawTimeout); err != nil {
			return PoolParams{}, time.Time{}, fmt.Errorf("pool.draw_timeout: %w", err)
		}
	}
	if out.TickInterval, err = time.ParseDuration(p.TickInterval); err != nil {
		return PoolParams{}, time.Time{}, fmt.Errorf("pool.tick_interval: %w", err)
	}
	if out.Reserve, err = fixed.ParseAmount(p.InitialReserve); err != nil {
		return PoolParams{}, time.Time{}, fmt.Errorf("pool.initial_reserve: %w", err)
	}
	if out.Inflow, err = fixed.ParseAmount(p.Inflow); err != nil {
		return PoolParams{}, time.Time{}, fmt.Errorf("pool.inflow: %w", err)
	}

	var firstClose time.Time
	if p.FirstClose != "" {
		if firstClose, err = time.Parse(time.RFC3339, p.FirstClose); err != nil {
			return PoolParams{}, time.Time{}, fmt.Errorf("pool.first_close: %w", err)
		}
	}
	return out, firstClose, nil
}

// KeeperRecipient returns the keeper's reward address.
func (c *Config) KeeperRecipient() (common.Address, error) {
	if !common.IsHexAddress(c.Keeper.Recipient) {
		return common.Address{}, fmt.Errorf("keeper.recipient: invalid address %q", c.Keeper.Recipient)
	}
	return common.HexToAddress(c.Keeper.Recipient), nil
}

// KeeperMinReward returns the keeper's minimum reward.
func (c *Config) KeeperMinReward() (*uint256.Int, error) {
	v, err := fixed.ParseAmount(c.Keeper.MinReward)
	if err != nil {
		return nil, fmt.Errorf("keeper.min_reward: %w", err)
	}
	return v, nil
}
