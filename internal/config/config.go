// Package config resolves daemon configuration from environment variables,
// an optional .loom/config.toml overlay, and built-in defaults, in that
// order of precedence (env wins, then TOML, then defaults).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds every tunable named in spec §6.4. Field names mirror the
// environment variable names with CamelCase.
type Config struct {
	PollInterval      time.Duration
	IterationTimeout  time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	BackoffThreshold  int

	MaxShepherds  int
	IssueThreshold int
	MaxProposals  int

	ArchitectCooldown time.Duration
	HermitCooldown    time.Duration
	IssueStrategy     string

	RateLimitThreshold int

	HeartbeatStaleThreshold time.Duration
	StuckWarning            time.Duration
	StuckCritical           time.Duration
	StuckAction             string
	PromptStuckThreshold    time.Duration

	CuratorTimeout time.Duration
	BuilderTimeout time.Duration
	JudgeTimeout   time.Duration
	DoctorTimeout  time.Duration

	DoctorMaxRetries int
	StuckMaxRetries  int

	SpawnVerifyTimeout   time.Duration
	StuckSessionThreshold time.Duration
	StaleBuildingMinutes  time.Duration

	// ContractInterval and IdleTimeout drive the worker supervisor's
	// proactive and idle-triggered phase contract checks (spec §4.4).
	ContractInterval time.Duration
	IdleTimeout      time.Duration
}

// Defaults returns the built-in default configuration (spec §6.4).
func Defaults() Config {
	return Config{
		PollInterval:      120 * time.Second,
		IterationTimeout:  300 * time.Second,
		MaxBackoff:        1800 * time.Second,
		BackoffMultiplier: 2,
		BackoffThreshold:  3,

		MaxShepherds:   3,
		IssueThreshold: 3,
		MaxProposals:   5,

		ArchitectCooldown: 1800 * time.Second,
		HermitCooldown:    1800 * time.Second,
		IssueStrategy:     "fifo",

		RateLimitThreshold: 90,

		HeartbeatStaleThreshold: 120 * time.Second,
		StuckWarning:            300 * time.Second,
		StuckCritical:           600 * time.Second,
		StuckAction:             "warn",
		PromptStuckThreshold:    30 * time.Second,

		CuratorTimeout: 300 * time.Second,
		BuilderTimeout: 1800 * time.Second,
		JudgeTimeout:   600 * time.Second,
		DoctorTimeout:  900 * time.Second,

		DoctorMaxRetries: 3,
		StuckMaxRetries:  1,

		SpawnVerifyTimeout:    10 * time.Second,
		StuckSessionThreshold: 300 * time.Second,
		StaleBuildingMinutes:  15 * time.Minute,

		ContractInterval: 90 * time.Second,
		IdleTimeout:      60 * time.Second,
	}
}

// fileOverlay is the schema of .loom/config.toml. Every field is optional;
// absent fields leave the default (or env-derived) value untouched.
type fileOverlay struct {
	PollIntervalSeconds      *int     `toml:"poll_interval_seconds"`
	IterationTimeoutSeconds  *int     `toml:"iteration_timeout_seconds"`
	MaxBackoffSeconds        *int     `toml:"max_backoff_seconds"`
	BackoffMultiplier        *float64 `toml:"backoff_multiplier"`
	BackoffThreshold         *int     `toml:"backoff_threshold"`
	MaxShepherds             *int     `toml:"max_shepherds"`
	IssueThreshold           *int     `toml:"issue_threshold"`
	MaxProposals             *int     `toml:"max_proposals"`
	ArchitectCooldownSeconds *int     `toml:"architect_cooldown_seconds"`
	HermitCooldownSeconds    *int     `toml:"hermit_cooldown_seconds"`
	IssueStrategy            *string  `toml:"issue_strategy"`
	RateLimitThreshold       *int     `toml:"rate_limit_threshold"`
	StuckAction              *string  `toml:"stuck_action"`
	DoctorMaxRetries         *int     `toml:"doctor_max_retries"`
	StuckMaxRetries          *int     `toml:"stuck_max_retries"`
}

// Load resolves the effective configuration for a loom working directory.
// loomDir is the path to the .loom directory (not its parent repo root).
func Load(loomDir string) (Config, error) {
	cfg := Defaults()

	tomlPath := filepath.Join(loomDir, "config.toml")
	if data, err := os.ReadFile(tomlPath); err == nil {
		var overlay fileOverlay
		if _, err := toml.Decode(string(data), &overlay); err != nil {
			return cfg, fmt.Errorf("parsing %s: %w", tomlPath, err)
		}
		applyOverlay(&cfg, overlay)
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("reading %s: %w", tomlPath, err)
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyOverlay(cfg *Config, o fileOverlay) {
	if o.PollIntervalSeconds != nil {
		cfg.PollInterval = time.Duration(*o.PollIntervalSeconds) * time.Second
	}
	if o.IterationTimeoutSeconds != nil {
		cfg.IterationTimeout = time.Duration(*o.IterationTimeoutSeconds) * time.Second
	}
	if o.MaxBackoffSeconds != nil {
		cfg.MaxBackoff = time.Duration(*o.MaxBackoffSeconds) * time.Second
	}
	if o.BackoffMultiplier != nil {
		cfg.BackoffMultiplier = *o.BackoffMultiplier
	}
	if o.BackoffThreshold != nil {
		cfg.BackoffThreshold = *o.BackoffThreshold
	}
	if o.MaxShepherds != nil {
		cfg.MaxShepherds = *o.MaxShepherds
	}
	if o.IssueThreshold != nil {
		cfg.IssueThreshold = *o.IssueThreshold
	}
	if o.MaxProposals != nil {
		cfg.MaxProposals = *o.MaxProposals
	}
	if o.ArchitectCooldownSeconds != nil {
		cfg.ArchitectCooldown = time.Duration(*o.ArchitectCooldownSeconds) * time.Second
	}
	if o.HermitCooldownSeconds != nil {
		cfg.HermitCooldown = time.Duration(*o.HermitCooldownSeconds) * time.Second
	}
	if o.IssueStrategy != nil {
		cfg.IssueStrategy = *o.IssueStrategy
	}
	if o.RateLimitThreshold != nil {
		cfg.RateLimitThreshold = *o.RateLimitThreshold
	}
	if o.StuckAction != nil {
		cfg.StuckAction = *o.StuckAction
	}
	if o.DoctorMaxRetries != nil {
		cfg.DoctorMaxRetries = *o.DoctorMaxRetries
	}
	if o.StuckMaxRetries != nil {
		cfg.StuckMaxRetries = *o.StuckMaxRetries
	}
}

func applyEnv(cfg *Config) {
	envDuration("POLL_INTERVAL", &cfg.PollInterval)
	envDuration("ITERATION_TIMEOUT", &cfg.IterationTimeout)
	envDuration("MAX_BACKOFF", &cfg.MaxBackoff)
	envFloat("BACKOFF_MULTIPLIER", &cfg.BackoffMultiplier)
	envInt("BACKOFF_THRESHOLD", &cfg.BackoffThreshold)

	envInt("MAX_SHEPHERDS", &cfg.MaxShepherds)
	envInt("ISSUE_THRESHOLD", &cfg.IssueThreshold)
	envInt("MAX_PROPOSALS", &cfg.MaxProposals)

	envDuration("ARCHITECT_COOLDOWN", &cfg.ArchitectCooldown)
	envDuration("HERMIT_COOLDOWN", &cfg.HermitCooldown)
	envString("ISSUE_STRATEGY", &cfg.IssueStrategy)

	envInt("RATE_LIMIT_THRESHOLD", &cfg.RateLimitThreshold)

	envDuration("HEARTBEAT_STALE_THRESHOLD", &cfg.HeartbeatStaleThreshold)
	envDuration("STUCK_WARNING", &cfg.StuckWarning)
	envDuration("STUCK_CRITICAL", &cfg.StuckCritical)
	envString("STUCK_ACTION", &cfg.StuckAction)
	envDuration("PROMPT_STUCK_THRESHOLD", &cfg.PromptStuckThreshold)

	envDuration("CURATOR_TIMEOUT", &cfg.CuratorTimeout)
	envDuration("BUILDER_TIMEOUT", &cfg.BuilderTimeout)
	envDuration("JUDGE_TIMEOUT", &cfg.JudgeTimeout)
	envDuration("DOCTOR_TIMEOUT", &cfg.DoctorTimeout)

	envInt("DOCTOR_MAX_RETRIES", &cfg.DoctorMaxRetries)
	envInt("STUCK_MAX_RETRIES", &cfg.StuckMaxRetries)

	envDuration("SPAWN_VERIFY_TIMEOUT", &cfg.SpawnVerifyTimeout)
	envDuration("STUCK_SESSION_THRESHOLD", &cfg.StuckSessionThreshold)

	if v := os.Getenv("STALE_BUILDING_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.StaleBuildingMinutes = time.Duration(n) * time.Minute
		}
	}
}

// envDuration reads env vars expressed in whole seconds (matching spec §6.4's
// plain-integer style) into a time.Duration field.
func envDuration(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return
	}
	*dst = time.Duration(n) * time.Second
}

func envInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func envFloat(key string, dst *float64) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = f
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
