// Package config loads the ambient settings shared by the ipload compiler,
// the iplock block tool, and the ipwall daemon: rule/ip-list search paths,
// logging, the bus endpoint, and the persistence path. This is distinct
// from internal/ruleconf, which parses the domain-specific rule language
// itself.
package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the ambient configuration shared by all three binaries.
type Config struct {
	// RulesPath is the colon-separated list of rule directories (spec §6).
	RulesPath string
	// IPListsPath is the colon-separated list of ip-list directories (spec §6).
	IPListsPath string

	// LogLevel / LogFormat configure internal/logger.
	LogLevel  string
	LogFormat string

	// BusAddress is the ipwall message-bus listen/dial address.
	BusAddress string
	// BusToken authenticates bus peers (replaces the teacher's JWT bearer
	// scheme; see DESIGN.md).
	BusToken string

	// StatePath is the sqlite file backing the daemon's block collection.
	StatePath string
	// RunDir holds the boot-flag files (basic/firewall/default, network.status).
	RunDir string

	// MetricsAddress, if non-empty, exposes Prometheus metrics on this
	// loopback address (e.g. "127.0.0.1:9141").
	MetricsAddress string

	// AllowedSets is the set of ipset names the `iplock --set` option may
	// target (spec §6, CLI surface (block tool)).
	AllowedSets []string

	// SchemesDir holds the block-tool scheme files (internal/scheme).
	SchemesDir string
}

const (
	defaultRulesPath   = "/usr/share/iplock/ipload:/etc/iplock/ipload"
	defaultIPListsPath = "/usr/share/iplock/ip-list:/var/lib/iplock/ip-list:/etc/iplock/ip-list"
	defaultRunDir      = "/run/iplock"
	defaultStatePath   = "/var/lib/iplock/blocks.sqlite"
	defaultBusAddress  = "127.0.0.1:9031"
	defaultSchemesDir  = "/etc/iplock/schemes"
)

// Load reads configuration from environment variables with the defaults
// spec §6 prescribes, the way the teacher's config.Load does for its own
// settings.
func Load() (*Config, error) {
	// Load .env file if present; never overrides an existing env var.
	_ = godotenv.Load()

	cfg := &Config{
		RulesPath:      getEnv("IPLOAD_RULES_PATH", defaultRulesPath),
		IPListsPath:    getEnv("IPLOAD_IP_LISTS_PATH", defaultIPListsPath),
		LogLevel:       getEnv("IPLOCK_LOG_LEVEL", "info"),
		LogFormat:      getEnv("IPLOCK_LOG_FORMAT", "text"),
		BusAddress:     getEnv("IPWALL_BUS_ADDRESS", defaultBusAddress),
		BusToken:       getEnv("IPWALL_BUS_TOKEN", ""),
		StatePath:      getEnv("IPWALL_STATE_PATH", defaultStatePath),
		RunDir:         getEnv("IPLOCK_RUN_DIR", defaultRunDir),
		MetricsAddress: getEnv("IPWALL_METRICS_ADDRESS", ""),
		SchemesDir:     getEnv("IPLOCK_SCHEMES_DIR", defaultSchemesDir),
	}

	if sets := getEnv("IPLOCK_ALLOWED_SETS", ""); sets != "" {
		for _, s := range strings.Split(sets, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				cfg.AllowedSets = append(cfg.AllowedSets, s)
			}
		}
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
