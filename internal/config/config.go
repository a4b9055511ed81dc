// Package config provides centralized configuration management.
// This is the SINGLE SOURCE OF TRUTH for simulation and server settings.
//
// Precedence, lowest first: Default*() values, an optional YAML file
// (LoadFile), then environment variables (*FromEnv).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// SIMULATION CONFIGURATION
// =============================================================================

// SimConfig holds the fixed-timestep simulation settings.
// Everything that influences replay determinism lives here.
type SimConfig struct {
	TickRate      int     `yaml:"tick_rate"`      // Ticks per second (fixed timestep)
	Seed          int64   `yaml:"seed"`           // RNG seed; 0 picks one at startup
	Width         float64 `yaml:"width"`          // Play field width in world units
	Height        float64 `yaml:"height"`         // Play field height in world units
	CellSize      float64 `yaml:"cell_size"`      // Bucket grid cell size
	CullMargin    float64 `yaml:"cull_margin"`    // Bullets this far outside the field expire; negative disables
	GrazeRadius   float64 `yaml:"graze_radius"`   // Graze reach beyond the player hit radius; 0 disables
	LaserRecovery float64 `yaml:"laser_recovery"` // Fraction of the missing length a truncated laser regains per tick
	CullLifetime  float64 `yaml:"cull_lifetime"`  // Seconds a cancelled bullet stays visible
	PoolCapacity  int     `yaml:"pool_capacity"`  // Initial per-pool slice capacity
}

// DefaultSim returns the default simulation configuration.
func DefaultSim() SimConfig {
	return SimConfig{
		TickRate:      60,
		Width:         640,
		Height:        480,
		CellSize:      32, // ~2x the typical bullet+receiver reach
		CullMargin:    64,
		GrazeRadius:   16,
		LaserRecovery: 0.05,
		CullLifetime:  0.5,
		PoolCapacity:  1024,
	}
}

// SimFromEnv returns simulation configuration with environment variable overrides.
func SimFromEnv() SimConfig {
	cfg := DefaultSim()
	overrideSim(&cfg)
	return cfg
}

func overrideSim(cfg *SimConfig) {
	if v := getEnvInt("SIM_TICK_RATE", 0); v > 0 {
		cfg.TickRate = v
	}
	if v := getEnvInt64("SIM_SEED", 0); v != 0 {
		cfg.Seed = v
	}
	if v := getEnvFloat("SIM_WIDTH", 0); v > 0 {
		cfg.Width = v
	}
	if v := getEnvFloat("SIM_HEIGHT", 0); v > 0 {
		cfg.Height = v
	}
	if v := getEnvFloat("SIM_CELL_SIZE", 0); v > 0 {
		cfg.CellSize = v
	}
	if v := os.Getenv("SIM_CULL_MARGIN"); v != "" {
		cfg.CullMargin = getEnvFloat("SIM_CULL_MARGIN", cfg.CullMargin)
	}
	if v := getEnvFloat("SIM_GRAZE_RADIUS", -1); v >= 0 {
		cfg.GrazeRadius = v
	}
	if v := getEnvFloat("SIM_LASER_RECOVERY", -1); v >= 0 {
		cfg.LaserRecovery = v
	}
	if v := getEnvFloat("SIM_CULL_LIFETIME", -1); v >= 0 {
		cfg.CullLifetime = v
	}
}

// Validate rejects settings the simulation cannot run with.
func (c SimConfig) Validate() error {
	switch {
	case c.TickRate <= 0:
		return fmt.Errorf("tick_rate must be positive, got %d", c.TickRate)
	case c.Width <= 0 || c.Height <= 0:
		return fmt.Errorf("field size must be positive, got %vx%v", c.Width, c.Height)
	case c.CellSize <= 0:
		return fmt.Errorf("cell_size must be positive, got %v", c.CellSize)
	case c.LaserRecovery <= 0 || c.LaserRecovery > 1:
		return fmt.Errorf("laser_recovery must be in (0, 1], got %v", c.LaserRecovery)
	case c.GrazeRadius < 0:
		return fmt.Errorf("graze_radius must not be negative, got %v", c.GrazeRadius)
	}
	return nil
}

// =============================================================================
// GAME RESOURCE LIMITS
// =============================================================================

// ResourceLimits controls DoS protection and performance limits.
type ResourceLimits struct {
	MaxBulletsPerPool  int `yaml:"max_bullets_per_pool"`  // Spawns beyond this are rejected
	MaxPools           int `yaml:"max_pools"`             // Distinct styles alive at once (cull twins included)
	MaxReceivers       int `yaml:"max_receivers"`         // Registered hit receivers
	MaxLasers          int `yaml:"max_lasers"`            // Active lasers
	MaxSpawnPerCommand int `yaml:"max_spawn_per_command"` // Cap on ring/spray counts
	MaxSnapshotBullets int `yaml:"max_snapshot_bullets"`  // Per-pool bullets copied into a snapshot
	CommandQueueSize   int `yaml:"command_queue_size"`    // Capacity of the external command ring
}

// DefaultLimits returns the default resource limits.
func DefaultLimits() ResourceLimits {
	return ResourceLimits{
		MaxBulletsPerPool:  50_000,
		MaxPools:           128,
		MaxReceivers:       64,
		MaxLasers:          64,
		MaxSpawnPerCommand: 512,
		MaxSnapshotBullets: 4096,
		CommandQueueSize:   4096,
	}
}

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	RateLimit      float64  `yaml:"rate_limit"` // Requests per second per IP
	RateBurst      int      `yaml:"rate_burst"`
	SpawnRate      float64  `yaml:"spawn_rate"`  // Bullets per second one IP may spawn; 0 is unlimited
	SnapshotHz     int      `yaml:"snapshot_hz"` // WebSocket broadcast rate
	AdminToken     string   `yaml:"admin_token"` // Bearer token for mutating routes; empty disables
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port:           3000,
		AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		RateLimit:      10,
		RateBurst:      20,
		SpawnRate:      2000,
		SnapshotHz:     20,
	}
}

// ServerFromEnv returns server configuration with environment variable overrides.
func ServerFromEnv() ServerConfig {
	cfg := DefaultServer()
	overrideServer(&cfg)
	return cfg
}

func overrideServer(cfg *ServerConfig) {
	if p := getEnvInt("PORT", 0); p > 0 {
		cfg.Port = p
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = splitList(origins)
	}
	if v := getEnvFloat("RATE_LIMIT", 0); v > 0 {
		cfg.RateLimit = v
	}
	if v := getEnvInt("RATE_BURST", 0); v > 0 {
		cfg.RateBurst = v
	}
	if v := getEnvFloat("SPAWN_RATE", -1); v >= 0 {
		cfg.SpawnRate = v
	}
	if v := getEnvInt("SNAPSHOT_HZ", 0); v > 0 {
		cfg.SnapshotHz = v
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		cfg.AdminToken = v
	}
}

// =============================================================================
// OBSERVABILITY CONFIGURATION
// =============================================================================

// ObservabilityConfig holds metrics, profiling and event log settings.
type ObservabilityConfig struct {
	DebugPort    int    `yaml:"debug_port"`     // localhost-only pprof + /metrics; 0 disables
	EventLogPath string `yaml:"event_log_path"` // JSONL event log; empty disables
	RecordPath   string `yaml:"record_path"`    // msgpack command recording written on shutdown
}

// DefaultObservability returns the default observability configuration.
func DefaultObservability() ObservabilityConfig {
	return ObservabilityConfig{
		DebugPort: 6060,
	}
}

// ObservabilityFromEnv returns observability configuration with environment variable overrides.
func ObservabilityFromEnv() ObservabilityConfig {
	cfg := DefaultObservability()
	overrideObservability(&cfg)
	return cfg
}

func overrideObservability(cfg *ObservabilityConfig) {
	if v := getEnvInt("DEBUG_PORT", -1); v >= 0 {
		cfg.DebugPort = v
	}
	if v := os.Getenv("EVENT_LOG_PATH"); v != "" {
		cfg.EventLogPath = v
	}
	if v := os.Getenv("RECORD_PATH"); v != "" {
		cfg.RecordPath = v
	}
}

// =============================================================================
// STYLE CATALOG CONFIGURATION
// =============================================================================

// StylesConfig points at the bullet style catalog.
type StylesConfig struct {
	CatalogPath string `yaml:"catalog_path"`
	HotReload   bool   `yaml:"hot_reload"`
}

// DefaultStyles returns the default style catalog configuration.
func DefaultStyles() StylesConfig {
	return StylesConfig{
		CatalogPath: "assets/styles.yaml",
		HotReload:   true,
	}
}

// StylesFromEnv returns style catalog configuration with environment variable overrides.
func StylesFromEnv() StylesConfig {
	cfg := DefaultStyles()
	overrideStyles(&cfg)
	return cfg
}

func overrideStyles(cfg *StylesConfig) {
	if v := os.Getenv("STYLES_PATH"); v != "" {
		cfg.CatalogPath = v
	}
	cfg.HotReload = getEnvBool("STYLES_HOT_RELOAD", cfg.HotReload)
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Sim           SimConfig           `yaml:"sim"`
	Server        ServerConfig        `yaml:"server"`
	Limits        ResourceLimits      `yaml:"limits"`
	Observability ObservabilityConfig `yaml:"observability"`
	Styles        StylesConfig        `yaml:"styles"`
}

// Default returns the complete configuration without any overrides.
func Default() AppConfig {
	return AppConfig{
		Sim:           DefaultSim(),
		Server:        DefaultServer(),
		Limits:        DefaultLimits(),
		Observability: DefaultObservability(),
		Styles:        DefaultStyles(),
	}
}

// Load returns the complete configuration with environment overrides.
func Load() AppConfig {
	cfg := Default()
	applyEnv(&cfg)
	return cfg
}

// LoadFile overlays a YAML file on the defaults, then applies environment
// overrides. Keys missing from the file keep their default values.
func LoadFile(path string) (AppConfig, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	applyEnv(&cfg)
	if err := cfg.Sim.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func applyEnv(cfg *AppConfig) {
	overrideSim(&cfg.Sim)
	overrideServer(&cfg.Server)
	overrideObservability(&cfg.Observability)
	overrideStyles(&cfg.Styles)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
