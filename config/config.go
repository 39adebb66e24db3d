// Package config defines the recognized configuration surface and its
// defaults, with optional loading from a file or environment via viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config carries every recognized option.
type Config struct {
	Mesh    MeshConfig    `mapstructure:"mesh"`
	Outbox  OutboxConfig  `mapstructure:"outbox"`
	Bloom   BloomConfig   `mapstructure:"bloom"`
	Gossip  GossipConfig  `mapstructure:"gossip"`
	Overlay OverlayConfig `mapstructure:"overlay"`
	Pow     PowConfig     `mapstructure:"pow"`
	Policy  PolicyConfig  `mapstructure:"policy"`
}

// MeshConfig tunes the radio-facing layer.
type MeshConfig struct {
	FragmentSize          int   `mapstructure:"fragmentSize"`
	TTLDefault            uint8 `mapstructure:"ttlDefault"`
	MaxInFlightAssemblies int   `mapstructure:"maxInFlightAssemblies"`
}

// OutboxConfig bounds the deferred-send queues.
type OutboxConfig struct {
	CapPerPeer int `mapstructure:"capPerPeer"`
}

// BloomConfig sizes the rotating seen-set filter.
type BloomConfig struct {
	MaxBytes  int     `mapstructure:"maxBytes"`
	TargetFpr float64 `mapstructure:"targetFpr"`
}

// GossipConfig sets the anti-entropy cadence.
type GossipConfig struct {
	PeriodSeconds int `mapstructure:"periodSeconds"`
}

// OverlayConfig locates the embedded proxy and sizes relay fan-out.
type OverlayConfig struct {
	SocksHost            string `mapstructure:"socksHost"`
	SocksPort            uint16 `mapstructure:"socksPort"`
	ControlPort          uint16 `mapstructure:"controlPort"`
	RelayCountPerGeohash int    `mapstructure:"relayCountPerGeohash"`
}

// PowConfig is the difficulty schedule over geohash precision.
type PowConfig struct {
	BitsCoarse int `mapstructure:"bitsCoarse"` // precision <= 5
	BitsMid    int `mapstructure:"bitsMid"`    // precision == 6
	BitsFine   int `mapstructure:"bitsFine"`   // precision >= 7
}

// PolicyConfig holds the fail-closed switch.
type PolicyConfig struct {
	FailClosed bool `mapstructure:"failClosed"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Mesh: MeshConfig{
			FragmentSize:          469,
			TTLDefault:            7,
			MaxInFlightAssemblies: 128,
		},
		Outbox: OutboxConfig{CapPerPeer: 1337},
		Bloom:  BloomConfig{MaxBytes: 256, TargetFpr: 0.01},
		Gossip: GossipConfig{PeriodSeconds: 30},
		Overlay: OverlayConfig{
			SocksHost:            "127.0.0.1",
			SocksPort:            39050,
			ControlPort:          39051,
			RelayCountPerGeohash: 5,
		},
		Pow:    PowConfig{BitsCoarse: 10, BitsMid: 9, BitsFine: 8},
		Policy: PolicyConfig{FailClosed: true},
	}
}

// RequiredPowBits maps a geohash precision onto the configured schedule.
func (c *Config) RequiredPowBits(geohashLen int) int {
	switch {
	case geohashLen <= 5:
		return c.Pow.BitsCoarse
	case geohashLen == 6:
		return c.Pow.BitsMid
	default:
		return c.Pow.BitsFine
	}
}

// Validate rejects configurations the core cannot run with.
func (c *Config) Validate() error {
	if c.Mesh.FragmentSize <= 0 {
		return fmt.Errorf("mesh.fragmentSize must be positive, got %d", c.Mesh.FragmentSize)
	}
	if c.Bloom.MaxBytes <= 0 {
		return fmt.Errorf("bloom.maxBytes must be positive, got %d", c.Bloom.MaxBytes)
	}
	if c.Bloom.TargetFpr <= 0 || c.Bloom.TargetFpr >= 1 {
		return fmt.Errorf("bloom.targetFpr must be in (0,1), got %f", c.Bloom.TargetFpr)
	}
	if c.Gossip.PeriodSeconds <= 0 {
		return fmt.Errorf("gossip.periodSeconds must be positive, got %d", c.Gossip.PeriodSeconds)
	}
	if c.Overlay.RelayCountPerGeohash <= 0 {
		return fmt.Errorf("overlay.relayCountPerGeohash must be positive, got %d", c.Overlay.RelayCountPerGeohash)
	}
	return nil
}

// Load reads a config file over the defaults. Environment variables with
// the BITMESH_ prefix override file values (BITMESH_OVERLAY_SOCKSPORT).
// An empty path loads defaults plus environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("bitmesh")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := DefaultConfig()
	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("mesh.fragmentSize", cfg.Mesh.FragmentSize)
	v.SetDefault("mesh.ttlDefault", cfg.Mesh.TTLDefault)
	v.SetDefault("mesh.maxInFlightAssemblies", cfg.Mesh.MaxInFlightAssemblies)
	v.SetDefault("outbox.capPerPeer", cfg.Outbox.CapPerPeer)
	v.SetDefault("bloom.maxBytes", cfg.Bloom.MaxBytes)
	v.SetDefault("bloom.targetFpr", cfg.Bloom.TargetFpr)
	v.SetDefault("gossip.periodSeconds", cfg.Gossip.PeriodSeconds)
	v.SetDefault("overlay.socksHost", cfg.Overlay.SocksHost)
	v.SetDefault("overlay.socksPort", cfg.Overlay.SocksPort)
	v.SetDefault("overlay.controlPort", cfg.Overlay.ControlPort)
	v.SetDefault("overlay.relayCountPerGeohash", cfg.Overlay.RelayCountPerGeohash)
	v.SetDefault("pow.bitsCoarse", cfg.Pow.BitsCoarse)
	v.SetDefault("pow.bitsMid", cfg.Pow.BitsMid)
	v.SetDefault("pow.bitsFine", cfg.Pow.BitsFine)
	v.SetDefault("policy.failClosed", cfg.Policy.FailClosed)
}
