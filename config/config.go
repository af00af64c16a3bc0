// Package config loads symphonyd's startup configuration via viper, the way
// the teacher's data_source.go/rpc_server.go load trigger state and source
// configuration: UnmarshalKey into plain structs, with sane defaults when
// the key or file is absent.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// StreamConfig describes one channel's stream setup, as read from the
// config file's "streams" key.
type StreamConfig struct {
	Name             string
	Direction        string // "output" or "input"
	ConversionTarget string
	Device           string
	ChannelNumber    uint16
}

// DeviceConfig describes one ExternalDevice, as read from the "devices" key.
type DeviceConfig struct {
	Name             string
	BackgroundVolts  float64
	Flavour          string // "unit-converting" | "coalescing" | "telegraph"
}

// EngineConfig is the top-level configuration symphonyd reads at startup.
type EngineConfig struct {
	SampleRateHz    float64
	ProcessInterval time.Duration
	RPCPort         int
	HeartbeatPort   int
	EpochPort       int
	Devices         []DeviceConfig
	Streams         []StreamConfig
}

// DefaultEngineConfig matches the values a fresh SimDriver-backed
// development setup should run with.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		SampleRateHz:    10000,
		ProcessInterval: 250 * time.Millisecond,
		RPCPort:         5000,
		HeartbeatPort:   5555,
		EpochPort:       5556,
	}
}

// Load reads configFile (if non-empty) into viper and unmarshals the
// "engine" key, falling back to DefaultEngineConfig for any field the file
// does not set. Mirrors the teacher's "best-effort UnmarshalKey, fall back
// to defaults" pattern in RunRPCServer.
func Load(configFile string) (EngineConfig, error) {
	cfg := DefaultEngineConfig()
	if configFile == "" {
		return cfg, nil
	}
	viper.SetConfigFile(configFile)
	if err := viper.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("symphony/config: reading %s: %w", configFile, err)
	}
	if err := viper.UnmarshalKey("engine", &cfg); err != nil {
		return cfg, fmt.Errorf("symphony/config: unmarshaling engine config: %w", err)
	}
	return cfg, nil
}
