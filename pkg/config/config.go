// Package config loads and validates the tunables every link-layer
// protocol needs: UUID width, enumeration timing, TDM slot geometry, and
// sliding-window buffer sizing. Files are a flat `[node]` INI section of
// scalar settings.
package config

import (
	"fmt"

	"gopkg.in/ini.v1"

	"github.com/sean618/SerialProtocol/pkg/tdm"
	"github.com/sean618/SerialProtocol/pkg/window"
)

// Config carries every parameter named in the wire-format configuration
// table: UUID width, enumeration timing, TDM slot geometry, and the
// sliding-window buffers.
type Config struct {
	UUIDBytes int `ini:"uuid_bytes"`

	MaxTimeBetweenEnumFrames float64 `ini:"max_time_between_enum_frames"`
	FinishedWaitMultiplier   float64 `ini:"finished_wait_multiplier"`

	TimePerNode            float64 `ini:"time_per_node"`
	TimeBetweenSyncPackets float64 `ini:"time_between_sync_packets"`
	TimeForTxToReachRx     float64 `ini:"time_for_tx_to_reach_rx"`
	TimeMargin             float64 `ini:"time_margin"`
	SyncAdjustMode         string  `ini:"sync_adjust_mode"`

	TxDirectBufferSize int     `ini:"tx_direct_buffer_size"`
	TxWindowBufferSize int     `ini:"tx_window_buffer_size"`
	WindowSize         int     `ini:"window_size"`
	WrapTime           float64 `ini:"wrap_time"`
}

// Default returns documented-default parameters suitable for a simulated
// bus running at a human-observable pace.
func Default() Config {
	return Config{
		UUIDBytes:                1,
		MaxTimeBetweenEnumFrames: 0.5,
		FinishedWaitMultiplier:   4,
		TimePerNode:              0.05,
		TimeBetweenSyncPackets:   1.0,
		TimeForTxToReachRx:       0,
		TimeMargin:               0.005,
		SyncAdjustMode:           "midpoint",
		TxDirectBufferSize:       2048,
		TxWindowBufferSize:       16384,
		WindowSize:               16,
		WrapTime:                 0.5,
	}
}

// Load reads path (an INI file with a single [node] section) over
// Default()'s values and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	file, err := ini.Load(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := file.Section("node").MapTo(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the hard protocol limits: an 8-bit, modulo-256
// sequence number only tolerates a window of at most 128 in-flight frames,
// and a UUID must fit the wire's fixed-width field.
func (c Config) Validate() error {
	if c.WindowSize <= 0 || c.WindowSize > window.MaxWindowSize {
		return fmt.Errorf("config: window_size must be in (0, %d], got %d", window.MaxWindowSize, c.WindowSize)
	}
	if c.UUIDBytes < 1 || c.UUIDBytes > 16 {
		return fmt.Errorf("config: uuid_bytes must be in [1, 16], got %d", c.UUIDBytes)
	}
	return nil
}

// AdjustMode resolves the configured sync adjustment strategy.
func (c Config) AdjustMode() tdm.AdjustMode {
	if c.SyncAdjustMode == "direct" {
		return tdm.Direct
	}
	return tdm.Midpoint
}
