package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultListenAddr  = ":10025"
	DefaultAdminAddr   = ":9400"
	DefaultStoreSlots  = 64
	DefaultQueueDepth  = 32
	DefaultWindowWidth = 10
	DefaultSCID        = 291
	maxSpacecraftID    = 0x3ff
	maxChannelID       = 63
)

var ErrInvalidConfig = errors.New("config: invalid")

// DefaultStartSequence prefixes every frame on the default ingest link.
var DefaultStartSequence = []byte{0xeb, 0x90}

// LinkConfig describes one TC receiver: the link layer parameters and the
// virtual channel and MAP channel tree it owns.
type LinkConfig struct {
	SpacecraftID        uint16                 `toml:"spacecraft_id"`
	StartSequenceLength int                    `toml:"start_sequence_length"`
	VerifyCRC           *bool                  `toml:"verify_crc"`
	ListenAddr          string                 `toml:"listen_addr"`
	AdminAddr           string                 `toml:"admin_addr"`
	CorsOrigins         []string               `toml:"cors_origins"`
	StoreSlots          int                    `toml:"store_slots"`
	QueueDepth          int                    `toml:"queue_depth"`
	VirtualChannels     []VirtualChannelConfig `toml:"virtual_channels"`
}

type VirtualChannelConfig struct {
	VCID        uint8       `toml:"vcid"`
	WindowWidth uint8       `toml:"window_width"`
	Maps        []MapConfig `toml:"maps"`
}

type MapConfig struct {
	MapID       uint8  `toml:"map_id"`
	Destination uint32 `toml:"destination"`
}

// CRCEnabled reports whether FECF verification is on. It defaults to true.
func (c LinkConfig) CRCEnabled() bool {
	return c.VerifyCRC == nil || *c.VerifyCRC
}

func LoadLinkConfig(path string) (LinkConfig, error) {
	var cfg LinkConfig
	if err := loadToml(path, &cfg); err != nil {
		return LinkConfig{}, err
	}
	cfg = ApplyLinkDefaults(cfg)
	if err := ValidateLinkConfig(cfg); err != nil {
		return LinkConfig{}, err
	}
	return cfg, nil
}

// ParseLinkConfig decodes and validates an in-memory TOML document.
func ParseLinkConfig(data []byte) (LinkConfig, error) {
	var cfg LinkConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return LinkConfig{}, fmt.Errorf("config parse failed: %w", err)
	}
	cfg = ApplyLinkDefaults(cfg)
	if err := ValidateLinkConfig(cfg); err != nil {
		return LinkConfig{}, err
	}
	return cfg, nil
}

func ApplyLinkDefaults(cfg LinkConfig) LinkConfig {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if strings.TrimSpace(cfg.AdminAddr) == "" {
		cfg.AdminAddr = DefaultAdminAddr
	}
	if cfg.StoreSlots == 0 {
		cfg.StoreSlots = DefaultStoreSlots
	}
	if cfg.QueueDepth == 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	for i := range cfg.VirtualChannels {
		if cfg.VirtualChannels[i].WindowWidth == 0 {
			cfg.VirtualChannels[i].WindowWidth = DefaultWindowWidth
		}
	}
	return cfg
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateLinkConfig(cfg LinkConfig) error {
	if cfg.SpacecraftID > maxSpacecraftID {
		return fmt.Errorf("%w: spacecraft_id %d exceeds 10 bits", ErrInvalidConfig, cfg.SpacecraftID)
	}
	if cfg.StartSequenceLength < 0 {
		return fmt.Errorf("%w: start_sequence_length must not be negative", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("%w: listen_addr is required", ErrInvalidConfig)
	}
	if cfg.StoreSlots < 1 || cfg.QueueDepth < 1 {
		return fmt.Errorf("%w: store_slots and queue_depth must be positive", ErrInvalidConfig)
	}
	if cfg.StoreSlots < cfg.QueueDepth {
		return fmt.Errorf("%w: store_slots %d below queue_depth %d", ErrInvalidConfig, cfg.StoreSlots, cfg.QueueDepth)
	}
	if len(cfg.VirtualChannels) == 0 {
		return fmt.Errorf("%w: at least one virtual channel is required", ErrInvalidConfig)
	}
	seen := make(map[uint8]struct{}, len(cfg.VirtualChannels))
	for i, vc := range cfg.VirtualChannels {
		if err := ValidateVirtualChannel(vc); err != nil {
			return fmt.Errorf("virtual_channels[%d] invalid: %w", i, err)
		}
		if _, ok := seen[vc.VCID]; ok {
			return fmt.Errorf("virtual_channels[%d] invalid: %w: duplicate vcid %d", i, ErrInvalidConfig, vc.VCID)
		}
		seen[vc.VCID] = struct{}{}
	}
	return nil
}

func ValidateVirtualChannel(vc VirtualChannelConfig) error {
	if vc.VCID > maxChannelID {
		return fmt.Errorf("%w: vcid %d out of range", ErrInvalidConfig, vc.VCID)
	}
	if vc.WindowWidth < 2 || vc.WindowWidth > 254 || vc.WindowWidth%2 != 0 {
		return fmt.Errorf("%w: window_width %d must be even and within 2..254", ErrInvalidConfig, vc.WindowWidth)
	}
	seen := make(map[uint8]struct{}, len(vc.Maps))
	for _, m := range vc.Maps {
		if m.MapID > maxChannelID {
			return fmt.Errorf("%w: map_id %d out of range", ErrInvalidConfig, m.MapID)
		}
		if _, ok := seen[m.MapID]; ok {
			return fmt.Errorf("%w: duplicate map_id %d", ErrInvalidConfig, m.MapID)
		}
		seen[m.MapID] = struct{}{}
	}
	return nil
}
