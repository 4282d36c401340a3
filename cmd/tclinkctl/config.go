package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/tclink/internal/config"
	"github.com/danmuck/tclink/internal/uplink"
)

type fileConfig struct {
	ID              string   `toml:"id"`
	LinkConfig      string   `toml:"link_config"`
	ListenAddr      string   `toml:"listen_addr"`
	AdminAddr       string   `toml:"admin_addr"`
	CorsOrigins     []string `toml:"cors_origins"`
	Heartbeat       string   `toml:"heartbeat"`
	ReadTimeout     string   `toml:"read_timeout"`
	FrameBacklog    int      `toml:"frame_backlog"`
	RecentPackets   int      `toml:"recent_packets"`
	VerifyCRC       bool     `toml:"verify_crc"`
	StartSeqLength  int      `toml:"start_sequence_length"`
	HeartbeatMillis int64    `toml:"heartbeat_interval_ms"`
	AdminToken      string   `toml:"admin_token"`
}

// loadServiceConfig layers process settings from path onto the service
// defaults. link_config names the receiver tree and is resolved relative to
// path; the remaining link keys override what it loaded.
func loadServiceConfig(path string) (uplink.ServiceConfig, error) {
	cfg := uplink.DefaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return uplink.ServiceConfig{}, fmt.Errorf("load tclink config: %w", err)
	}

	if meta.IsDefined("id") {
		if id := strings.TrimSpace(raw.ID); id != "" {
			cfg.NodeID = id
		}
	}

	if meta.IsDefined("link_config") {
		linkPath := strings.TrimSpace(raw.LinkConfig)
		if !filepath.IsAbs(linkPath) {
			linkPath = filepath.Join(filepath.Dir(path), linkPath)
		}
		linkCfg, err := config.LoadLinkConfig(linkPath)
		if err != nil {
			return uplink.ServiceConfig{}, err
		}
		cfg.Link = linkCfg
	}

	if meta.IsDefined("listen_addr") {
		cfg.Link.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}

	if meta.IsDefined("admin_addr") {
		cfg.Link.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}

	if meta.IsDefined("cors_origins") {
		cfg.Link.CorsOrigins = raw.CorsOrigins
	}

	if meta.IsDefined("verify_crc") {
		verify := raw.VerifyCRC
		cfg.Link.VerifyCRC = &verify
	}

	if meta.IsDefined("start_sequence_length") {
		cfg.Link.StartSequenceLength = raw.StartSeqLength
	}

	if meta.IsDefined("heartbeat") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Heartbeat))
		if err != nil {
			return uplink.ServiceConfig{}, fmt.Errorf("parse heartbeat: %w", err)
		}
		cfg.HeartbeatInterval = d
	}

	if meta.IsDefined("heartbeat_interval_ms") {
		cfg.HeartbeatInterval = time.Duration(raw.HeartbeatMillis) * time.Millisecond
	}

	if meta.IsDefined("read_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ReadTimeout))
		if err != nil {
			return uplink.ServiceConfig{}, fmt.Errorf("parse read_timeout: %w", err)
		}
		cfg.ReadTimeout = d
	}

	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}

	if meta.IsDefined("frame_backlog") {
		cfg.FrameBacklog = raw.FrameBacklog
	}

	if meta.IsDefined("recent_packets") {
		cfg.RecentPackets = raw.RecentPackets
	}

	return cfg, nil
}
