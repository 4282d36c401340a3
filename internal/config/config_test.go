package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/tclink/internal/testutil/testlog"
)

func TestLinkTemplateLoads(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "link.toml")
	if err := WriteTemplate(path, "link", false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if err := WriteTemplate(path, "link", false); err == nil {
		t.Fatalf("expected refusal to overwrite existing config")
	}
	cfg, err := LoadLinkConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SpacecraftID != 291 || cfg.StartSequenceLength != 2 || !cfg.CRCEnabled() {
		t.Fatalf("unexpected link fields: %+v", cfg)
	}
	if len(cfg.VirtualChannels) != 2 || len(cfg.VirtualChannels[0].Maps) != 2 {
		t.Fatalf("unexpected channel tree: %+v", cfg.VirtualChannels)
	}
	if cfg.VirtualChannels[1].Maps[0].Destination != 0x300 {
		t.Fatalf("unexpected destination: %#x", cfg.VirtualChannels[1].Maps[0].Destination)
	}
	testlog.Logf("config/link: template loaded with %d virtual channels", len(cfg.VirtualChannels))
}

func TestUnknownTemplateKind(t *testing.T) {
	if _, err := Template("ghost"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestParseLinkConfigDefaults(t *testing.T) {
	cfg, err := ParseLinkConfig([]byte("spacecraft_id = 5\n[[virtual_channels]]\nvcid = 1\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.ListenAddr != DefaultListenAddr || cfg.AdminAddr != DefaultAdminAddr {
		t.Fatalf("addr defaults not applied: %+v", cfg)
	}
	if cfg.StoreSlots != DefaultStoreSlots || cfg.QueueDepth != DefaultQueueDepth {
		t.Fatalf("store defaults not applied: %+v", cfg)
	}
	if cfg.VirtualChannels[0].WindowWidth != DefaultWindowWidth || !cfg.CRCEnabled() {
		t.Fatalf("channel defaults not applied: %+v", cfg.VirtualChannels[0])
	}
}

func TestVerifyCRCCanBeDisabled(t *testing.T) {
	cfg, err := ParseLinkConfig([]byte("verify_crc = false\n[[virtual_channels]]\nvcid = 1\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.CRCEnabled() {
		t.Fatalf("expected crc disabled")
	}
}

func TestValidateLinkConfig(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{name: "no channels", doc: "spacecraft_id = 1\n"},
		{name: "scid too large", doc: "spacecraft_id = 1024\n[[virtual_channels]]\nvcid = 1\n"},
		{name: "vcid range", doc: "[[virtual_channels]]\nvcid = 64\n"},
		{name: "odd window", doc: "[[virtual_channels]]\nvcid = 1\nwindow_width = 7\n"},
		{name: "window too wide", doc: "[[virtual_channels]]\nvcid = 1\nwindow_width = 255\n"},
		{name: "duplicate vcid", doc: "[[virtual_channels]]\nvcid = 1\n[[virtual_channels]]\nvcid = 1\n"},
		{name: "duplicate map", doc: "[[virtual_channels]]\nvcid = 1\n[[virtual_channels.maps]]\nmap_id = 2\n[[virtual_channels.maps]]\nmap_id = 2\n"},
		{name: "map range", doc: "[[virtual_channels]]\nvcid = 1\n[[virtual_channels.maps]]\nmap_id = 64\n"},
		{name: "store below queue", doc: "store_slots = 4\nqueue_depth = 8\n[[virtual_channels]]\nvcid = 1\n"},
		{name: "negative start sequence", doc: "start_sequence_length = -1\n[[virtual_channels]]\nvcid = 1\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseLinkConfig([]byte(tc.doc)); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestLoadLinkConfigMissingFile(t *testing.T) {
	_, err := LoadLinkConfig(filepath.Join(t.TempDir(), "absent.toml"))
	if err == nil || !errors.Is(err, os.ErrNotExist) || !strings.Contains(err.Error(), "config load failed") {
		t.Fatalf("expected load failure, got %v", err)
	}
}
