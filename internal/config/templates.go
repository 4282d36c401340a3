package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "link":
		return linkTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const linkTemplate = `spacecraft_id = 291
start_sequence_length = 2
verify_crc = true
listen_addr = ":10025"
admin_addr = ":9400"
cors_origins = ["http://localhost:3000"]
store_slots = 64
queue_depth = 32

[[virtual_channels]]
vcid = 0
window_width = 10

  [[virtual_channels.maps]]
  map_id = 0
  destination = 0x00000100

  [[virtual_channels.maps]]
  map_id = 1
  destination = 0x00000101

[[virtual_channels]]
vcid = 3
window_width = 20

  [[virtual_channels.maps]]
  map_id = 0
  destination = 0x00000300
`
