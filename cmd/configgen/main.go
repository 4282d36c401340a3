package main

import (
	"flag"
	"log"

	"github.com/danmuck/tclink/internal/config"
)

func main() {
	kind := flag.String("kind", "link", "config kind: link")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *kind != "link" {
		log.Fatalf("unknown kind: %s", *kind)
	}

	if *validate {
		path := *input
		if path == "" {
			path = "cmd/tclinkctl/link.toml"
		}
		cfg, err := config.LoadLinkConfig(path)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated %s config at %s (scid=%d virtual_channels=%d)", *kind, path, cfg.SpacecraftID, len(cfg.VirtualChannels))
		return
	}

	target := *output
	if target == "" {
		target = "cmd/tclinkctl/link.toml"
	}

	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}
