package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/tclink/internal/observability"
	"github.com/danmuck/tclink/internal/uplink"
	"github.com/rs/zerolog/log"
)

func main() {
	path := flag.String("config", "", "service config path (defaults apply when empty)")
	flag.Parse()

	observability.InitLogger("tclinkctl")

	cfg := uplink.DefaultServiceConfig()
	if *path != "" {
		loaded, err := loadServiceConfig(*path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "tclinkctl: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	svc, err := uplink.NewServiceWithConfig(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tclinkctl: %v\n", err)
		os.Exit(1)
	}
	log.Info().Str("node", cfg.NodeID).Str("listen", cfg.Link.ListenAddr).Str("admin", cfg.Link.AdminAddr).Msg("starting tc receiver")
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "tclinkctl: %v\n", err)
		os.Exit(1)
	}
}
