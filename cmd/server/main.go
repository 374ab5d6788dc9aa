package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"

	"github.com/omochice/linechat/internal/config"
	"github.com/omochice/linechat/internal/metrics"
	"github.com/omochice/linechat/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "~/.config/linechat/server.toml", "Path to the TOML config file")
	addr := flag.String("addr", "", "Address to listen on for both TCP and WebSocket (overrides config)")
	metricsAddr := flag.String("metrics-addr", "", "Address for the /metrics endpoint (overrides config)")
	noMetrics := flag.Bool("no-metrics", false, "Disable the metrics endpoint")
	debug := flag.Bool("debug", false, "Log every frame")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Address = *addr
	}
	if *metricsAddr != "" {
		cfg.Server.MetricsAddress = *metricsAddr
	}
	if *noMetrics {
		cfg.Server.MetricsAddress = ""
	}

	server.SetDebug(*debug)

	srv := server.New(cfg, metrics.New())
	if err := srv.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"chat-server": func(ctx context.Context) error {
				log.Println("Shutting down...")
				return srv.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	os.Exit(exitCode)
}
