package main

import (
	"flag"
	"log"

	"go.uber.org/zap"

	"github.com/tuannm99/novaview"
	"github.com/tuannm99/novaview/internal"
	"github.com/tuannm99/novaview/server/changewire"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "Path to the yaml config file")
	flag.Parse()

	cfg, err := internal.LoadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if !cfg.Server.Enabled {
		log.Fatalf("server.enabled is false in %s; nothing to run", *cfgPath)
	}

	eng, err := novaview.Open(*cfgPath)
	if err != nil {
		log.Fatalf("Failed to initialize engine: %v", err)
	}

	zl, err := zap.NewProduction()
	if cfg.Engine.Debug {
		zl, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := changewire.Run(eng, changewire.ServerConfig{Addr: cfg.Server.Addr}, zl.Sugar()); err != nil {
		log.Fatalf("Server exited: %v", err)
	}
}
