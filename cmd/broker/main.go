// Command broker runs a standalone telling broker: the routing substrate
// that mediates request/reply, push/pull, and pub/sub between enlisted
// services and the clients that call them.
//
// Configuration Loading Strategy:
// 1. Command line argument: uses the specified config file path
// 2. Default file: attempts to load config/broker.yaml
// 3. Hardcoded defaults: falls back to a TCP base address on :9001
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/telling-msg/telling/internal/broker"
	"github.com/telling-msg/telling/internal/config"
)

func main() {
	var cfg *config.BrokerConfig
	var configSource string

	if len(os.Args) >= 2 {
		configFile := os.Args[1]
		loaded, err := config.LoadBrokerConfig(configFile)
		if err != nil {
			log.Fatalf("failed to load config from %s: %v", configFile, err)
		}
		cfg = loaded
		configSource = fmt.Sprintf("config file: %s", configFile)
	} else if _, err := os.Stat("config/broker.yaml"); err == nil {
		loaded, err := config.LoadBrokerConfig("config/broker.yaml")
		if err != nil {
			log.Printf("warning: config/broker.yaml exists but failed to load: %v", err)
			log.Printf("using hardcoded defaults instead")
			cfg = config.DefaultBrokerConfig()
			configSource = "hardcoded defaults (config/broker.yaml failed to parse)"
		} else {
			cfg = loaded
			configSource = "config/broker.yaml (default)"
		}
	} else {
		cfg = config.DefaultBrokerConfig()
		configSource = "hardcoded defaults"
	}

	log.Printf("starting telling broker using %s", configSource)

	base, err := cfg.Base.Address()
	if err != nil {
		log.Fatalf("invalid base address: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := broker.New(cfg.Debug)
	if err := b.Open(ctx, base); err != nil {
		log.Fatalf("broker open on %s: %v", base, err)
	}
	log.Printf("broker listening on %s", base)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("received signal: %s, shutting down...", sig)
	case <-ctx.Done():
		log.Printf("context cancelled, shutting down...")
	}

	b.Close()
	log.Printf("broker shut down")
}
