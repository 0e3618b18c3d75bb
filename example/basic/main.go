package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/ghalamif/uabridge"
)

func main() {
	cfg, err := uabridge.LoadConfig("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	rt, err := uabridge.NewRuntime(cfg)
	if err != nil {
		log.Fatalf("build runtime: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Run(ctx); err != nil {
		log.Fatalf("bridge exited: %v", err)
	}
}
