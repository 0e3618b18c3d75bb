package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghalamif/uabridge/pkg/uabridge"
)

func main() {
	cfg, err := uabridge.LoadConfig("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	callback := func(batch []uabridge.Message) error {
		for _, msg := range batch {
			fmt.Printf("%s topic=%s payload=%v\n", time.Now().Format(time.RFC3339Nano), msg.Topic, msg.Payload)
		}
		return nil
	}

	rt, err := uabridge.NewRuntime(cfg,
		uabridge.WithSimulation(time.Second),
		uabridge.WithPublisher(uabridge.NewCallbackPublisher("stdout", callback)),
	)
	if err != nil {
		log.Fatalf("build runtime: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Run(ctx); err != nil {
		log.Fatalf("runtime error: %v", err)
	}
}
