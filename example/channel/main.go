package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghalamif/uabridge"
)

func main() {
	cfg, err := uabridge.LoadConfig("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	pub, batches, closeBatches := uabridge.NewChannelPublisher("relay", 32)
	defer closeBatches()

	go relayWorker("relay", batches)

	rt, err := uabridge.NewRuntime(cfg, uabridge.WithPublisher(pub))
	if err != nil {
		log.Fatalf("build runtime: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Run(ctx); err != nil {
		log.Fatalf("runtime error: %v", err)
	}
}

func relayWorker(name string, batches <-chan []uabridge.Message) {
	for batch := range batches {
		for _, msg := range batch {
			payload, err := msg.EncodePayload()
			if err != nil {
				continue
			}
			fmt.Printf("[%s] %s %s %s\n", name, time.Now().Format(time.RFC3339), msg.Topic, payload)
		}
	}
}
