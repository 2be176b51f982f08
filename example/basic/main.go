package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	recorder "github.com/AUVSL/rosbag-to-csv"
)

func main() {
	flow, err := recorder.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := flow.Run(ctx); err != nil {
		log.Fatalf("recorder exited: %v", err)
	}
}
