package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shelfbot/internal/app"
	"shelfbot/pkg/systemd"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (yaml or json)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfgPath, version)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		stopCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		_ = a.Stop(stopCtx)
		stop()
		os.Exit(1)
	}
	_, _ = systemd.Ready()
	go systemd.Watchdog(ctx, nil)

	exit := 0
	select {
	case <-ctx.Done():
	case <-a.Done():
		if err := a.Err(); err != nil {
			fmt.Println("fatal:", err)
			exit = 1
		}
	}

	_, _ = systemd.Stopping()
	stopCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	_ = a.Stop(stopCtx)
	stop()
	os.Exit(exit)
}
