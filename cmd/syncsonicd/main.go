// Command syncsonicd is the Sync-Sonic Bluetooth audio hub daemon. It owns
// the BlueZ adapter fleet, the GATT control characteristic, the connection
// FSMs, and the ultrasonic sync cycle, per the reserved-adapter-plus-N
// assignable-adapters model.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/micro-nova/sync-sonic-go/internal/config"
	"github.com/micro-nova/sync-sonic-go/internal/daemon"
)

func main() {
	var (
		debug = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	env := config.LoadEnv()

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		slog.Error("system bus connection failed", "err", err)
		os.Exit(1)
	}
	defer conn.Close()

	sup, err := daemon.New(ctx, conn, env)
	if err != nil {
		slog.Error("daemon initialization failed", "err", err)
		os.Exit(1)
	}

	go func() {
		if err := sup.Start(ctx); err != nil && ctx.Err() == nil {
			slog.Error("daemon stopped unexpectedly", "err", err)
		}
	}()

	slog.Info("syncsonicd running", "reserved_adapter", env.ReservedAdapterName)

	<-ctx.Done()
	slog.Info("shutting down...")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	sup.Shutdown(shutCtx)

	slog.Info("shutdown complete")
}
