// Command netthrpt is a thin wiring layer over the Client and Listener
// Engines: flag/env parsing and process lifetime only. Argument parsing
// beyond this, and the Reporter's own formatting/printing, are out of scope.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os/signal"
	"syscall"

	"netthrpt/internal/client"
	"netthrpt/internal/flow"
	"netthrpt/internal/listener"
	"netthrpt/internal/report"
	"netthrpt/internal/ring"
	"netthrpt/internal/server"
	"netthrpt/internal/settings"
)

func main() {
	envPath := flag.String("env", ".env", "path to the .env operational-parameter file")
	asClient := flag.Bool("client", false, "run as a Client against -dest; otherwise run a Listener")
	flag.Parse()

	cfg, err := settings.LoadEnv(*envPath)
	if err != nil {
		log.Fatalf("netthrpt: %v", err)
	}
	cfg.Client = *asClient

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := cfg.ToFlowSettings()
	if err != nil {
		log.Fatalf("netthrpt: %v", err)
	}

	if cfg.Client {
		runClient(ctx, s)
		return
	}
	runListener(ctx, cfg, s)
}

func runClient(ctx context.Context, s flow.Settings) {
	log.Printf("client: connecting to %s (%s)", s.Peer, s.Proto)

	conn, elapsed, err := client.Connect(ctx, s)
	if err != nil {
		log.Fatalf("client: %v", err)
	}
	log.Printf("client: connected in %s", elapsed)

	r := ring.New(0)
	go report.NullConsumer(r)

	c := client.New(s, conn, r)
	if err := c.Run(ctx); err != nil {
		log.Printf("client: flow ended: %v", err)
	}
	r.Close()
}

func runListener(ctx context.Context, cfg settings.Config, s flow.Settings) {
	log.Printf("listener: binding %s (%s)", s.Local, s.Proto)

	eng := &listener.Engine{
		Proto:        s.Proto,
		Addr:         s.Local,
		V6:           cfg.V6,
		SingleClient: cfg.SingleClient,
		TimeLimit:    cfg.ListenerTimeout,
		Table:        flow.NewTable(),
		ConnectionReports: func(r report.ConnectionReport) {
			log.Printf("listener: connection %s<-%s connected=%v reason=%q", r.Local, r.Peer, r.Connected, r.Reason)
		},
		ServerFactory: func(fs flow.Settings, conn net.Conn) listener.Server {
			r := ring.New(0)
			go report.NullConsumer(r)
			return server.New(fs, conn, r)
		},
		ClientFactory: func(ctx context.Context, fs flow.Settings, conn net.Conn) error {
			r := ring.New(0)
			go report.NullConsumer(r)
			return client.New(fs, conn, r).Run(ctx)
		},
	}

	if err := eng.Run(ctx); err != nil {
		log.Fatalf("listener: %v", err)
	}
}
