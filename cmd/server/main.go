package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/experiment-monitor/backend/internal/config"
	"github.com/experiment-monitor/backend/internal/frontend"
	"github.com/experiment-monitor/backend/internal/health"
	"github.com/experiment-monitor/backend/internal/mock"
	"github.com/experiment-monitor/backend/internal/session"
	"github.com/experiment-monitor/backend/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override listen port")
	mockMode := flag.Bool("mock", false, "Run a scripted experiment client against the relay")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if errors.Is(err, config.ErrMissingPassword) {
		fmt.Fprintln(os.Stderr, "ERROR: MONITOR_PASSWORD environment variable is required.")
		fmt.Fprintln(os.Stderr, "Start the server with: MONITOR_PASSWORD=yourpassword ./server")
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *port > 0 {
		cfg.Server.Port = *port
	}

	store := session.NewStore()
	hub := ws.NewHub(cfg.Monitor.MaxDashboards, cfg.Monitor.SendBuffer)
	router := ws.NewRouter(store, hub)
	probe := health.NewProbe()

	// Embedded dashboard when built with -tags embed, otherwise the
	// configured directory, otherwise no page route at all.
	staticHandler := frontend.Handler()
	if staticHandler == nil && cfg.Monitor.DashboardDir != "" {
		log.Printf("Serving dashboard from: %s", cfg.Monitor.DashboardDir)
		staticHandler = http.FileServer(http.Dir(cfg.Monitor.DashboardDir))
	}

	server := ws.NewServer(cfg, store, hub, router, probe, staticHandler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *mockMode {
		log.Println("Starting scripted experiment driver")
		mock.NewGenerator(router).Start(ctx)
	}

	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
		os.Exit(0)
	}()

	banner(cfg)

	if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func banner(cfg *config.Config) {
	log.Println("Experiment Progress Monitor Server")
	log.Printf("  Dashboard:  http://localhost:%d", cfg.Server.Port)
	log.Printf("  WebSocket:  ws://localhost:%d/ws", cfg.Server.Port)
	log.Printf("  Connect the experiment with ?monitor=ws://<host>:%d/ws", cfg.Server.Port)
	log.Println("Waiting for connections...")
}
