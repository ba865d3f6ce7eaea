package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GriffinCanCode/lobbyshell/internal/infrastructure/config"
	"github.com/GriffinCanCode/lobbyshell/internal/infrastructure/server"
)

func main() {
	// Flags override environment
	port := flag.String("port", "", "Server port")
	controlURL := flag.String("control", "", "Control server base URL")
	noControl := flag.Bool("no-control", false, "Disable the control server integration")
	profile := flag.String("profile", "", "Automation profile (YAML)")
	dev := flag.Bool("dev", false, "Development logging")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *controlURL != "" {
		cfg.Control.URL = *controlURL
	}
	if *noControl {
		cfg.Control.Enabled = false
	}
	if *profile != "" {
		cfg.Automation.ProfilePath = *profile
	}
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Run(); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-sigChan:
		log.Println("Shutting down gracefully...")
	case err := <-errChan:
		log.Printf("Server error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
}
