// Command mockapi serves the AreaHood REST API from memory for local
// development of the client stores.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"areahood/internal/config"
	"areahood/internal/mockapi"
	"areahood/internal/observability"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	observability.SetupLogging(os.Stdout, cfg.LogLevel, cfg.Env)

	srv, err := mockapi.FromConfig(cfg)
	if err != nil {
		log.Fatalf("Failed to create mock API: %v", err)
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down mock API...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	if err := srv.Listen(":" + cfg.MockPort); err != nil {
		log.Fatalf("Mock API stopped: %v", err)
	}
}
