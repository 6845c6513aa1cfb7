// Command devserver runs the development backend that feedwatch and the
// integration tests talk to.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"discussify/internal/config"
	"discussify/internal/middleware"
	"discussify/internal/observability"
	"discussify/internal/seed"
	"discussify/internal/server"
)

func main() {
	mintFor := flag.String("mint-token", "", "Print a token for this user ID and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "Lifetime of minted tokens")
	seedPosts := flag.Int("seed", 0, "Generate this many posts per community before serving")
	seedUsers := flag.Int("seed-users", 8, "Number of users to generate when seeding")
	seedCommunities := flag.Int("seed-communities", 3, "Number of communities to generate when seeding")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	observability.SetLevel(cfg.LogLevel)

	if *mintFor != "" {
		token, err := middleware.MintToken(cfg.JWTSecret, *mintFor, *tokenTTL)
		if err != nil {
			log.Fatalf("Failed to mint token: %v", err)
		}
		fmt.Println(token)
		return
	}

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:  "discussify-devserver",
		Environment:  cfg.Env,
		Enabled:      cfg.TracingEnabled,
		Exporter:     cfg.TracingExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplerRatio: 1,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	// Create server with dependency injection
	srv, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	if *seedPosts > 0 {
		users, communities, posts, comments := srv.Repositories()
		summary, err := seed.New(users, communities, posts, comments, seed.Options{
			Users:             *seedUsers,
			Communities:       *seedCommunities,
			PostsPerCommunity: *seedPosts,
			MaxComments:       5,
		}).Run(context.Background())
		if err != nil {
			log.Fatalf("Seeding failed: %v", err)
		}
		log.Printf("Seeded communities %v", summary.CommunityIDs)
	}

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		if err := shutdownTracing(ctx); err != nil {
			log.Printf("Tracing shutdown error: %v", err)
		}
	}()

	if err := srv.Start(); err != nil {
		log.Fatalf("Server stopped: %v", err)
	}
	<-stopped
}
