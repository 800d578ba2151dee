// Command server runs the review API together with the moderation scheduler.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"commentguard/internal/bootstrap"
	"commentguard/internal/config"
	"commentguard/internal/server"
)

func main() {
	seedDemo := flag.Bool("seed-demo", false, "Seed demo accounts into an empty database (development only)")
	noScheduler := flag.Bool("no-scheduler", false, "Serve the API without running scheduled sync jobs")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *seedDemo && cfg.IsProduction() {
		log.Fatal("-seed-demo is not allowed in production")
	}

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	rt, err := bootstrap.InitRuntime(rootCtx, cfg, bootstrap.Options{ApplySchema: true, SeedDemo: *seedDemo})
	if err != nil {
		log.Fatalf("Failed to initialize runtime: %v", err)
	}

	if !*noScheduler {
		if err := rt.StartScheduler(); err != nil {
			log.Fatalf("Failed to start scheduler: %v", err)
		}
	}

	srv := server.NewServer(cfg, server.Deps{
		DB:          rt.DB,
		Redis:       rt.Redis,
		Accounts:    rt.Accounts,
		Review:      rt.Review,
		Suspicious:  rt.SuspiciousSvc,
		Fraud:       rt.Fraud,
		Worker:      rt.Worker,
		Coordinator: rt.Coordinator,
		Flags:       rt.Flags,
		Hub:         rt.Hub,
		Notifier:    rt.Notifier,
	})

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		stop()
		if err := rt.Close(ctx); err != nil {
			log.Printf("Runtime shutdown error: %v", err)
		}
	}()

	if err := srv.Start(); err != nil {
		log.Fatal(err)
	}
	<-done
}
