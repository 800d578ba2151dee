// Command syncone runs one sync-and-moderate pass for a single account and
// prints the run report. It takes the same account lock as the scheduler.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"commentguard/internal/bootstrap"
	"commentguard/internal/config"
	"commentguard/internal/coordinator"
	"commentguard/internal/service"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	accountID := flag.Uint("account", 0, "Account ID to sync")
	modeFlag := flag.String("mode", string(service.ModeHybrid), "Sync mode: hybrid or deep")
	flag.Parse()

	if *accountID == 0 {
		return fmt.Errorf("usage: syncone -account <id> [-mode hybrid|deep]")
	}
	mode, ok := service.ParseSyncMode(*modeFlag)
	if !ok {
		return fmt.Errorf("unknown mode %q", *modeFlag)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.InitRuntime(ctx, cfg, bootstrap.Options{})
	if err != nil {
		return fmt.Errorf("init runtime: %w", err)
	}
	defer func() {
		if err := rt.Close(context.Background()); err != nil {
			log.Printf("runtime close: %v", err)
		}
	}()

	id := uint(*accountID)
	if _, err := rt.Accounts.GetByID(ctx, id); err != nil {
		return fmt.Errorf("account %d: %w", id, err)
	}

	var report *service.RunReport
	job := coordinator.Job{
		Name:   "sync_" + string(mode),
		Lock:   "sync",
		Weight: coordinator.Heavy,
		Run: func(ctx context.Context, accountID uint) error {
			var err error
			report, err = rt.Worker.RunSync(ctx, accountID, mode)
			return err
		},
	}

	batch, err := rt.Coordinator.TryDispatch(ctx, job, id)
	if errors.Is(err, coordinator.ErrLocked) {
		return fmt.Errorf("account %d is already being synced", id)
	}
	if err != nil {
		return err
	}
	runErr := batch.Wait()

	if report != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	}
	return runErr
}
