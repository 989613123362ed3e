package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/mmdatafocus/lunchops_backend/config"
	"github.com/mmdatafocus/lunchops_backend/models"
	"github.com/mmdatafocus/lunchops_backend/workflow"
)

// Runs one deadline sweep and exits. Meant for cron-style schedulers when the
// in-process sweeper loop is disabled, and for poking a stuck environment.
func main() {
	migrate := flag.Bool("migrate", false, "Run AutoMigrate before sweeping")
	timezone := flag.String("timezone", "", "Optional: sweep only organizations in this timezone")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	if *migrate {
		models.MigrateTable()
	}

	sweeper := workflow.NewDeadlineSweeper(db, config.GetLogger())
	sessions, err := sweeper.LockExpiredSessions(ctx, *timezone)
	if err != nil {
		fmt.Fprintf(os.Stderr, "session sweep failed: %v\n", err)
		os.Exit(1)
	}
	runs, err := sweeper.LockExpiredQuickRuns(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "quick run sweep failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("locked %d sessions, %d quick runs\n", sessions, runs)
}
